// Package rockuperr defines the error kinds shared by every rockup
// component. Every non-programming error the engine returns is one of
// these, so callers can dispatch on Kind with errors.As instead of
// string-matching messages.
package rockuperr

import "fmt"

// Kind classifies why an operation failed.
type Kind int

const (
	// Precondition means the caller asked for something that can never
	// succeed given the current state (bad policy value, restoring into
	// a non-empty directory, a missing repository).
	Precondition Kind = iota
	// Filesystem means an I/O operation against the repository or a
	// source tree failed.
	Filesystem
	// Format means stored data didn't parse the way the manifest
	// protocol requires (bad version, missing session, broken gzip/JSON).
	Format
	// Integrity means a checksum recorded in a manifest didn't match the
	// bytes actually read back.
	Integrity
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "precondition violation"
	case Filesystem:
		return "filesystem error"
	case Format:
		return "format error"
	case Integrity:
		return "integrity error"
	default:
		return "error"
	}
}

// Error is the concrete error type returned by rockup for anything
// other than a programming error (see Programming, below).
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "manifest.Load"
	Path string // the file/repository path involved, if any
	Err  error  // underlying cause, if any
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a Kind equal to e.Kind, so callers can
// write errors.Is(err, rockuperr.Precondition) style checks, or
// errors.As(&e) for the full detail.
func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.Kind == k
	}
	return false
}

// Error lets a bare Kind value be used as an errors.Is target:
// errors.Is(err, rockuperr.Integrity).
func (k Kind) Error() string { return k.String() }

// New builds an *Error. op should be "package.Func" and path may be
// empty when there's no single file/dir the error is about.
func New(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// ProgrammingError indicates a broken invariant in the calling code
// (attaching a second Stream to a File, mutating a loaded read-only
// Volume). Grounded on mmp-bk's log.Fatal/log.Check for "can't
// happen" conditions, but rockup is a library: instead of exiting the
// process, it panics with this type so a test harness or a caller
// wrapping a top-level recover() can distinguish it from ordinary
// failures.
type ProgrammingError struct {
	Msg string
}

func (e ProgrammingError) Error() string { return "programming error: " + e.Msg }

// Panic raises a ProgrammingError built from a printf-style message.
func Panic(format string, args ...interface{}) {
	panic(ProgrammingError{Msg: fmt.Sprintf(format, args...)})
}
