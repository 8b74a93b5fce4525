package project

import (
	"io"
	"os"
	"time"

	"github.com/rockup/rockup/identity"
	"github.com/rockup/rockup/rockuperr"
	"github.com/rockup/rockup/util"
)

// VolumeKind distinguishes the two on-disk volume layouts spec.md §3
// describes: a directory of individually-named files ("copy") or one
// concatenated file ("cat").
type VolumeKind int

const (
	Copy VolumeKind = iota
	Cat
)

func (k VolumeKind) String() string {
	if k == Cat {
		return "cat"
	}
	return "copy"
}

// Compressor names the byte-stream transform, if any, a Stream's
// writer applied before the SHA-1 was computed.
type Compressor string

const (
	CompressorNone Compressor = ""
	CompressorGzip Compressor = "gzip"
)

// Stream is one File's byte payload inside a Volume (spec.md §3). It
// belongs to exactly one Volume (identified by VolumeID) and is
// referenced, not owned, by exactly one File.
type Stream struct {
	VolumeID   string
	Kind       VolumeKind
	Name       string // unique within its Volume
	Compressor Compressor
	SHA1       string // hex, of the uncompressed source bytes

	// Cat-only: exclusive byte range within the volume's single file.
	Offset int64
	Size   int64
}

// Volume is the contract the volume package's CopyVolume and CatVolume
// implement (spec.md §4.C). Project only ever sees this interface;
// it has no notion of directories-of-files vs. one concatenated file.
type Volume interface {
	identity.Keyed

	ID() string
	Kind() VolumeKind
	IsNew() bool
	IsModified() bool

	// Stream allocates a new Stream for file's bytes, attaches it to
	// file (rockuperr.ProgrammingError if file already has one), and
	// registers bookkeeping (name/offset uniqueness) inside the
	// Volume. It does not write any bytes.
	Stream(file *File) (*Stream, error)

	// Writer opens a byte sink for a Stream previously returned by
	// Stream. It computes the SHA-1 of the bytes written and applies
	// compression as chosen when Stream was allocated.
	Writer(s *Stream) (io.WriteCloser, error)

	// Reader opens a byte source for a Stream, decompressing if
	// needed.
	Reader(s *Stream) (io.ReadCloser, error)

	// Store commits the volume to disk; a no-op if it was never
	// modified this session (or if the owning Project is in dry-run
	// mode).
	Store() error

	// Rollback removes the on-disk artifact if the volume was
	// modified this session; a no-op otherwise.
	Rollback() error
}

// File is one entry inside a Source: a relative path plus the
// metadata and (for non-empty files) the Stream needed to recover its
// bytes. Identity for registry purposes is the relative path alone
// (spec.md §3).
type File struct {
	// SourceID is a denormalized handle back to the owning Source,
	// needed by copy volumes to build a stream's on-disk path
	// (<source-id>/<relative-path>) without File holding a pointer
	// back to Source (spec.md's design notes: break cycles with
	// string handles, resolved through the Project's registries).
	SourceID string
	Path     string // relative to the Source's root; unique within it
	ModTime  time.Time
	Size     int64
	Mode     os.FileMode
	UID      int
	GID      int
	SHA1     string // hex; only meaningful for Size > 0
	Stream   *Stream

	// live is scan bookkeeping (spec.md §4.A); never serialized.
	live bool
}

// Key implements identity.Keyed.
func (f *File) Key() string { return f.Path }

// MarkLive flags this File as present in the most recent scan.
func (f *File) MarkLive() { f.live = true }

// Live reports whether MarkLive was called since the last ClearLive.
func (f *File) Live() bool { return f.live }

// ClearLive resets the live marker before a new scan pass begins.
func (f *File) ClearLive() { f.live = false }

// AttachStream records that s carries f's bytes. Attaching a second
// Stream to a File that already has one is a programming error
// (spec.md §3, §7): it can only happen if a caller tries to back up
// the same File twice within one session.
func (f *File) AttachStream(s *Stream) {
	if f.Stream != nil {
		rockuperr.Panic("file %q already has a stream in volume %s", f.Path, f.Stream.VolumeID)
	}
	f.Stream = s
}

// Source is a scanned root directory: a stable identifier plus the
// File entries known within it (spec.md §3).
type Source struct {
	ID    string
	Root  string
	Files *identity.Registry[*File]
}

// Key implements identity.Keyed.
func (s *Source) Key() string { return s.ID }

// NewSource creates an empty Source for root, deriving its identifier
// from the root path so that scanning the same root again in a later
// session reuses the same Source identity.
func NewSource(root string) *Source {
	return &Source{
		ID:    HashSourceID(root),
		Root:  root,
		Files: identity.New[*File](),
	}
}

// Manifest is one snapshot's metadata (spec.md §3, §4.D): a session
// UUID, a wall-clock timestamp, and a mapping from Source id to the
// Source's own record (root path plus files).
type Manifest struct {
	ID      string
	Version int
	Session string
	MTime   time.Time
	Sources *identity.Registry[*Source]

	// New is true for a manifest created (not yet stored) this
	// session; Store refuses to overwrite an existing file unless New
	// is true.
	New bool
	// Modified tracks whether Store has actually written anything, so
	// Rollback knows whether there's a file to remove.
	Modified bool
}

// Key implements identity.Keyed.
func (m *Manifest) Key() string { return m.ID }

// Project binds a repository directory to the mutable registries of
// Sources, Volumes, and Manifests built up over one session (spec.md
// §3). It owns no on-disk state directly; volume/manifest packages
// read RepoDir and Config to decide how to persist their own state.
type Project struct {
	RepoDir string
	Config  Config

	Sources   *identity.Registry[*Source]
	Volumes   *identity.Registry[Volume]
	Manifests *identity.Registry[*Manifest]

	Log *util.Logger
}

// New returns an empty Project rooted at repoDir. It validates cfg
// (see Config.Validate) and returns that error if cfg is invalid;
// logger may be nil, in which case diagnostic output is discarded.
func New(repoDir string, cfg Config, logger *util.Logger) (*Project, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = util.Discard()
	}
	return &Project{
		RepoDir:   repoDir,
		Config:    cfg,
		Sources:   identity.New[*Source](),
		Volumes:   identity.New[Volume](),
		Manifests: identity.New[*Manifest](),
		Log:       logger,
	}, nil
}
