// Package project holds rockup's domain model: the Project session
// object and the Source/File/Stream/Manifest entities it owns, plus
// the Volume contract that the volume package implements. It has no
// knowledge of how volumes or manifests are actually read from or
// written to disk — that lives in the volume, manifest, and scan
// packages, which import project rather than the other way around,
// so the domain model stays free of I/O concerns.
package project

import (
	"fmt"

	"github.com/rockup/rockup/rockuperr"
)

// VolumePolicy controls which kind of Volume new backed-up files are
// routed into. Grounded on spec.md §3's Project configuration and
// §4.E's planning step.
type VolumePolicy int

const (
	VolumeAuto VolumePolicy = iota
	VolumeCopy
	VolumeCat
)

func (p VolumePolicy) String() string {
	switch p {
	case VolumeAuto:
		return "auto"
	case VolumeCopy:
		return "copy"
	case VolumeCat:
		return "cat"
	default:
		return fmt.Sprintf("VolumePolicy(%d)", int(p))
	}
}

// CompressionPolicy controls whether streams get gzip-compressed.
type CompressionPolicy int

const (
	CompressionAuto CompressionPolicy = iota
	CompressionEnforce
	CompressionDisable
)

func (p CompressionPolicy) String() string {
	switch p {
	case CompressionAuto:
		return "auto"
	case CompressionEnforce:
		return "enforce"
	case CompressionDisable:
		return "disable"
	default:
		return fmt.Sprintf("CompressionPolicy(%d)", int(p))
	}
}

// Config is a Project's session-wide policy, set once at construction.
// Grounded on mmp-bk's pattern of small explicit config structs
// (NewDisk(backupDir), NewCompressed(backend)) passed to constructors,
// rather than a global config object or a config-file parser — the
// one in-scope configuration surface named by spec.md §3 is exactly
// these fields.
type Config struct {
	VolumePolicy      VolumePolicy
	CompressionPolicy CompressionPolicy
	// Obfuscate randomizes copy-volume stream file names instead of
	// using the file's own relative path.
	Obfuscate bool
	// DryRun makes every Store/Rollback a no-op across the session
	// (spec.md §6, §7): no mkdir, no write, no unlink.
	DryRun bool
	// ExcludePatterns are gitignore-style patterns tested against each
	// scanned file's root-relative path; a match is left out of the
	// backup entirely (see the scan package's Supplemented exclusion
	// feature).
	ExcludePatterns []string
}

// Validate reports a rockuperr.Precondition error for any policy value
// outside its enum range.
func (c Config) Validate() error {
	switch c.VolumePolicy {
	case VolumeAuto, VolumeCopy, VolumeCat:
	default:
		return rockuperr.New(rockuperr.Precondition, "project.Config.Validate", "",
			fmt.Errorf("invalid volume policy %d", int(c.VolumePolicy)))
	}
	switch c.CompressionPolicy {
	case CompressionAuto, CompressionEnforce, CompressionDisable:
	default:
		return rockuperr.New(rockuperr.Precondition, "project.Config.Validate", "",
			fmt.Errorf("invalid compression policy %d", int(c.CompressionPolicy)))
	}
	return nil
}
