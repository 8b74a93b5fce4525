package volume

import (
	"crypto/rand"
	"encoding/base32"
	"io"
	"os"
	"path/filepath"

	"github.com/rockup/rockup/project"
	"github.com/rockup/rockup/rockuperr"
)

// CopyVolume is the "copy" layout of spec.md §4.C: a directory named
// by the volume id, holding one file per Stream. Grounded on
// mmp-bk/storage/disk.go's directory-of-files Backend, generalized
// from content-addressed names to either path-derived or obfuscated
// random names per spec.md's design notes.
type CopyVolume struct {
	id                string
	dir               string // repoDir/<id>
	obfuscate         bool
	compressionPolicy project.CompressionPolicy
	dryRun            bool

	isNew    bool
	modified bool

	usedNames map[string]bool
}

var _ project.Volume = (*CopyVolume)(nil)

// NewCopy creates a fresh CopyVolume that does not yet exist on disk.
func NewCopy(repoDir string, cfg project.Config) *CopyVolume {
	id := project.NewVolumeID(project.Copy)
	return &CopyVolume{
		id:                id,
		dir:               filepath.Join(repoDir, id),
		obfuscate:         cfg.Obfuscate,
		compressionPolicy: cfg.CompressionPolicy,
		dryRun:            cfg.DryRun,
		isNew:             true,
		usedNames:         map[string]bool{},
	}
}

// OpenCopy reconstructs a handle onto a CopyVolume already recorded in
// a loaded manifest; it performs no I/O until Reader is called.
func OpenCopy(repoDir, id string, cfg project.Config) *CopyVolume {
	return &CopyVolume{
		id:        id,
		dir:       filepath.Join(repoDir, id),
		obfuscate: cfg.Obfuscate,
		dryRun:    cfg.DryRun,
		usedNames: map[string]bool{},
	}
}

func (v *CopyVolume) Key() string              { return v.id }
func (v *CopyVolume) ID() string               { return v.id }
func (v *CopyVolume) Kind() project.VolumeKind { return project.Copy }
func (v *CopyVolume) IsNew() bool              { return v.isNew }
func (v *CopyVolume) IsModified() bool         { return v.modified }

// randomToken returns a collision-resistant, filesystem-safe name
// unrelated to the source path, per spec.md Open Question 2's
// decision to obfuscate names with random tokens rather than an
// invertible transform (see DESIGN.md).
func randomToken() string {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		rockuperr.Panic("reading random bytes for an obfuscated stream name: %v", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])
}

// allocName picks the on-disk file name for file's stream: the
// source-id/relative-path pair when names aren't obfuscated, or a
// fresh random token, retried until it doesn't collide with a name
// already used in this volume.
func (v *CopyVolume) allocName(file *project.File) string {
	if !v.obfuscate {
		name := filepath.ToSlash(filepath.Join(file.SourceID, file.Path))
		v.usedNames[name] = true
		return name
	}
	for {
		name := randomToken()
		if !v.usedNames[name] {
			v.usedNames[name] = true
			return name
		}
	}
}

func (v *CopyVolume) Stream(file *project.File) (*project.Stream, error) {
	name := v.allocName(file)
	compressor := chooseCompressor(v.compressionPolicy, file.Size, file.Path, name)
	if compressor == project.CompressorGzip {
		// spec.md §4.C/§6: a compressed copy stream's on-disk name
		// carries the compressor extension.
		name += ".gz"
	}
	s := &project.Stream{
		VolumeID:   v.id,
		Kind:       project.Copy,
		Name:       name,
		Compressor: compressor,
	}
	file.AttachStream(s)
	return s, nil
}

func (v *CopyVolume) streamPath(s *project.Stream) string {
	return filepath.Join(v.dir, filepath.FromSlash(s.Name))
}

func (v *CopyVolume) Writer(s *project.Stream) (io.WriteCloser, error) {
	path := v.streamPath(s)

	if v.dryRun {
		v.modified = true
		return &copyWriter{sw: newStreamWriter(io.Discard, s.Compressor, nil), stream: s}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, rockuperr.New(rockuperr.Filesystem, "CopyVolume.Writer", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, rockuperr.New(rockuperr.Filesystem, "CopyVolume.Writer", path, err)
	}
	v.modified = true
	sw := newStreamWriter(f, s.Compressor, f.Close)
	return &copyWriter{sw: sw, stream: s}, nil
}

// copyWriter closes over the Stream so it can record the resulting
// SHA-1 once the caller is done writing.
type copyWriter struct {
	sw     *streamWriter
	stream *project.Stream
}

func (w *copyWriter) Write(p []byte) (int, error) { return w.sw.Write(p) }

func (w *copyWriter) Close() error {
	if err := w.sw.Close(); err != nil {
		return err
	}
	w.stream.SHA1 = w.sw.SHA1()
	return nil
}

func (v *CopyVolume) Reader(s *project.Stream) (io.ReadCloser, error) {
	path := v.streamPath(s)
	f, err := os.Open(path)
	if err != nil {
		return nil, rockuperr.New(rockuperr.Filesystem, "CopyVolume.Reader", path, err)
	}
	return newStreamReader(f, s.Compressor)
}

func (v *CopyVolume) Store() error {
	// Files are written eagerly as their Writers close; nothing left
	// to flush here.
	return nil
}

func (v *CopyVolume) Rollback() error {
	if !v.modified || v.dryRun {
		return nil
	}
	if err := os.RemoveAll(v.dir); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "CopyVolume.Rollback", v.dir, err)
	}
	return nil
}
