package volume

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rockup/rockup/project"
	"github.com/rockup/rockup/rockuperr"
)

// CatVolume is the "cat" layout of spec.md §4.C: every Stream is a
// byte range appended to a single file named <id> (the id itself
// carries the literal .cat suffix, per project.NewVolumeID). Grounded
// on mmp-bk/storage/packidx.go's writeWorker, which serializes writes
// from many goroutines onto one shared pack file; here there is only
// ever one writer, but the "never close the file until Store" shape
// is the same.
type CatVolume struct {
	id                string
	path              string // repoDir/<id>
	dryRun            bool
	compressionPolicy project.CompressionPolicy

	isNew    bool
	modified bool

	file      *os.File
	offset    int64
	nextIndex int
}

var _ project.Volume = (*CatVolume)(nil)

// NewCat creates a fresh CatVolume that does not yet exist on disk.
func NewCat(repoDir string, cfg project.Config) *CatVolume {
	id := project.NewVolumeID(project.Cat)
	return &CatVolume{
		id:                id,
		path:              filepath.Join(repoDir, id),
		dryRun:            cfg.DryRun,
		compressionPolicy: cfg.CompressionPolicy,
		isNew:             true,
	}
}

// OpenCat reconstructs a handle onto a CatVolume already recorded in a
// loaded manifest; it performs no I/O until Reader is called.
func OpenCat(repoDir, id string, cfg project.Config) *CatVolume {
	return &CatVolume{
		id:     id,
		path:   filepath.Join(repoDir, id),
		dryRun: cfg.DryRun,
	}
}

func (v *CatVolume) Key() string              { return v.id }
func (v *CatVolume) ID() string               { return v.id }
func (v *CatVolume) Kind() project.VolumeKind { return project.Cat }
func (v *CatVolume) IsNew() bool              { return v.isNew }
func (v *CatVolume) IsModified() bool         { return v.modified }

// Stream allocates the next monotonic integer name; Offset is filled
// in when Writer opens (it isn't known until any files already queued
// ahead of it have finished writing).
func (v *CatVolume) Stream(file *project.File) (*project.Stream, error) {
	name := strconv.Itoa(v.nextIndex)
	v.nextIndex++
	s := &project.Stream{
		VolumeID:   v.id,
		Kind:       project.Cat,
		Name:       name,
		Compressor: chooseCompressor(v.compressionPolicy, file.Size, file.Path, name),
	}
	file.AttachStream(s)
	return s, nil
}

func (v *CatVolume) openForAppend() error {
	if v.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(v.path), 0o755); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "CatVolume.Writer", v.path, err)
	}
	f, err := os.OpenFile(v.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return rockuperr.New(rockuperr.Filesystem, "CatVolume.Writer", v.path, err)
	}
	v.file = f
	return nil
}

func (v *CatVolume) Writer(s *project.Stream) (io.WriteCloser, error) {
	s.Offset = v.offset

	if v.dryRun {
		v.modified = true
		cw := &countingWriter{w: io.Discard}
		sw := newStreamWriter(cw, s.Compressor, nil)
		return &catWriter{sw: sw, cw: cw, stream: s, vol: v}, nil
	}

	if err := v.openForAppend(); err != nil {
		return nil, err
	}
	v.modified = true
	cw := &countingWriter{w: v.file}
	sw := newStreamWriter(cw, s.Compressor, nil)
	return &catWriter{sw: sw, cw: cw, stream: s, vol: v}, nil
}

// catWriter finalizes the Stream's Size and SHA1, and advances the
// volume's running offset, once the caller closes it. It never closes
// the shared file itself: that happens in CatVolume.Store/Rollback.
type catWriter struct {
	sw     *streamWriter
	cw     *countingWriter
	stream *project.Stream
	vol    *CatVolume
}

func (w *catWriter) Write(p []byte) (int, error) { return w.sw.Write(p) }

func (w *catWriter) Close() error {
	if err := w.sw.Close(); err != nil {
		return err
	}
	w.stream.SHA1 = w.sw.SHA1()
	w.stream.Size = w.cw.n
	w.vol.offset += w.cw.n
	return nil
}

func (v *CatVolume) Reader(s *project.Stream) (io.ReadCloser, error) {
	f, err := os.Open(v.path)
	if err != nil {
		return nil, rockuperr.New(rockuperr.Filesystem, "CatVolume.Reader", v.path, err)
	}
	section := io.NewSectionReader(f, s.Offset, s.Size)
	return newStreamReader(&sectionReadCloser{SectionReader: section, underlying: f}, s.Compressor)
}

// sectionReadCloser adapts an io.SectionReader (which has no Close) to
// io.ReadCloser by closing the file it was carved from.
type sectionReadCloser struct {
	*io.SectionReader
	underlying *os.File
}

func (s *sectionReadCloser) Close() error { return s.underlying.Close() }

func (v *CatVolume) Store() error {
	if v.file == nil {
		return nil
	}
	if err := v.file.Close(); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "CatVolume.Store", v.path, err)
	}
	v.file = nil
	return nil
}

func (v *CatVolume) Rollback() error {
	if v.file != nil {
		v.file.Close()
		v.file = nil
	}
	if !v.modified || v.dryRun {
		return nil
	}
	if err := os.Remove(v.path); err != nil && !os.IsNotExist(err) {
		return rockuperr.New(rockuperr.Filesystem, "CatVolume.Rollback", v.path, err)
	}
	return nil
}
