// Package manifest implements spec.md §4.D: the on-disk snapshot
// record, gzip-wrapped JSON with stable key order, plus the
// load/upload!/store!/rollback! protocol that ties a parsed tree to a
// live project.Project.
//
// Grounded on mmp-bk/cmd/bk/backup.go's NewRoot/ReadRoot/writeDirEntries,
// which round-trip a directory tree through a length-prefixed on-disk
// record the same way this package round-trips a Manifest through
// JSON; the gzip wrapping itself follows
// mmp-bk/storage/compressed.go's compress-to-buffer-then-write shape.
package manifest

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rockup/rockup/identity"
	"github.com/rockup/rockup/project"
	"github.com/rockup/rockup/rockuperr"
	"github.com/rockup/rockup/volume"
)

const formatVersion = 0

// Tree is the top-level JSON object spec.md §4.D and §6
// describe. Struct tag order controls json.Marshal's key order, which
// combined with encoding/json's default (unsorted map keys are
// re-sorted by Go's own encoder) gives the "stable key order" spec.md
// requires without any custom marshaling.
type Tree struct {
	Version int                     `json:"version"`
	Session string                  `json:"session"`
	MTime   time.Time               `json:"mtime"`
	Sources map[string]*wireSource  `json:"sources"`
}

type wireSource struct {
	Root  string                `json:"root"`
	Files map[string]*wireFile `json:"files"`
}

type wireFile struct {
	MTime time.Time   `json:"mtime"`
	Mode  uint32      `json:"mode"`
	UID   int         `json:"uid"`
	GID   int         `json:"gid"`
	Size  int64       `json:"size,omitempty"`
	SHA1  string      `json:"sha1,omitempty"`
	Stream *wireStream `json:"stream,omitempty"`
}

type wireStream struct {
	Name       string `json:"name,omitempty"`
	Volume     string `json:"volume"`
	Offset     int64  `json:"offset,omitempty"`
	Size       int64  `json:"size,omitempty"`
	SHA1       string `json:"sha1"`
	Compressor string `json:"compressor,omitempty"`
}

func manifestPath(repoDir, id string) string {
	return filepath.Join(repoDir, id+".json.gz")
}

// LatestID returns the lexicographically greatest manifest id present
// in repoDir, or "" if the repository has no manifests yet (spec.md
// §4.E step 1, §4.E restore step 2). Manifest ids sort lexicographically
// with time because they're base-36 renderings of a monotonically
// increasing integer (project.NewManifestID), so a plain string
// comparison is enough.
func LatestID(repoDir string) (string, error) {
	entries, err := os.ReadDir(repoDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", rockuperr.New(rockuperr.Filesystem, "manifest.LatestID", repoDir, err)
	}
	best := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json.gz") {
			continue
		}
		id := strings.TrimSuffix(name, ".json.gz")
		if id > best {
			best = id
		}
	}
	return best, nil
}

// Load reads and gzip/JSON-decodes the manifest with the given id
// under repoDir. It performs no interpretation beyond validating the
// format itself: version and session checks, per spec.md §4.D. It
// does not touch any Project registry.
func Load(repoDir, id string) (*Tree, error) {
	path := manifestPath(repoDir, id)
	f, err := os.Open(path)
	if err != nil {
		return nil, rockuperr.New(rockuperr.Filesystem, "manifest.Load", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, rockuperr.New(rockuperr.Format, "manifest.Load", path, err)
	}
	defer gz.Close()

	var w Tree
	if err := json.NewDecoder(gz).Decode(&w); err != nil {
		return nil, rockuperr.New(rockuperr.Format, "manifest.Load", path, err)
	}
	if w.Version != formatVersion {
		return nil, rockuperr.New(rockuperr.Format, "manifest.Load", path,
			formatErrorf("unsupported manifest version %d", w.Version))
	}
	if w.Session == "" {
		return nil, rockuperr.New(rockuperr.Format, "manifest.Load", path,
			formatErrorf("manifest is missing its session id"))
	}
	return &w, nil
}

type formatError string

func (e formatError) Error() string { return string(e) }

func formatErrorf(format string, args ...interface{}) error {
	return formatError(fmt.Sprintf(format, args...))
}

// Upload applies a tree previously returned by Load onto proj's
// registries: Sources, Files (with Stream references restored), and
// read-only Volumes (spec.md §4.D upload!). It returns the resulting
// *project.Manifest, itself registered in proj.Manifests.
func Upload(id string, w *Tree, proj *project.Project) (*project.Manifest, error) {
	m := &project.Manifest{
		ID:      id,
		Version: w.Version,
		Session: w.Session,
		MTime:   w.MTime,
		Sources: identity.New[*project.Source](),
		New:     false,
	}

	sourceIDs := make([]string, 0, len(w.Sources))
	for sid := range w.Sources {
		sourceIDs = append(sourceIDs, sid)
	}
	sort.Strings(sourceIDs)

	for _, sid := range sourceIDs {
		ws := w.Sources[sid]
		src := &project.Source{
			ID:    sid,
			Root:  ws.Root,
			Files: identity.New[*project.File](),
		}

		paths := make([]string, 0, len(ws.Files))
		for p := range ws.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)

		for _, p := range paths {
			wf := ws.Files[p]
			file := &project.File{
				SourceID: sid,
				Path:     p,
				ModTime:  wf.MTime,
				Size:     wf.Size,
				Mode:     os.FileMode(wf.Mode),
				UID:      wf.UID,
				GID:      wf.GID,
				SHA1:     wf.SHA1,
			}
			if wf.Stream != nil {
				s := &project.Stream{
					VolumeID:   wf.Stream.Volume,
					Name:       wf.Stream.Name,
					Offset:     wf.Stream.Offset,
					Size:       wf.Stream.Size,
					SHA1:       wf.Stream.SHA1,
					Compressor: project.Compressor(wf.Stream.Compressor),
				}
				if strings.HasSuffix(s.VolumeID, ".cat") {
					s.Kind = project.Cat
				} else {
					s.Kind = project.Copy
				}
				file.Stream = s

				openVolume(proj, s.VolumeID, s.Kind)
			}
			src.Files.Replace(file)
		}

		m.Sources.Replace(proj.Sources.InsertOrGet(src))
	}

	proj.Manifests.Replace(m)
	return m, nil
}

// openVolume registers a read-only handle for a volume referenced by
// a loaded manifest, unless one is already registered.
func openVolume(proj *project.Project, id string, kind project.VolumeKind) {
	if _, ok := proj.Volumes.Get(id); ok {
		return
	}
	var v project.Volume
	if kind == project.Cat {
		v = volume.OpenCat(proj.RepoDir, id, proj.Config)
	} else {
		v = volume.OpenCopy(proj.RepoDir, id, proj.Config)
	}
	proj.Volumes.Replace(v)
}

// Store serializes m to <repoDir>/<id>.json.gz. It refuses to
// overwrite an existing manifest unless m.New is set (spec.md §4.D).
// In dry-run mode it reports success without touching the filesystem.
func Store(proj *project.Project, m *project.Manifest) error {
	path := manifestPath(proj.RepoDir, m.ID)

	if !m.New {
		return rockuperr.New(rockuperr.Precondition, "manifest.Store", path,
			formatErrorf("refusing to overwrite an existing manifest"))
	}

	w := toWire(m)

	if proj.Config.DryRun {
		m.Modified = true
		return nil
	}

	if err := os.MkdirAll(proj.RepoDir, 0o755); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "manifest.Store", proj.RepoDir, err)
	}
	if _, err := os.Stat(path); err == nil {
		return rockuperr.New(rockuperr.Filesystem, "manifest.Store", path,
			formatErrorf("manifest already exists on disk"))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return rockuperr.New(rockuperr.Filesystem, "manifest.Store", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewWriterLevel(f, gzip.BestSpeed)
	if err != nil {
		return rockuperr.New(rockuperr.Filesystem, "manifest.Store", path, err)
	}
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w); err != nil {
		gz.Close()
		return rockuperr.New(rockuperr.Filesystem, "manifest.Store", path, err)
	}
	if err := gz.Close(); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "manifest.Store", path, err)
	}

	m.Modified = true
	return nil
}

func toWire(m *project.Manifest) *Tree {
	w := &Tree{
		Version: formatVersion,
		Session: m.Session,
		MTime:   m.MTime,
		Sources: make(map[string]*wireSource, m.Sources.Len()),
	}
	for _, src := range m.Sources.Values() {
		ws := &wireSource{
			Root:  src.Root,
			Files: make(map[string]*wireFile, src.Files.Len()),
		}
		for _, f := range src.Files.Values() {
			wf := &wireFile{
				MTime: f.ModTime,
				Mode:  uint32(f.Mode),
				UID:   f.UID,
				GID:   f.GID,
			}
			if f.Size > 0 {
				wf.Size = f.Size
				wf.SHA1 = f.SHA1
			}
			if f.Stream != nil {
				ws := &wireStream{
					Volume:     f.Stream.VolumeID,
					Offset:     f.Stream.Offset,
					Size:       f.Stream.Size,
					SHA1:       f.Stream.SHA1,
					Compressor: string(f.Stream.Compressor),
				}
				if f.Stream.Kind == project.Copy {
					// spec.md §4.D: a copy stream's record carries its
					// on-disk file name; a cat stream is located purely
					// by offset/size within its volume, so it doesn't.
					ws.Name = f.Stream.Name
				}
				wf.Stream = ws
			}
			ws.Files[f.Path] = wf
		}
		w.Sources[src.ID] = ws
	}
	return w
}

// Rollback deletes the on-disk manifest file iff it was modified this
// session (spec.md §4.D, §7). It's a no-op for a manifest loaded
// read-only, or in dry-run mode.
func Rollback(proj *project.Project, m *project.Manifest) error {
	if !m.Modified || proj.Config.DryRun {
		return nil
	}
	path := manifestPath(proj.RepoDir, m.ID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return rockuperr.New(rockuperr.Filesystem, "manifest.Rollback", path, err)
	}
	return nil
}
