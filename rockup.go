// Package rockup implements the backup/restore orchestrator, spec.md
// §4.E: it drives the scan, volume, and manifest packages against a
// project.Project to plan and execute one snapshot, or to reconstruct
// one into an empty directory.
//
// Grounded on mmp-bk/cmd/bk/backup.go's BackupDirIncremental/Restore
// pair, which load a base snapshot, diff it against a fresh walk, and
// write/restore accordingly; the planning and rollback shape here
// follows spec.md §4.E rather than that file's chunked-storage
// design, since deduplication is explicitly out of scope.
package rockup

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rockup/rockup/manifest"
	"github.com/rockup/rockup/project"
	"github.com/rockup/rockup/rockuperr"
	"github.com/rockup/rockup/scan"
	"github.com/rockup/rockup/volume"
)

const (
	catAccumulationLimit = 1 << 30 // 1 GiB (spec.md §4.E step 4)
	catFileLimit         = 1 << 20 // 1 MiB
)

// VolumeStats reports how many files and bytes one volume received
// during a backup, part of the repository statistics reporting
// enrichment (SPEC_FULL.md, grounded on mmp-bk/storage/disk.go's
// LogStats).
type VolumeStats struct {
	VolumeID       string
	Kind           project.VolumeKind
	Files          int
	BytesRead      int64
	BytesWritten   int64
}

// Summary reports what a Backup call actually did.
type Summary struct {
	ManifestID     string
	FilesBackedUp  int
	BytesRead      int64
	BytesWritten   int64
	Volumes        []VolumeStats
}

// CompressionRatio returns BytesWritten/BytesRead, or 1 if nothing was
// read (avoids a divide-by-zero for an empty or no-op backup).
func (s Summary) CompressionRatio() float64 {
	if s.BytesRead == 0 {
		return 1
	}
	return float64(s.BytesWritten) / float64(s.BytesRead)
}

// Backup implements spec.md §4.E's backup contract: scan every root
// in sourceRoots, back up whatever changed since the base manifest
// (or everything, if full is set), and write a new manifest. On any
// error after volumes were created, every volume and the manifest are
// rolled back before the error is returned.
func Backup(proj *project.Project, sourceRoots []string, full bool) (Summary, error) {
	var summary Summary

	if err := loadBaseManifest(proj, full); err != nil {
		return summary, err
	}

	anyModified := false
	for _, root := range sourceRoots {
		src := proj.Sources.InsertOrGet(project.NewSource(root))
		modified, err := scan.Update(src, proj.Config.ExcludePatterns, proj.Log)
		if err != nil {
			return summary, err
		}
		if modified {
			anyModified = true
		}
	}

	candidates := collectCandidates(proj)
	if len(candidates) == 0 && !anyModified {
		// Nothing changed: spec.md §8 requires no new volume files and
		// no new manifest file in this case.
		return summary, nil
	}

	catBucket, copyBucket := plan(proj.Config.VolumePolicy, candidates)

	var catVol *volume.CatVolume
	var copyVol *volume.CopyVolume
	if len(catBucket) > 0 {
		catVol = volume.NewCat(proj.RepoDir, proj.Config)
		proj.Volumes.Replace(project.Volume(catVol))
	}
	if len(copyBucket) > 0 {
		copyVol = volume.NewCopy(proj.RepoDir, proj.Config)
		proj.Volumes.Replace(project.Volume(copyVol))
	}

	m := &project.Manifest{
		ID:      project.NewManifestID(nowUTC()),
		Version: 0,
		Session: uuid.NewString(),
		MTime:   nowUTC().Truncate(time.Second),
		Sources: proj.Sources,
		New:     true,
	}

	err := runBackupPipeline(proj, catVol, copyVol, catBucket, copyBucket, &summary)
	if err == nil {
		err = manifest.Store(proj, m)
	}
	if err != nil {
		rollbackAll(proj, m, catVol, copyVol)
		return Summary{}, err
	}

	summary.ManifestID = m.ID
	return summary, nil
}

// nowUTC exists purely so time.Now()'s single call site inside this
// package is easy to spot; there's no clock injection requirement in
// scope.
func nowUTC() time.Time { return time.Now().UTC() }

func loadBaseManifest(proj *project.Project, full bool) error {
	if full {
		return nil
	}
	id, err := manifest.LatestID(proj.RepoDir)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}
	tree, err := manifest.Load(proj.RepoDir, id)
	if err != nil {
		return err
	}
	_, err = manifest.Upload(id, tree, proj)
	return err
}

// collectCandidates gathers every File across every Source that has
// no Stream and a positive size (spec.md §4.E step 3). Zero-byte
// files never get a Stream, so they're excluded here and handled
// directly at manifest-serialization time.
func collectCandidates(proj *project.Project) []*project.File {
	var out []*project.File
	for _, src := range proj.Sources.Values() {
		for _, f := range src.Files.Values() {
			if f.Stream == nil && f.Size > 0 {
				out = append(out, f)
			}
		}
	}
	return out
}

// plan implements spec.md §4.E step 4: bucket candidates into "cat"
// and "copy" groups according to Project's VolumePolicy.
func plan(policy project.VolumePolicy, candidates []*project.File) (cat, copyB []*project.File) {
	switch policy {
	case project.VolumeCat:
		return candidates, nil
	case project.VolumeCopy:
		return nil, candidates
	}

	sorted := make([]*project.File, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return volume.EstimatedCompressedSize(sorted[i].Size, sorted[i].Path) <
			volume.EstimatedCompressedSize(sorted[j].Size, sorted[j].Path)
	})

	var accumulated float64
	splitAt := len(sorted)
	for i, f := range sorted {
		size := volume.EstimatedCompressedSize(f.Size, f.Path)
		if accumulated+size >= catAccumulationLimit || size >= catFileLimit {
			splitAt = i
			break
		}
		accumulated += size
	}

	cat = sorted[:splitAt]
	copyB = sorted[splitAt:]

	if len(cat) == 1 {
		// Lone cat file promotion (spec.md §4.E step 4, §8 boundary
		// behavior): a cat volume with a single stream isn't worth the
		// coalescing overhead.
		copyB = append([]*project.File{cat[0]}, copyB...)
		cat = nil
	}

	return cat, copyB
}

func runBackupPipeline(proj *project.Project, catVol *volume.CatVolume, copyVol *volume.CopyVolume,
	catBucket, copyBucket []*project.File, summary *Summary) error {

	if catVol != nil {
		if err := backupBucket(proj, catVol, catBucket, summary); err != nil {
			return err
		}
	}
	if copyVol != nil {
		if err := backupBucket(proj, copyVol, copyBucket, summary); err != nil {
			return err
		}
	}

	if catVol != nil {
		if err := catVol.Store(); err != nil {
			return err
		}
	}
	if copyVol != nil {
		if err := copyVol.Store(); err != nil {
			return err
		}
	}
	return nil
}

func backupBucket(proj *project.Project, v project.Volume, files []*project.File, summary *Summary) error {
	if len(files) == 0 {
		return nil
	}

	stats := VolumeStats{VolumeID: v.ID(), Kind: v.Kind()}

	for _, f := range files {
		if err := backupOneFile(proj, v, f, &stats); err != nil {
			return err
		}
	}

	summary.FilesBackedUp += stats.Files
	summary.BytesRead += stats.BytesRead
	summary.BytesWritten += stats.BytesWritten
	summary.Volumes = append(summary.Volumes, stats)
	return nil
}

func backupOneFile(proj *project.Project, v project.Volume, f *project.File, stats *VolumeStats) error {
	srcPath, err := sourceFilePath(proj, f)
	if err != nil {
		return err
	}

	r, err := os.Open(srcPath)
	if err != nil {
		return rockuperr.New(rockuperr.Filesystem, "rockup.Backup", srcPath, err)
	}
	defer r.Close()

	s, err := v.Stream(f)
	if err != nil {
		return err
	}
	w, err := v.Writer(s)
	if err != nil {
		return err
	}

	n, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	if copyErr != nil {
		return rockuperr.New(rockuperr.Filesystem, "rockup.Backup", srcPath, copyErr)
	}
	if closeErr != nil {
		return closeErr
	}

	f.SHA1 = s.SHA1
	stats.Files++
	stats.BytesRead += n
	stats.BytesWritten += streamOnDiskSize(s)

	proj.Log.Verbose("%s: backed up (%s)", srcPath, s.Compressor)
	return nil
}

func streamOnDiskSize(s *project.Stream) int64 {
	if s.Kind == project.Cat {
		return s.Size
	}
	// A copy stream's on-disk size isn't tracked on the Stream itself
	// (there's no shared offset counter to fold it into); the SHA-1
	// is of the pre-compression bytes either way, and reporting exact
	// on-disk bytes for copy volumes isn't required by any invariant.
	return 0
}

func sourceFilePath(proj *project.Project, f *project.File) (string, error) {
	src, ok := proj.Sources.Get(f.SourceID)
	if !ok {
		return "", rockuperr.New(rockuperr.Precondition, "rockup.Backup", f.Path,
			plainError("file references an unknown source id "+f.SourceID))
	}
	return filepath.Join(src.Root, filepath.FromSlash(f.Path)), nil
}

type plainError string

func (e plainError) Error() string { return string(e) }

func rollbackAll(proj *project.Project, m *project.Manifest, catVol *volume.CatVolume, copyVol *volume.CopyVolume) {
	if err := manifest.Rollback(proj, m); err != nil {
		proj.Log.Error("rolling back manifest %s: %v", m.ID, err)
	}
	if catVol != nil {
		if err := catVol.Rollback(); err != nil {
			proj.Log.Error("rolling back cat volume %s: %v", catVol.ID(), err)
		}
	}
	if copyVol != nil {
		if err := copyVol.Rollback(); err != nil {
			proj.Log.Error("rolling back copy volume %s: %v", copyVol.ID(), err)
		}
	}
}

// Restore implements spec.md §4.E's restore contract: reconstruct the
// repository's latest manifest into destination, which must not
// already contain files.
func Restore(proj *project.Project, destination string) error {
	if err := ensureEmptyDestination(destination); err != nil {
		return err
	}

	id, err := manifest.LatestID(proj.RepoDir)
	if err != nil {
		return err
	}
	if id == "" {
		return rockuperr.New(rockuperr.Precondition, "rockup.Restore", proj.RepoDir,
			plainError("repository has no manifests to restore"))
	}
	tree, err := manifest.Load(proj.RepoDir, id)
	if err != nil {
		return err
	}
	m, err := manifest.Upload(id, tree, proj)
	if err != nil {
		return err
	}

	for _, src := range m.Sources.Values() {
		sourceDest := filepath.Join(destination, src.ID)
		for _, f := range src.Files.Values() {
			if err := restoreFile(proj, sourceDest, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func ensureEmptyDestination(destination string) error {
	entries, err := os.ReadDir(destination)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destination, err)
	}
	if len(entries) > 0 {
		return rockuperr.New(rockuperr.Precondition, "rockup.Restore", destination,
			plainError("destination is not empty"))
	}
	return nil
}

func restoreFile(proj *project.Project, sourceDest string, f *project.File) error {
	destPath := filepath.Join(sourceDest, filepath.FromSlash(f.Path))
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destPath, err)
	}

	if f.Size == 0 {
		w, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode.Perm())
		if err != nil {
			return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destPath, err)
		}
		if err := w.Close(); err != nil {
			return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destPath, err)
		}
		return applyRestoredMetadata(proj, destPath, f)
	}

	v, ok := proj.Volumes.Get(f.Stream.VolumeID)
	if !ok {
		return rockuperr.New(rockuperr.Format, "rockup.Restore", destPath,
			plainError("stream references unknown volume "+f.Stream.VolumeID))
	}
	r, err := v.Reader(f.Stream)
	if err != nil {
		return err
	}
	defer r.Close()

	w, err := os.OpenFile(destPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, f.Mode.Perm())
	if err != nil {
		return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destPath, err)
	}

	h := sha1.New()
	_, copyErr := io.Copy(io.MultiWriter(w, h), r)
	closeErr := w.Close()

	if copyErr != nil {
		os.Remove(destPath)
		return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destPath, copyErr)
	}
	if closeErr != nil {
		os.Remove(destPath)
		return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destPath, closeErr)
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != f.SHA1 {
		os.Remove(destPath)
		return rockuperr.New(rockuperr.Integrity, "rockup.Restore", destPath,
			plainError("sha1 mismatch: expected "+f.SHA1+", got "+got))
	}
	return applyRestoredMetadata(proj, destPath, f)
}

// applyRestoredMetadata restores f's mode exactly (spec.md §8: a
// restored file matches the recorded mode/uid/gid on platforms that
// support them) and best-effort applies its uid/gid. os.OpenFile's
// perm argument is masked by umask and never carries setuid/setgid/
// sticky bits, so those are only correct once os.Chmod is applied
// with the full mode after the file exists. Chown commonly fails for
// a non-root restorer, so it's logged rather than treated as a
// restore failure.
func applyRestoredMetadata(proj *project.Project, destPath string, f *project.File) error {
	if err := os.Chmod(destPath, f.Mode); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "rockup.Restore", destPath, err)
	}
	if err := chownRestored(destPath, f.UID, f.GID); err != nil {
		proj.Log.Warning("%s: could not restore owner %d:%d: %v", destPath, f.UID, f.GID, err)
	}
	return nil
}

// Verify re-hashes every File with a Stream in the given manifest
// without writing anything to disk, the same integrity check Restore
// performs but exposed as its own read-only operation (SPEC_FULL.md's
// supplemented Fsck-style consistency check).
func Verify(proj *project.Project, manifestID string) error {
	tree, err := manifest.Load(proj.RepoDir, manifestID)
	if err != nil {
		return err
	}
	m, err := manifest.Upload(manifestID, tree, proj)
	if err != nil {
		return err
	}

	for _, src := range m.Sources.Values() {
		for _, f := range src.Files.Values() {
			if f.Stream == nil {
				continue
			}
			if err := verifyFile(proj, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func verifyFile(proj *project.Project, f *project.File) error {
	v, ok := proj.Volumes.Get(f.Stream.VolumeID)
	if !ok {
		return rockuperr.New(rockuperr.Format, "rockup.Verify", f.Path,
			plainError("stream references unknown volume "+f.Stream.VolumeID))
	}
	r, err := v.Reader(f.Stream)
	if err != nil {
		return err
	}
	defer r.Close()

	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return rockuperr.New(rockuperr.Filesystem, "rockup.Verify", f.Path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != f.SHA1 {
		return rockuperr.New(rockuperr.Integrity, "rockup.Verify", f.Path,
			plainError("sha1 mismatch: expected "+f.SHA1+", got "+got))
	}
	return nil
}
