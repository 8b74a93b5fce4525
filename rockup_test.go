package rockup

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockup/rockup/project"
)

func newRepo(t *testing.T, cfg project.Config) *project.Project {
	t.Helper()
	proj, err := project.New(t.TempDir(), cfg, nil)
	require.NoError(t, err)
	return proj
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestBackupThenRestoreRoundTrips(t *testing.T) {
	proj := newRepo(t, project.Config{})
	srcRoot := t.TempDir()
	writeFile(t, srcRoot, "a.txt", "hello")
	writeFile(t, srcRoot, "sub/b.bin", string(make([]byte, 4096)))

	summary, err := Backup(proj, []string{srcRoot}, true)
	require.NoError(t, err)
	assert.NotEmpty(t, summary.ManifestID)
	assert.Equal(t, 2, summary.FilesBackedUp)

	restoreProj := newRepo(t, project.Config{})
	restoreProj.RepoDir = proj.RepoDir
	dest := filepath.Join(t.TempDir(), "out")

	require.NoError(t, Restore(restoreProj, dest))

	src, ok := restoreProj.Sources.Get(project.HashSourceID(srcRoot))
	require.True(t, ok)

	got, err := os.ReadFile(filepath.Join(dest, src.ID, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestSecondBackupWithNoChangesAddsNothing(t *testing.T) {
	proj := newRepo(t, project.Config{})
	srcRoot := t.TempDir()
	writeFile(t, srcRoot, "a.txt", "hello")

	first, err := Backup(proj, []string{srcRoot}, true)
	require.NoError(t, err)
	require.NotEmpty(t, first.ManifestID)

	entriesBefore, err := os.ReadDir(proj.RepoDir)
	require.NoError(t, err)

	proj2, err := project.New(proj.RepoDir, project.Config{}, nil)
	require.NoError(t, err)
	second, err := Backup(proj2, []string{srcRoot}, false)
	require.NoError(t, err)
	assert.Empty(t, second.ManifestID, "an unchanged backup must not create a new manifest")

	entriesAfter, err := os.ReadDir(proj.RepoDir)
	require.NoError(t, err)
	assert.Equal(t, len(entriesBefore), len(entriesAfter))
}

func TestIncrementalBackupPreservesUnchangedFile(t *testing.T) {
	proj := newRepo(t, project.Config{})
	srcRoot := t.TempDir()
	writeFile(t, srcRoot, "a.txt", "hello")
	writeFile(t, srcRoot, "b.bin", string(make([]byte, 4096)))

	_, err := Backup(proj, []string{srcRoot}, true)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(srcRoot, "a.txt")))

	proj2, err := project.New(proj.RepoDir, project.Config{}, nil)
	require.NoError(t, err)
	summary, err := Backup(proj2, []string{srcRoot}, false)
	require.NoError(t, err)
	require.NotEmpty(t, summary.ManifestID)
	assert.Equal(t, 0, summary.FilesBackedUp, "b.bin's bytes shouldn't be re-read")
}

func TestRestoreRefusesNonEmptyDestination(t *testing.T) {
	proj := newRepo(t, project.Config{})
	srcRoot := t.TempDir()
	writeFile(t, srcRoot, "a.txt", "hello")
	_, err := Backup(proj, []string{srcRoot}, true)
	require.NoError(t, err)

	dest := t.TempDir()
	writeFile(t, dest, "already-here.txt", "oops")

	err = Restore(proj, dest)
	assert.Error(t, err)
}

func TestRestoreFailsOnEmptyRepository(t *testing.T) {
	proj := newRepo(t, project.Config{})
	err := Restore(proj, t.TempDir())
	assert.Error(t, err)
}

func TestVerifyPassesForIntactBackup(t *testing.T) {
	proj := newRepo(t, project.Config{})
	srcRoot := t.TempDir()
	writeFile(t, srcRoot, "a.txt", "hello")

	summary, err := Backup(proj, []string{srcRoot}, true)
	require.NoError(t, err)

	freshProj, err := project.New(proj.RepoDir, project.Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, Verify(freshProj, summary.ManifestID))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	proj := newRepo(t, project.Config{CompressionPolicy: project.CompressionDisable})
	srcRoot := t.TempDir()
	writeFile(t, srcRoot, "a.txt", "hello")

	summary, err := Backup(proj, []string{srcRoot}, true)
	require.NoError(t, err)

	sourceID := project.HashSourceID(srcRoot)
	entries, err := os.ReadDir(proj.RepoDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	corrupted := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(proj.RepoDir, e.Name(), sourceID, "a.txt")
		if data, readErr := os.ReadFile(candidate); readErr == nil && len(data) > 0 {
			data[0] ^= 0xFF
			require.NoError(t, os.WriteFile(candidate, data, 0o644))
			corrupted = true
			break
		}
	}
	require.True(t, corrupted, "expected to find a.txt's stream file on disk")

	freshProj, err := project.New(proj.RepoDir, project.Config{}, nil)
	require.NoError(t, err)
	err = Verify(freshProj, summary.ManifestID)
	assert.Error(t, err)
}

func TestDryRunBackupTouchesNothing(t *testing.T) {
	proj := newRepo(t, project.Config{DryRun: true})
	srcRoot := t.TempDir()
	writeFile(t, srcRoot, "a.txt", "hello")

	summary, err := Backup(proj, []string{srcRoot}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesBackedUp)

	entries, err := os.ReadDir(proj.RepoDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry-run must not create anything under the repository")
}
