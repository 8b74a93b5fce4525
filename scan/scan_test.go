package scan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockup/rockup/project"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestUpdateAddsNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "sub/b.txt", "world")

	src := project.NewSource(root)
	modified, err := Update(src, nil, nil)
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, 2, src.Files.Len())

	f, ok := src.Files.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(5), f.Size)
}

func TestUpdateNoChangeIsNotModified(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	src := project.NewSource(root)
	_, err := Update(src, nil, nil)
	require.NoError(t, err)

	modified, err := Update(src, nil, nil)
	require.NoError(t, err)
	assert.False(t, modified)
}

func TestUpdateDetectsDeletion(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "b.txt", "world")

	src := project.NewSource(root)
	_, err := Update(src, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, src.Files.Len())

	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))

	modified, err := Update(src, nil, nil)
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, 1, src.Files.Len())
	_, ok := src.Files.Get("b.txt")
	assert.False(t, ok)
}

func TestUpdateReplacesFileWhenMTimeAdvances(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	src := project.NewSource(root)
	_, err := Update(src, nil, nil)
	require.NoError(t, err)
	before, _ := src.Files.Get("a.txt")
	before.Stream = &project.Stream{VolumeID: "v1", Name: "0"}

	future := time.Now().Add(2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), future, future))
	writeFile(t, root, "a.txt", "HELLO!")
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), future, future))

	modified, err := Update(src, nil, nil)
	require.NoError(t, err)
	assert.True(t, modified)

	after, ok := src.Files.Get("a.txt")
	require.True(t, ok)
	assert.Nil(t, after.Stream, "a replaced file must not carry over the stale stream reference")
}

func TestUpdatePreservesStreamForUnchangedFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")

	src := project.NewSource(root)
	_, err := Update(src, nil, nil)
	require.NoError(t, err)
	f, _ := src.Files.Get("a.txt")
	f.Stream = &project.Stream{VolumeID: "v1", Name: "0"}

	modified, err := Update(src, nil, nil)
	require.NoError(t, err)
	assert.False(t, modified)

	after, ok := src.Files.Get("a.txt")
	require.True(t, ok)
	require.NotNil(t, after.Stream)
	assert.Equal(t, "v1", after.Stream.VolumeID)
}

func TestUpdateHonorsExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "yes")
	writeFile(t, root, "skip.log", "no")
	writeFile(t, root, "logs/nested.log", "no")

	src := project.NewSource(root)
	modified, err := Update(src, []string{"*.log", "logs/"}, nil)
	require.NoError(t, err)
	assert.True(t, modified)

	_, ok := src.Files.Get("keep.txt")
	assert.True(t, ok)
	_, ok = src.Files.Get("skip.log")
	assert.False(t, ok)
	_, ok = src.Files.Get("logs/nested.log")
	assert.False(t, ok)
}

func TestUpdateFollowsSymlinkWithinRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "real/target.txt", "hi")
	require.NoError(t, os.Symlink(filepath.Join(root, "real", "target.txt"), filepath.Join(root, "link.txt")))

	src := project.NewSource(root)
	_, err := Update(src, nil, nil)
	require.NoError(t, err)

	_, ok := src.Files.Get("link.txt")
	assert.True(t, ok, "a symlink resolving within root should be backed up")
}

func TestUpdateSkipsSymlinkOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, outside, "secret.txt", "nope")
	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "escape.txt")))

	src := project.NewSource(root)
	_, err := Update(src, nil, nil)
	require.NoError(t, err)

	_, ok := src.Files.Get("escape.txt")
	assert.False(t, ok, "a symlink resolving outside root must not be backed up")
}
