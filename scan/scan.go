// Package scan implements spec.md §4.A: walking a Source's root
// directory to produce the current set of regular files, and the
// incremental diff algorithm that folds a fresh walk into a Source's
// existing File table.
//
// Grounded on mmp-bk/cmd/bk/backup.go's backupDirContents, which
// walks a directory, matches each entry against a base snapshot's
// entries by name, and dispatches on file/dir/symlink; the exclusion
// filter here follows gingerrexayers-btool-go's IsPathIgnored, which
// compiles patterns into a gitignore.GitIgnore matcher and tests each
// root-relative, forward-slashed path against it.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/denormal/go-gitignore"

	"github.com/rockup/rockup/project"
	"github.com/rockup/rockup/rockuperr"
	"github.com/rockup/rockup/util"
)

// entry is one file found by a walk, before it's reconciled against
// the Source's existing File table.
type entry struct {
	path string // relative to root
	info os.FileInfo
}

// scanEntries walks root and returns every regular file reachable from it
// (spec.md §4.A). Symlinks are resolved with filepath.EvalSymlinks and
// skipped (with a Warning, non-fatal) unless they resolve to a regular
// file at or beneath root. Unreadable files or directories are skipped
// with a Warning rather than aborting the walk. excludePatterns are
// gitignore-style patterns (one rule per entry, same syntax as a
// .gitignore line) tested against each entry's root-relative,
// forward-slashed path; a match is skipped with a Verbose log line.
func scanEntries(root string, excludePatterns []string, log *util.Logger) ([]entry, error) {
	matcher := compileIgnoreMatcher(excludePatterns, root)
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolvedRoot = root
	}
	var out []entry

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warning("%s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if isIgnored(matcher, rel, d.IsDir()) {
			log.Verbose("%s: excluding from backup", rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			return nil
		case d.Type()&fs.ModeSymlink != 0:
			resolved, evalErr := filepath.EvalSymlinks(path)
			if evalErr != nil {
				log.Warning("%s: unreadable symlink: %v", path, evalErr)
				return nil
			}
			if !withinRoot(resolvedRoot, resolved) {
				log.Warning("%s: symlink escapes the source root, skipping", path)
				return nil
			}
			info, statErr := os.Stat(resolved)
			if statErr != nil {
				log.Warning("%s: unreadable symlink: %v", path, statErr)
				return nil
			}
			if !info.Mode().IsRegular() {
				log.Warning("%s: symlink does not resolve to a regular file, skipping", path)
				return nil
			}
			out = append(out, entry{path: rel, info: info})
			return nil
		default:
			info, infoErr := d.Info()
			if infoErr != nil {
				log.Warning("%s: %v", path, infoErr)
				return nil
			}
			if !info.Mode().IsRegular() {
				log.Warning("%s: not a regular file, skipping", path)
				return nil
			}
			out = append(out, entry{path: rel, info: info})
			return nil
		}
	})
	if walkErr != nil {
		return nil, rockuperr.New(rockuperr.Filesystem, "scan.Scan", root, walkErr)
	}
	return out, nil
}

// compileIgnoreMatcher builds a gitignore.GitIgnore from patterns, one
// rule per line, rooted at root. A nil result (no patterns given)
// means nothing is excluded.
func compileIgnoreMatcher(patterns []string, root string) gitignore.GitIgnore {
	if len(patterns) == 0 {
		return nil
	}
	reader := strings.NewReader(strings.Join(patterns, "\n"))
	return gitignore.New(reader, root, func(gitignore.Error) bool { return false })
}

func isIgnored(matcher gitignore.GitIgnore, rel string, isDir bool) bool {
	if matcher == nil {
		return false
	}
	m := matcher.Relative(rel, isDir)
	return m != nil && m.Ignore()
}

// withinRoot reports whether resolved (an already-symlink-resolved
// path) lies at or beneath root (spec.md §4.A: symlinks are only
// followed if they resolve to a regular file within the root).
func withinRoot(root, resolved string) bool {
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	return rel == "." || !strings.HasPrefix(rel, "..")
}

func truncateToSecond(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// Update implements spec.md §4.A's incremental diff algorithm: mark
// every known File not-live, fold in the fresh walk (creating new
// entries, replacing changed ones, refreshing metadata on unchanged
// ones), then delete whatever is still not-live. It reports whether
// the Source's File table changed.
func Update(source *project.Source, excludePatterns []string, log *util.Logger) (modified bool, err error) {
	if log == nil {
		log = util.Discard()
	}

	for _, f := range source.Files.Values() {
		f.ClearLive()
	}

	entries, err := scanEntries(source.Root, excludePatterns, log)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		diskMTime := truncateToSecond(e.info.ModTime())
		mode := e.info.Mode()
		uid, gid := ownerOf(e.info)

		existing, ok := source.Files.Get(e.path)
		if !ok {
			nf := &project.File{
				SourceID: source.ID,
				Path:     e.path,
				ModTime:  diskMTime,
				Size:     e.info.Size(),
				Mode:     mode,
				UID:      uid,
				GID:      gid,
			}
			nf.MarkLive()
			source.Files.Replace(nf)
			modified = true
			continue
		}

		if diskMTime.After(existing.ModTime) {
			nf := &project.File{
				SourceID: source.ID,
				Path:     e.path,
				ModTime:  diskMTime,
				Size:     e.info.Size(),
				Mode:     mode,
				UID:      uid,
				GID:      gid,
			}
			nf.MarkLive()
			source.Files.Replace(nf)
			modified = true
			continue
		}

		if existing.Mode != mode || existing.UID != uid || existing.GID != gid {
			existing.Mode = mode
			existing.UID = uid
			existing.GID = gid
			modified = true
		}
		existing.MarkLive()
	}

	for _, f := range source.Files.Values() {
		if !f.Live() {
			source.Files.Delete(f.Path)
			modified = true
		}
	}

	return modified, nil
}
