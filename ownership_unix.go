//go:build !windows

package rockup

import "os"

// chownRestored applies the recorded uid/gid to a just-restored file
// (spec.md §8: restored files match recorded mode/uid/gid "on
// platforms that support them"). It's best-effort: restoring as a
// non-root user can't chown to an arbitrary uid/gid, so a failure here
// is logged rather than treated as a restore error.
func chownRestored(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}
