//go:build windows

package rockup

// chownRestored is a no-op on Windows, which has no POSIX uid/gid
// concept (spec.md §8: uid/gid matching applies only "on platforms
// that support them").
func chownRestored(path string, uid, gid int) error {
	return nil
}
