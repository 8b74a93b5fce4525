//go:build windows

package scan

import "os"

// ownerOf is a no-op on Windows, which has no POSIX uid/gid concept.
func ownerOf(info os.FileInfo) (uid, gid int) {
	return 0, 0
}
