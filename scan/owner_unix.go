//go:build !windows

package scan

import (
	"os"
	"syscall"
)

// ownerOf extracts uid/gid from the platform-specific stat structure
// (spec.md §3's File.uid/gid are POSIX concepts; Windows has no
// equivalent, so ownerOf there is a stub returning zeros).
func ownerOf(info os.FileInfo) (uid, gid int) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0
	}
	return int(st.Uid), int(st.Gid)
}
