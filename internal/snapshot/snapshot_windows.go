//go:build windows

package snapshot

import (
	"os"
	"syscall"

	"github.com/tumulus/tumulus/internal/model"
)

// fillUnixFields is a no-op on Windows: there is no uid/gid/mode/inode
// to report, so FileInfo's unix-specific pointers stay nil.
func fillUnixFields(fi *model.FileInfo, lst os.FileInfo) {}

func platformTimes(lst os.FileInfo) (extraTimes, bool) {
	st, ok := lst.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return extraTimes{}, false
	}
	return extraTimes{
		accessed: filetimeToMillis(st.LastAccessTime),
		created:  filetimeToMillis(st.CreationTime),
	}, true
}

func filetimeToMillis(ft syscall.Filetime) int64 {
	return ft.Nanoseconds() / int64(1e6)
}
