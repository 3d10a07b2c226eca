//go:build darwin

package snapshot

import (
	"os"
	"syscall"
	"time"

	"github.com/tumulus/tumulus/internal/model"
)

func fillUnixFields(fi *model.FileInfo, lst os.FileInfo) {
	st, ok := lst.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	mode := uint32(st.Mode)
	owner := st.Uid
	group := st.Gid
	inode := uint64(st.Ino)

	fi.UnixMode = &mode
	fi.UnixOwner = &owner
	fi.UnixGroup = &group
	fi.FSInode = &inode
}

func platformTimes(lst os.FileInfo) (extraTimes, bool) {
	st, ok := lst.Sys().(*syscall.Stat_t)
	if !ok {
		return extraTimes{}, false
	}
	return extraTimes{
		accessed: msFromTime(time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec)),
		changed:  msFromTime(time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec)),
		created:  msFromTime(time.Unix(st.Birthtimespec.Sec, st.Birthtimespec.Nsec)),
	}, true
}
