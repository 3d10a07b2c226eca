//go:build !linux && !darwin && !freebsd && !windows

package snapshot

import (
	"os"

	"github.com/tumulus/tumulus/internal/model"
)

func fillUnixFields(fi *model.FileInfo, lst os.FileInfo) {}

func platformTimes(lst os.FileInfo) (extraTimes, bool) {
	return extraTimes{}, false
}
