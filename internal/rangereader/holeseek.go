//go:build darwin || freebsd

package rangereader

import (
	"io"
	"iter"
	"os"

	"golang.org/x/sys/unix"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/model"
)

// New returns the default range reader for platforms whose kernel
// exposes sparse-file layout only through lseek's SEEK_HOLE/SEEK_DATA
// whence values (§4.A "macOS / FreeBSD"), rather than a dedicated
// extent-map ioctl.
func New(...Option) Reader {
	return holeSeekReader{}
}

// holeSeekReader alternates SEEK_DATA/SEEK_HOLE to discover the
// data/hole boundaries of a file without reading its contents.
type holeSeekReader struct{}

func (holeSeekReader) IntoBuffer() []byte { return nil }

func (holeSeekReader) ReadRanges(f *os.File, size int64) iter.Seq2[model.DataRange, error] {
	if size <= 0 {
		return func(func(model.DataRange, error) bool) {}
	}

	return func(yield func(model.DataRange, error) bool) {
		fd := int(f.Fd())
		var pos int64

		for pos < size {
			dataStart, err := unix.Seek(fd, pos, unix.SEEK_DATA)
			if err != nil {
				if err == unix.ENXIO {
					// no more data after pos: the rest of the file is a hole
					synthesizeGap(uint64(pos), uint64(size), yield)
					return
				}
				if isHoleSeekUnsupported(err) {
					debug.Log("SEEK_DATA unsupported on %v, falling back to single range: %v", f.Name(), err)
					if pos == 0 {
						yield(model.DataRange{Offset: 0, Length: uint64(size), Hole: false}, nil)
					} else {
						yield(model.DataRange{Offset: uint64(pos), Length: uint64(size - pos), Hole: false}, nil)
					}
					return
				}
				yield(model.DataRange{}, err)
				return
			}

			if dataStart > pos {
				if !synthesizeGap(uint64(pos), uint64(dataStart), yield) {
					return
				}
			}

			holeStart, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
			if err != nil {
				if err == unix.ENXIO {
					holeStart = size
				} else {
					yield(model.DataRange{}, err)
					return
				}
			}
			if holeStart > size {
				holeStart = size
			}

			if holeStart > dataStart {
				dr := model.DataRange{Offset: uint64(dataStart), Length: uint64(holeStart - dataStart), Hole: false}
				if !yield(dr, nil) {
					return
				}
			}

			pos = holeStart
			if pos >= size {
				break
			}
		}

		// restore the file offset; we only used lseek to probe layout.
		_, _ = f.Seek(0, io.SeekStart)
	}
}

func isHoleSeekUnsupported(err error) bool {
	switch err {
	case unix.EINVAL, unix.ENOTSUP, unix.EOPNOTSUPP:
		return true
	}
	return false
}
