//go:build linux

package rangereader

import (
	"encoding/binary"
	"iter"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/model"
)

// New returns the default Linux range reader, which drives FIEMAP and
// falls back to a single full-file range if the filesystem does not
// support it (§4.A).
func New(opts ...Option) Reader {
	c := newConfig(opts...)
	if c.bufferSize < minFiemapBufSize {
		c.bufferSize = minFiemapBufSize
	}
	buf := c.buffer
	if buf == nil {
		buf = make([]byte, c.bufferSize)
	} else if len(buf) < c.bufferSize {
		buf = append(buf, make([]byte, c.bufferSize-len(buf))...)
	}
	return &fiemapReader{buf: buf}
}

const (
	fiemapHeaderSize = 32
	fiemapExtentSize = 56

	fsIocFiemap = 0xC020660B

	fiemapExtentLast   = 0x00000001
	fiemapExtentShared = 0x00002000

	// minFiemapBufSize fits the header plus at least one extent record.
	minFiemapBufSize = fiemapHeaderSize + fiemapExtentSize
)

// fiemapReader issues a paginated FIEMAP ioctl and translates the
// returned extent map into DataRange values, synthesizing holes for
// the gaps FIEMAP leaves implicit.
type fiemapReader struct {
	buf []byte
}

func (r *fiemapReader) IntoBuffer() []byte {
	buf := r.buf
	r.buf = nil
	return buf
}

func (r *fiemapReader) ReadRanges(f *os.File, size int64) iter.Seq2[model.DataRange, error] {
	if size <= 0 {
		return func(func(model.DataRange, error) bool) {}
	}

	return func(yield func(model.DataRange, error) bool) {
		if len(r.buf) < minFiemapBufSize {
			r.buf = make([]byte, minFiemapBufSize)
		}

		var pos uint64
		fileSize := uint64(size)
		done := false

		for !done {
			remaining := fileSize - pos
			extents, last, err := r.query(f, pos, remaining)
			if err != nil {
				if isFiemapUnsupported(err) {
					debug.Log("FIEMAP unsupported on %v, falling back to single range: %v", f.Name(), err)
					// degrade to the whole-file fallback for what's left
					if pos == 0 {
						yield(model.DataRange{Offset: 0, Length: fileSize, Hole: false}, nil)
					} else {
						yield(model.DataRange{Offset: pos, Length: fileSize - pos, Hole: false}, nil)
					}
					return
				}
				yield(model.DataRange{}, err)
				return
			}

			for _, e := range extents {
				if e.logical > pos {
					if !synthesizeGap(pos, e.logical, yield) {
						return
					}
				}

				// FIEMAP reports block-aligned extent lengths, so the
				// last extent of a file whose size isn't block-aligned
				// can extend past EOF. Clamp so Offset+Length never
				// exceeds the reported file size.
				length := e.length
				if e.logical >= fileSize {
					pos = fileSize
					continue
				}
				if e.logical+length > fileSize {
					length = fileSize - e.logical
				}
				if length == 0 {
					pos = e.logical
					continue
				}

				dr := model.DataRange{
					Offset: e.logical,
					Length: length,
					Hole:   false,
					Shared: e.flags&fiemapExtentShared != 0,
				}
				if !yield(dr, nil) {
					return
				}
				pos = e.logical + length
			}

			if last {
				done = true
			} else if len(extents) == 0 {
				// kernel returned nothing and didn't set LAST: nothing more
				// to paginate, treat as end of mapped region.
				done = true
			}
		}

		// trailing hole to the reported file size
		synthesizeGap(pos, fileSize, yield)
	}
}

type fiemapExtentRec struct {
	logical uint64
	length  uint64
	flags   uint32
}

// query issues one FIEMAP ioctl starting at start for up to length
// bytes, reusing r.buf, and returns the extents found plus whether the
// LAST flag was observed.
func (r *fiemapReader) query(f *os.File, start, length uint64) (extents []fiemapExtentRec, last bool, err error) {
	buf := r.buf
	for i := range buf {
		buf[i] = 0
	}

	maxExtents := (len(buf) - fiemapHeaderSize) / fiemapExtentSize
	if maxExtents < 1 {
		maxExtents = 1
	}

	binary.LittleEndian.PutUint64(buf[0:8], start)
	binary.LittleEndian.PutUint64(buf[8:16], length)
	binary.LittleEndian.PutUint32(buf[16:20], 0) // fm_flags
	binary.LittleEndian.PutUint32(buf[20:24], 0) // fm_mapped_extents (out)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(maxExtents))
	binary.LittleEndian.PutUint32(buf[28:32], 0) // fm_reserved

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), fsIocFiemap, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return nil, false, errno
	}

	mapped := binary.LittleEndian.Uint32(buf[20:24])
	extents = make([]fiemapExtentRec, 0, mapped)

	off := fiemapHeaderSize
	for i := uint32(0); i < mapped; i++ {
		logical := binary.LittleEndian.Uint64(buf[off : off+8])
		extLength := binary.LittleEndian.Uint64(buf[off+16 : off+24])
		flags := binary.LittleEndian.Uint32(buf[off+48 : off+52])

		extents = append(extents, fiemapExtentRec{logical: logical, length: extLength, flags: flags})

		if flags&fiemapExtentLast != 0 {
			last = true
		}
		off += fiemapExtentSize
	}

	return extents, last, nil
}

func isFiemapUnsupported(err error) bool {
	switch err {
	case unix.EOPNOTSUPP, unix.ENOTTY, unix.EINVAL:
		return true
	}
	return false
}
