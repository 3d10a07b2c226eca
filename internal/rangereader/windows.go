//go:build windows

package rangereader

import (
	"encoding/binary"
	"iter"
	"os"

	"golang.org/x/sys/windows"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/model"
)

// New returns the default Windows range reader, driven by
// FSCTL_QUERY_ALLOCATED_RANGES (§4.A "Windows").
func New(opts ...Option) Reader {
	c := newConfig(opts...)
	if c.bufferSize < minRangeBufSize {
		c.bufferSize = minRangeBufSize
	}
	buf := c.buffer
	if buf == nil {
		buf = make([]byte, c.bufferSize)
	}
	return &allocRangeReader{buf: buf}
}

const (
	fsctlQueryAllocatedRanges = 0x000940CF

	// FILE_ALLOCATED_RANGE_BUFFER is two int64s: FileOffset, Length.
	rangeRecordSize = 16

	minRangeBufSize = rangeRecordSize * 64
)

type allocRangeReader struct {
	buf []byte
}

func (r *allocRangeReader) IntoBuffer() []byte {
	buf := r.buf
	r.buf = nil
	return buf
}

func (r *allocRangeReader) ReadRanges(f *os.File, size int64) iter.Seq2[model.DataRange, error] {
	if size <= 0 {
		return func(func(model.DataRange, error) bool) {}
	}

	return func(yield func(model.DataRange, error) bool) {
		handle := windows.Handle(f.Fd())

		in := make([]byte, rangeRecordSize)
		binary.LittleEndian.PutUint64(in[0:8], 0)
		binary.LittleEndian.PutUint64(in[8:16], uint64(size))

		var pos uint64

		for {
			out := r.buf
			var bytesReturned uint32

			err := windows.DeviceIoControl(
				handle,
				fsctlQueryAllocatedRanges,
				&in[0],
				uint32(len(in)),
				&out[0],
				uint32(len(out)),
				&bytesReturned,
				nil,
			)
			if err != nil {
				if err == windows.ERROR_MORE_DATA {
					// grow the buffer and retry the same query once.
					r.buf = make([]byte, len(r.buf)*2)
					out = r.buf
					err = windows.DeviceIoControl(
						handle, fsctlQueryAllocatedRanges,
						&in[0], uint32(len(in)),
						&out[0], uint32(len(out)),
						&bytesReturned, nil,
					)
				}
				if err != nil {
					if isAllocatedRangesUnsupported(err) {
						debug.Log("FSCTL_QUERY_ALLOCATED_RANGES unsupported on %v, falling back to single range: %v", f.Name(), err)
						if pos == 0 {
							yield(model.DataRange{Offset: 0, Length: uint64(size), Hole: false}, nil)
						} else {
							yield(model.DataRange{Offset: pos, Length: uint64(size) - pos, Hole: false}, nil)
						}
						return
					}
					yield(model.DataRange{}, err)
					return
				}
			}

			count := int(bytesReturned) / rangeRecordSize
			fileSize := uint64(size)
			for i := 0; i < count; i++ {
				rec := out[i*rangeRecordSize : (i+1)*rangeRecordSize]
				offset := binary.LittleEndian.Uint64(rec[0:8])
				length := binary.LittleEndian.Uint64(rec[8:16])

				if offset > pos {
					if !synthesizeGap(pos, offset, yield) {
						return
					}
				}

				// allocated ranges are reported at cluster granularity,
				// so the final range can extend past EOF. Clamp so
				// Offset+Length never exceeds the file size.
				if offset >= fileSize {
					pos = fileSize
					continue
				}
				if offset+length > fileSize {
					length = fileSize - offset
				}
				if length == 0 {
					pos = offset
					continue
				}

				dr := model.DataRange{Offset: offset, Length: length, Hole: false}
				if !yield(dr, nil) {
					return
				}
				pos = offset + length
			}

			// a short, non-full response means this was the last page.
			break
		}

		synthesizeGap(pos, uint64(size), yield)
	}
}

func isAllocatedRangesUnsupported(err error) bool {
	switch err {
	case windows.ERROR_INVALID_FUNCTION, windows.ERROR_NOT_SUPPORTED:
		return true
	}
	return false
}
