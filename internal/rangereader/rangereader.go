// Package rangereader enumerates a file's on-disk data ranges: the
// spans that hold real bytes and the holes in between that read as
// zero and occupy no space. The concrete strategy is chosen at compile
// time per platform (FIEMAP on Linux, hole-seek on macOS/FreeBSD,
// allocated-range queries on Windows, a single-range fallback
// elsewhere), but all of them share the Reader interface in this file
// so the rest of the pipeline never needs to know which one is active.
package rangereader

import (
	"iter"
	"os"

	"github.com/tumulus/tumulus/internal/model"
)

// DefaultBufferSize is used when no explicit buffer size is requested.
// It comfortably holds a FIEMAP request header plus a page or so of
// extent records, which keeps the common case to one ioctl per file.
const DefaultBufferSize = 64 * 1024

// Reader yields the data/hole ranges of one open file. A Reader may
// hold a reusable buffer between calls to amortize allocation across
// many files processed by the same worker (§5); it is therefore not
// safe for concurrent use by multiple goroutines.
type Reader interface {
	// ReadRanges returns a lazy sequence of DataRange values covering
	// [0, size) without overlap or gap. Iteration may stop early if the
	// consumer stops pulling; a mid-iteration failure is reported by
	// yielding a zero DataRange together with a non-nil error, after
	// which the sequence is exhausted.
	ReadRanges(f *os.File, size int64) iter.Seq2[model.DataRange, error]

	// IntoBuffer releases the reader's internal buffer (if any) so the
	// caller can hand it to WithBuffer on another Reader, avoiding a
	// fresh allocation.
	IntoBuffer() []byte
}

// Option configures a Reader returned by New.
type Option func(*config)

type config struct {
	bufferSize int
	buffer     []byte
}

// WithBufferSize requests a minimum buffer size for platforms that
// issue a kernel query through a caller-supplied buffer (FIEMAP,
// btrfs tree-search, Windows allocated-ranges). Implementations that
// don't need a buffer ignore this option.
func WithBufferSize(n int) Option {
	return func(c *config) { c.bufferSize = n }
}

// WithBuffer reuses buf instead of allocating a new buffer, continuing
// to grow it on demand. Typically fed from a previous Reader's
// IntoBuffer.
func WithBuffer(buf []byte) Option {
	return func(c *config) { c.buffer = buf }
}

func newConfig(opts ...Option) config {
	c := config{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&c)
	}
	if c.buffer != nil && len(c.buffer) > c.bufferSize {
		c.bufferSize = len(c.buffer)
	}
	return c
}

// singleRange yields one DataRange spanning the whole file, or nothing
// for an empty file. It backs the cross-platform fallback and is also
// what the Linux FIEMAP reader degrades to on EOPNOTSUPP/ENOTTY/EINVAL
// (§4.A).
func singleRange(size int64) iter.Seq2[model.DataRange, error] {
	return func(yield func(model.DataRange, error) bool) {
		if size <= 0 {
			return
		}
		yield(model.DataRange{Offset: 0, Length: uint64(size), Hole: false, Shared: false}, nil)
	}
}

// synthesizeGap yields a hole range [from, to) if non-empty.
func synthesizeGap(from, to uint64, yield func(model.DataRange, error) bool) bool {
	if to <= from {
		return true
	}
	return yield(model.DataRange{Offset: from, Length: to - from, Hole: true}, nil)
}

// fallbackReader is the reader used on platforms with no extent query
// mechanism, and the terminal state of the Linux reader after a
// permanent ioctl failure.
type fallbackReader struct{}

// NewFallback returns a Reader that always yields a single full-file
// range (§4.A "Fallback").
func NewFallback(...Option) Reader { return fallbackReader{} }

func (fallbackReader) ReadRanges(_ *os.File, size int64) iter.Seq2[model.DataRange, error] {
	return singleRange(size)
}

func (fallbackReader) IntoBuffer() []byte { return nil }
