// Package extent turns one DataRange plus a memory-mapped view of its
// file into the ExtentInfo records the catalog stores: a sparse range
// becomes a single zero-id placeholder, a non-sparse range is split
// into fixed-size, offset-aligned subchunks and each is hashed
// independently of the whole-file blob hash.
package extent

import (
	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
)

// MaxSubchunkSize is the largest a single non-sparse ExtentInfo may be.
// It is a fixed package constant rather than a tunable: the invariant
// that identical content at identical offsets always yields identical
// extent IDs depends on every producer using the same boundary.
const MaxSubchunkSize = 128 * 1024

// Split turns one DataRange over data into the ExtentInfo records it
// decomposes to. data must be exactly dr.Length bytes: the slice of
// the file's mapped content corresponding to dr. fsExtent is stamped
// onto every returned record unchanged; the caller assigns it once per
// DataRange from the range reader.
func Split(dr model.DataRange, data []byte, fsExtent uint32) []model.ExtentInfo {
	if dr.Hole {
		return []model.ExtentInfo{{
			ID:       ids.Zero,
			Offset:   dr.Offset,
			Length:   dr.Length,
			IsSparse: true,
			IsShared: dr.Shared,
			FSExtent: fsExtent,
		}}
	}

	if uint64(len(data)) != dr.Length {
		// a defensive guard: callers are expected to hand us exactly the
		// mapped bytes for this range.
		panic("extent: data length does not match range length")
	}

	if dr.Length <= MaxSubchunkSize {
		return []model.ExtentInfo{{
			ID:       ids.Sum(data),
			Offset:   dr.Offset,
			Length:   dr.Length,
			IsSparse: false,
			IsShared: dr.Shared,
			FSExtent: fsExtent,
		}}
	}

	n := (dr.Length + MaxSubchunkSize - 1) / MaxSubchunkSize
	out := make([]model.ExtentInfo, 0, n)
	for off := uint64(0); off < dr.Length; off += MaxSubchunkSize {
		end := off + MaxSubchunkSize
		if end > dr.Length {
			end = dr.Length
		}
		chunk := data[off:end]
		out = append(out, model.ExtentInfo{
			ID:       ids.Sum(chunk),
			Offset:   dr.Offset + off,
			Length:   end - off,
			IsSparse: false,
			IsShared: dr.Shared,
			FSExtent: fsExtent,
		})
	}
	return out
}

// BlobHasher accumulates the whole-file content hash independently of
// the per-subchunk extent hashes computed by Split: blob_id is never
// derivable from the concatenation of extent IDs (§4.B).
type BlobHasher struct {
	h *ids.Hasher
}

// NewBlobHasher returns a fresh whole-file hash accumulator.
func NewBlobHasher() *BlobHasher {
	return &BlobHasher{h: ids.NewHasher()}
}

// Write feeds the next contiguous slice of file content into the blob
// hash. Callers must feed slices in file order with no gaps, including
// zero bytes for sparse ranges, so the resulting ID covers the whole
// logical file content.
func (b *BlobHasher) Write(p []byte) {
	_, _ = b.h.Write(p)
}

// Sum returns the accumulated blob_id.
func (b *BlobHasher) Sum() ids.B3 {
	return b.h.Sum()
}
