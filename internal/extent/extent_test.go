package extent

import (
	"bytes"
	"testing"

	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
)

func TestSplitSparseRange(t *testing.T) {
	dr := model.DataRange{Offset: 100, Length: 50, Hole: true}
	got := Split(dr, nil, 3)
	if len(got) != 1 {
		t.Fatalf("expected exactly one ExtentInfo for a sparse range, got %d", len(got))
	}
	e := got[0]
	if !e.IsSparse || e.ID != ids.Zero || e.Offset != 100 || e.Length != 50 || e.FSExtent != 3 {
		t.Fatalf("unexpected sparse extent: %+v", e)
	}
}

func TestSplitSmallRangeSingleExtent(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 4096)
	dr := model.DataRange{Offset: 0, Length: uint64(len(data))}
	got := Split(dr, data, 1)
	if len(got) != 1 {
		t.Fatalf("expected one extent, got %d", len(got))
	}
	if got[0].ID != ids.Sum(data) {
		t.Fatal("extent id does not match content hash")
	}
}

func TestSplitLargeRangeIsOffsetAligned(t *testing.T) {
	length := 3*MaxSubchunkSize + 17
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i)
	}
	dr := model.DataRange{Offset: 1 << 20, Length: uint64(length)}
	got := Split(dr, data, 7)

	if len(got) != 4 {
		t.Fatalf("expected 4 subchunks, got %d", len(got))
	}
	for i, e := range got {
		wantOffset := dr.Offset + uint64(i*MaxSubchunkSize)
		if e.Offset != wantOffset {
			t.Fatalf("subchunk %d offset = %d, want %d", i, e.Offset, wantOffset)
		}
		if e.FSExtent != 7 {
			t.Fatalf("subchunk %d fs_extent = %d, want 7", i, e.FSExtent)
		}
	}
	last := got[3]
	if last.Length != 17 {
		t.Fatalf("last subchunk length = %d, want 17", last.Length)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	data := bytes.Repeat([]byte{0x01, 0x02, 0x03}, MaxSubchunkSize)
	dr := model.DataRange{Offset: 4096, Length: uint64(len(data))}

	a := Split(dr, data, 0)
	b := Split(dr, data, 0)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic subchunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("non-deterministic subchunk %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestBlobHasherIndependentFromExtentHashes(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, MaxSubchunkSize+10)
	dr := model.DataRange{Offset: 0, Length: uint64(len(data))}
	extents := Split(dr, data, 0)

	bh := NewBlobHasher()
	bh.Write(data)
	blobID := bh.Sum()

	for _, e := range extents {
		if e.ID == blobID {
			t.Fatal("extent hash unexpectedly equals blob hash")
		}
	}
	if blobID != ids.Sum(data) {
		t.Fatal("blob hash does not match whole-content hash")
	}
}
