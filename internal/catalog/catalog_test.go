package catalog

import (
	"path/filepath"
	"testing"

	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
)

func id(b byte) ids.B3 {
	var out ids.B3
	out[0] = b
	return out
}

func sampleFiles() []model.FileInfo {
	blob := &model.BlobInfo{
		ID:         id(1),
		TotalBytes: 200 * 1024,
		Extents: []model.ExtentInfo{
			{ID: id(2), Offset: 0, Length: 128 * 1024, FSExtent: 0},
			{ID: id(3), Offset: 128 * 1024, Length: 72 * 1024, FSExtent: 0},
		},
	}
	sparseBlob := &model.BlobInfo{
		ID:         id(4),
		TotalBytes: 4096,
		Extents: []model.ExtentInfo{
			{ID: ids.Zero, Offset: 0, Length: 4096, IsSparse: true, FSExtent: 0},
		},
	}
	return []model.FileInfo{
		{RelativePath: "a.bin", Blob: blob},
		{RelativePath: "b.bin", Blob: blob}, // shares content with a.bin
		{RelativePath: "sparse.bin", Blob: sparseBlob},
		{RelativePath: "dir", Special: model.Special{Kind: model.SpecialDirectory}},
	}
}

func TestWriteAndStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	meta := Metadata{Protocol: 1, ID: "test-id", Machine: "test-machine", Tree: id(9).String(), Created: 1000}

	stats, err := Write(path, meta, sampleFiles())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if stats.FileCount != 4 {
		t.Fatalf("FileCount = %d, want 4", stats.FileCount)
	}
	if stats.UniqueExtents != 2 {
		t.Fatalf("UniqueExtents = %d, want 2 (shared blob dedup)", stats.UniqueExtents)
	}
	if stats.SparseBytes != 4096 {
		t.Fatalf("SparseBytes = %d, want 4096", stats.SparseBytes)
	}
}

func TestOpenAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	meta := Metadata{Protocol: 1, ID: "test-id", Machine: "m", Tree: id(9).String(), Created: 1000}

	if _, err := Write(path, meta, sampleFiles()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	extentIDs, err := r.ExtentIDs()
	if err != nil {
		t.Fatalf("ExtentIDs: %v", err)
	}
	if len(extentIDs) != 2 {
		t.Fatalf("ExtentIDs: got %d, want 2", len(extentIDs))
	}

	count, err := r.BlobCount()
	if err != nil {
		t.Fatalf("BlobCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("BlobCount = %d, want 2", count)
	}

	var total int
	for batch, err := range r.BlobBatches(1) {
		if err != nil {
			t.Fatalf("BlobBatches: %v", err)
		}
		total += len(batch)
	}
	if total != 2 {
		t.Fatalf("BlobBatches total = %d, want 2", total)
	}

	gotMeta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if gotMeta != meta {
		t.Fatalf("Metadata round trip = %+v, want %+v", gotMeta, meta)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	meta := Metadata{Protocol: 1, ID: "test-id", Machine: "m", Tree: id(9).String(), Created: 1000}

	if _, err := Write(path, meta, sampleFiles()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Compress(path, DefaultCompressionLevel); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open compressed catalog: %v", err)
	}
	defer r.Close()

	count, err := r.BlobCount()
	if err != nil {
		t.Fatalf("BlobCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("BlobCount = %d, want 2", count)
	}
}
