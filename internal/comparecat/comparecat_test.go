package comparecat

import (
	"path/filepath"
	"testing"

	"github.com/tumulus/tumulus/internal/catalog"
	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
)

func id(b byte) ids.B3 {
	var out ids.B3
	out[0] = b
	return out
}

func writeCatalog(t *testing.T, path string, extentByte byte, length uint64) {
	t.Helper()
	blob := &model.BlobInfo{
		ID:         id(100),
		TotalBytes: length,
		Extents:    []model.ExtentInfo{{ID: id(extentByte), Offset: 0, Length: length}},
	}
	meta := catalog.Metadata{Protocol: 1, ID: "x", Machine: "m", Tree: id(9).String(), Created: 1}
	if _, err := catalog.Write(path, meta, []model.FileInfo{{RelativePath: "f", Blob: blob}}); err != nil {
		t.Fatalf("catalog.Write: %v", err)
	}
}

func TestCompareDisjointCatalogs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sqlite")
	b := filepath.Join(dir, "b.sqlite")
	writeCatalog(t, a, 1, 1000)
	writeCatalog(t, b, 2, 2000)

	r, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if r.ToTransferCount != 1 || r.ToTransferBytes != 1000 {
		t.Fatalf("unexpected to-transfer: %+v", r)
	}
	if r.SharedCount != 0 {
		t.Fatalf("unexpected shared count: %+v", r)
	}
	if r.BOnlyCount != 1 || r.BOnlyBytes != 2000 {
		t.Fatalf("unexpected b-only: %+v", r)
	}
}

func TestCompareIdenticalCatalogs(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.sqlite")
	b := filepath.Join(dir, "b.sqlite")
	writeCatalog(t, a, 5, 500)
	writeCatalog(t, b, 5, 500)

	r, err := Compare(a, b)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if r.SharedCount != 1 || r.ToTransferCount != 0 || r.BOnlyCount != 0 {
		t.Fatalf("expected fully shared catalogs, got %+v", r)
	}
}
