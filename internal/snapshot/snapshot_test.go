package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tumulus/tumulus/internal/ids"
)

func TestWalkRegularFileAndSymlink(t *testing.T) {
	root := t.TempDir()

	content := []byte("hello, tumulus")
	if err := os.WriteFile(filepath.Join(root, "a.txt"), content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("a.txt", filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	result, err := Walk(context.Background(), Options{Root: root})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	byPath := make(map[string]int)
	for i, fi := range result.Files {
		byPath[fi.RelativePath] = i
	}

	fileIdx, ok := byPath["a.txt"]
	if !ok {
		t.Fatal("a.txt missing from walk result")
	}
	fi := result.Files[fileIdx]
	if fi.Blob == nil {
		t.Fatal("expected a.txt to have a blob")
	}
	if fi.Blob.ID != ids.Sum(content) {
		t.Fatalf("blob id mismatch: got %v, want %v", fi.Blob.ID, ids.Sum(content))
	}
	if fi.Blob.TotalBytes != uint64(len(content)) {
		t.Fatalf("total bytes = %d, want %d", fi.Blob.TotalBytes, len(content))
	}

	linkIdx, ok := byPath["link"]
	if !ok {
		t.Fatal("link missing from walk result")
	}
	if result.Files[linkIdx].Special.Target != "a.txt" {
		t.Fatalf("symlink target = %q, want a.txt", result.Files[linkIdx].Special.Target)
	}

	subIdx, ok := byPath["sub"]
	if !ok {
		t.Fatal("sub missing from walk result")
	}
	if result.Files[subIdx].Blob != nil {
		t.Fatal("directory should not have a blob")
	}
}

func TestWalkEmptyFileHasEmptyBlob(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "empty"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := Walk(context.Background(), Options{Root: root})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(result.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(result.Files))
	}
	fi := result.Files[0]
	if fi.Blob == nil {
		t.Fatal("expected empty file to still have a blob")
	}
	if fi.Blob.TotalBytes != 0 || len(fi.Blob.Extents) != 0 {
		t.Fatalf("expected empty blob, got %+v", fi.Blob)
	}
}
