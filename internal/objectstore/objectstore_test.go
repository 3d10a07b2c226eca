package objectstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/tumulus/tumulus/internal/ids"
)

func TestExtentPathIsSharded(t *testing.T) {
	s := &Store{Path: "/base"}
	id := ids.Sum([]byte("hello"))
	got := s.ExtentPath(id)
	hex := id.String()
	want := filepath.Join("/base", "extents", hex[0:2], hex[2:4], hex[4:])
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWriteAtomicCreatesAndSkipsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c")

	wrote, err := WriteAtomic(path, []byte("content"))
	if err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if !wrote {
		t.Fatal("expected first write to report wrote=true")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content" {
		t.Fatalf("content = %q", data)
	}

	wrote, err = WriteAtomic(path, []byte("different"))
	if err != nil {
		t.Fatalf("WriteAtomic (second): %v", err)
	}
	if wrote {
		t.Fatal("expected second write to be a no-op")
	}

	data, _ = os.ReadFile(path)
	if string(data) != "content" {
		t.Fatal("existing content must not be overwritten")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if e.Name() != "c" {
			t.Fatalf("leftover temp file: %v", e.Name())
		}
	}
}

func TestExtentsExist(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	present := ids.Sum([]byte("present"))
	absent := ids.Sum([]byte("absent"))

	if _, err := WriteAtomic(s.ExtentPath(present), []byte("x")); err != nil {
		t.Fatal(err)
	}

	got, err := s.ExtentsExist([]ids.B3{present, absent})
	if err != nil {
		t.Fatal(err)
	}
	if !got[present] || got[absent] {
		t.Fatalf("unexpected existence map: %+v", got)
	}
}

func TestCopyExtentStreamsContent(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}

	content := bytes.Repeat([]byte("x"), readBufferSize*2+17)
	id := ids.Sum(content)
	if _, err := WriteAtomic(s.ExtentPath(id), content); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := s.CopyExtent(&buf, id)
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(content)) || !bytes.Equal(buf.Bytes(), content) {
		t.Fatal("streamed content mismatch")
	}
}
