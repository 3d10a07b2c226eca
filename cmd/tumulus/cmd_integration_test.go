package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tumulus/tumulus/internal/objectstore"
	"github.com/tumulus/tumulus/internal/server"
	"github.com/tumulus/tumulus/internal/uploadstate"
)

func TestCatalogThenUploadEndToEnd(t *testing.T) {
	dir := t.TempDir()
	srcRoot := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcRoot, "hello.txt"), []byte("hello tumulus"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := objectstore.New(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}
	state, err := uploadstate.Open(filepath.Join(dir, "state.sqlite"))
	if err != nil {
		t.Fatalf("uploadstate.Open: %v", err)
	}
	defer state.Close()

	srv := server.New(store, state)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	catalogPath := filepath.Join(dir, "snapshot.catalog")

	var buf bytes.Buffer
	cmdCatalog.SetOut(&buf)
	cmdRoot.SetArgs([]string{"catalog", srcRoot, catalogPath})
	if err := cmdRoot.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if _, err := os.Stat(catalogPath); err != nil {
		t.Fatalf("catalog not written: %v", err)
	}

	buf.Reset()
	cmdUpload.SetOut(&buf)
	cmdRoot.SetArgs([]string{"upload", "--server", ts.URL, "--override-source", srcRoot, catalogPath})
	if err := cmdRoot.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("upload: %v", err)
	}
}
