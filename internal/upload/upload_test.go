package upload

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tumulus/tumulus/internal/catalog"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
	"github.com/tumulus/tumulus/internal/objectstore"
	"github.com/tumulus/tumulus/internal/server"
	"github.com/tumulus/tumulus/internal/uploadstate"
)

const fileContent = "hello, tumulus"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := objectstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("objectstore.New: %v", err)
	}
	state, err := uploadstate.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("uploadstate.Open: %v", err)
	}
	t.Cleanup(func() { state.Close() })

	srv := server.New(store, state)
	return httptest.NewServer(srv.Router())
}

func buildCatalogWithSource(t *testing.T) (catalogPath, sourceRoot string) {
	t.Helper()

	sourceRoot = t.TempDir()
	if err := os.WriteFile(filepath.Join(sourceRoot, "a.bin"), []byte(fileContent), 0o644); err != nil {
		t.Fatalf("write source file: %v", err)
	}

	extID := ids.Sum([]byte(fileContent))
	blob := &model.BlobInfo{
		ID:         extID,
		TotalBytes: uint64(len(fileContent)),
		Extents:    []model.ExtentInfo{{ID: extID, Offset: 0, Length: uint64(len(fileContent))}},
	}
	files := []model.FileInfo{{RelativePath: "a.bin", Blob: blob}}

	catalogPath = filepath.Join(t.TempDir(), "catalog.sqlite")
	meta := catalog.Metadata{Protocol: 1, ID: "snap-1", Machine: "m1", Tree: extID.String(), Created: 1000}
	if _, err := catalog.Write(catalogPath, meta, files); err != nil {
		t.Fatalf("catalog.Write: %v", err)
	}
	return catalogPath, sourceRoot
}

func fastBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = time.Second
	return bo
}

func TestUploadEndToEnd(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	catalogPath, sourceRoot := buildCatalogWithSource(t)
	client := New(ts.URL)

	result, err := client.Upload(context.Background(), Options{
		ID:          "11111111-1111-1111-1111-111111111111",
		CatalogPath: catalogPath,
		SourceRoot:  sourceRoot,
		Backoff:     fastBackoff(),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.ExtentsSent != 1 {
		t.Fatalf("ExtentsSent = %d, want 1", result.ExtentsSent)
	}
	if result.Resumed {
		t.Fatalf("Resumed = true for a brand-new session")
	}
}

func TestUploadResumesCompletedSession(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	catalogPath, sourceRoot := buildCatalogWithSource(t)
	id := "22222222-2222-2222-2222-222222222222"

	client := New(ts.URL)
	if _, err := client.Upload(context.Background(), Options{
		ID:          id,
		CatalogPath: catalogPath,
		SourceRoot:  sourceRoot,
		Backoff:     fastBackoff(),
	}); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	result, err := client.Upload(context.Background(), Options{
		ID:          id,
		CatalogPath: catalogPath,
		SourceRoot:  sourceRoot,
		Backoff:     fastBackoff(),
	})
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if !result.Resumed {
		t.Fatalf("Resumed = false for an already-complete session")
	}
	if result.ExtentsSent != 0 {
		t.Fatalf("ExtentsSent = %d, want 0 for a resumed, already-complete session", result.ExtentsSent)
	}
}

func TestUploadDetectsExtentChangedOnDisk(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	catalogPath, sourceRoot := buildCatalogWithSource(t)
	if err := os.WriteFile(filepath.Join(sourceRoot, "a.bin"), []byte("mutated content!"), 0o644); err != nil {
		t.Fatalf("mutate source file: %v", err)
	}

	client := New(ts.URL)
	_, err := client.Upload(context.Background(), Options{
		ID:          "33333333-3333-3333-3333-333333333333",
		CatalogPath: catalogPath,
		SourceRoot:  sourceRoot,
		Backoff:     fastBackoff(),
	})
	if err == nil {
		t.Fatalf("expected an ExtentChanged error")
	}
	var changed *ExtentChanged
	if !errors.As(err, &changed) {
		t.Fatalf("error = %v, want *ExtentChanged", err)
	}
}
