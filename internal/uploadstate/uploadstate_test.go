package uploadstate

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/tumulus/tumulus/internal/ids"
)

func TestCreateAndGetCatalog(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	id := uuid.New()
	checksum := ids.Sum([]byte("catalog bytes"))

	if _, ok, err := db.GetCatalog(id); err != nil || ok {
		t.Fatalf("expected no session before creation, got ok=%v err=%v", ok, err)
	}

	if err := db.CreateCatalog(id, checksum, 1234); err != nil {
		t.Fatalf("CreateCatalog: %v", err)
	}

	s, ok, err := db.GetCatalog(id)
	if err != nil || !ok {
		t.Fatalf("GetCatalog: ok=%v err=%v", ok, err)
	}
	if s.Status != Pending || s.Checksum != checksum || s.CreatedAt != 1234 {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestSetAndGetCatalogExtents(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	id := uuid.New()
	if err := db.CreateCatalog(id, ids.Sum([]byte("x")), 0); err != nil {
		t.Fatal(err)
	}

	a, b := ids.Sum([]byte("a")), ids.Sum([]byte("b"))
	if err := db.SetCatalogExtents(id, []ids.B3{a, b}); err != nil {
		t.Fatalf("SetCatalogExtents: %v", err)
	}

	got, err := db.GetCatalogExtents(id)
	if err != nil {
		t.Fatalf("GetCatalogExtents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 extents, got %d", len(got))
	}

	// replacing the set drops the old members
	c := ids.Sum([]byte("c"))
	if err := db.SetCatalogExtents(id, []ids.B3{c}); err != nil {
		t.Fatalf("SetCatalogExtents (replace): %v", err)
	}
	got, err = db.GetCatalogExtents(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != c {
		t.Fatalf("expected replaced set {c}, got %+v", got)
	}
}

func TestUpdateStatusAndDelete(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	id := uuid.New()
	if err := db.CreateCatalog(id, ids.Sum([]byte("x")), 0); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateStatus(id, Complete); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	s, ok, err := db.GetCatalog(id)
	if err != nil || !ok || s.Status != Complete {
		t.Fatalf("expected Complete status, got %+v ok=%v err=%v", s, ok, err)
	}

	if err := db.DeleteCatalog(id); err != nil {
		t.Fatalf("DeleteCatalog: %v", err)
	}
	if _, ok, err := db.GetCatalog(id); err != nil || ok {
		t.Fatalf("expected no session after delete, got ok=%v err=%v", ok, err)
	}
}
