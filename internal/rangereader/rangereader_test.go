package rangereader

import (
	"os"
	"testing"

	"github.com/tumulus/tumulus/internal/model"
)

func collect(t *testing.T, f *os.File, size int64, r Reader) []model.DataRange {
	t.Helper()
	var got []model.DataRange
	for dr, err := range r.ReadRanges(f, size) {
		if err != nil {
			t.Fatalf("ReadRanges: %v", err)
		}
		got = append(got, dr)
	}
	return got
}

func TestFallbackReaderWholeFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "rangereader")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := f.Write(make([]byte, 4096)); err != nil {
		t.Fatal(err)
	}

	got := collect(t, f, 4096, NewFallback())
	want := []model.DataRange{{Offset: 0, Length: 4096, Hole: false}}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestFallbackReaderEmptyFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "rangereader")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	got := collect(t, f, 0, NewFallback())
	if len(got) != 0 {
		t.Fatalf("expected no ranges for an empty file, got %+v", got)
	}
}

func TestSynthesizeGapNoOpWhenEmpty(t *testing.T) {
	called := false
	ok := synthesizeGap(10, 10, func(model.DataRange, error) bool {
		called = true
		return true
	})
	if !ok || called {
		t.Fatalf("expected synthesizeGap to be a no-op for an empty range")
	}
}

func TestSynthesizeGapYieldsHole(t *testing.T) {
	var got model.DataRange
	synthesizeGap(10, 20, func(dr model.DataRange, err error) bool {
		got = dr
		return true
	})
	want := model.DataRange{Offset: 10, Length: 10, Hole: true}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
