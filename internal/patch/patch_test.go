package patch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tumulus/tumulus/internal/ids"
)

func TestCreateAndApplyRoundTrip(t *testing.T) {
	oldContent := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200)
	newContent := oldContent + "one more line at the end\n"

	var patchBuf bytes.Buffer
	if err := Create(strings.NewReader(oldContent), strings.NewReader(newContent), &patchBuf); err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := ids.Sum([]byte(newContent))
	got, err := Apply(strings.NewReader(oldContent), bytes.NewReader(patchBuf.Bytes()), want)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if string(got) != newContent {
		t.Fatal("reconstructed content does not match original new content")
	}
}

func TestApplyRejectsChecksumMismatch(t *testing.T) {
	oldContent := "abcdefgh"
	newContent := "abcdefghijkl"

	var patchBuf bytes.Buffer
	if err := Create(strings.NewReader(oldContent), strings.NewReader(newContent), &patchBuf); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wrong := ids.Sum([]byte("not the right content"))
	_, err := Apply(strings.NewReader(oldContent), bytes.NewReader(patchBuf.Bytes()), wrong)
	if err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}
