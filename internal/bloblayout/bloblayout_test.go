package bloblayout

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tumulus/tumulus/internal/ids"
)

func id(b byte) ids.B3 {
	var out ids.B3
	out[0] = b
	return out
}

func TestRoundTrip(t *testing.T) {
	tests := []Layout{
		{TotalBytes: 0, Extents: nil},
		{TotalBytes: 13, Extents: []Extent{{Offset: 0, Length: 13, ID: id(1)}}},
		{
			TotalBytes: 1 << 20,
			Extents: []Extent{
				{Offset: 0, Length: 1 << 17, ID: id(1)},
				{Offset: 1 << 17, Length: 1 << 17, ID: id(2)},
				{Offset: 1 << 18, Length: 1 << 19, ID: id(3)},
			},
		},
	}

	for _, want := range tests {
		buf := Encode(want)
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeRejectsOverlap(t *testing.T) {
	buf := Encode(Layout{
		TotalBytes: 20,
		Extents: []Extent{
			{Offset: 0, Length: 10, ID: id(1)},
			{Offset: 5, Length: 10, ID: id(2)},
		},
	})
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected an error for overlapping extents")
	}
}

func TestDecodeRejectsUnsorted(t *testing.T) {
	buf := Encode(Layout{
		TotalBytes: 20,
		Extents: []Extent{
			{Offset: 10, Length: 5, ID: id(1)},
			{Offset: 0, Length: 5, ID: id(2)},
		},
	})
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected an error for unsorted extents")
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	buf := Encode(Layout{TotalBytes: 1, Extents: []Extent{{Offset: 0, Length: 1, ID: id(1)}}})
	buf[0] = 0xEE
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected an error for unknown version")
	}
}
