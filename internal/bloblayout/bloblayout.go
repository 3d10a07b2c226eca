// Package bloblayout implements the compact binary encoding of a blob's
// extent layout that the server stores under /blobs/<id> (§6 of the
// design). The format is a fixed header followed by fixed-size extent
// records so that the server can look up a blob's layout with a single
// read and no parsing library.
package bloblayout

import (
	"encoding/binary"
	"io"

	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
)

const (
	// Version is the only encoding version understood by this package.
	Version = 0x01

	// idSize is the on-disk size of an extent id, matching ids.Length.
	idSize = 0x20

	headerSize = 18
	recordSize = 8 + 8 + idSize // offset + length + extent_id
)

// ErrUnknownVersion is returned by Decode when the leading version byte
// is not Version.
var ErrUnknownVersion = errors.New("bloblayout: unknown version")

// ErrNotSorted is returned by Decode when extent rows are not strictly
// ascending by offset.
var ErrNotSorted = errors.New("bloblayout: extents not sorted by offset")

// ErrOverlapping is returned by Decode when two extent rows overlap.
var ErrOverlapping = errors.New("bloblayout: extents overlap")

// Extent is one row of a blob's layout: a byte range at Offset, with the
// content identified by ID. A sparse hole is carried as a row whose ID
// is the all-zero id; the codec itself does not distinguish it from a
// data row.
type Extent struct {
	Offset uint64
	Length uint64
	ID     ids.B3
}

// Layout is the in-memory projection of a blob's extent list, as read
// from the catalog's blob_extents table (every row, sparse rows with a
// zero ID) by the Catalog Reader.
type Layout struct {
	TotalBytes uint64
	Extents    []Extent
}

// Encode serializes l using the format described in §6: a 2-byte
// version/id-size header, an 8-byte total_bytes and an 8-byte extent
// count, then one 48-byte
// record per extent.
func Encode(l Layout) []byte {
	buf := make([]byte, headerSize+recordSize*len(l.Extents))

	buf[0] = Version
	buf[1] = idSize
	binary.LittleEndian.PutUint64(buf[2:10], l.TotalBytes)
	binary.LittleEndian.PutUint64(buf[10:18], uint64(len(l.Extents)))

	off := headerSize
	for _, e := range l.Extents {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Offset)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Length)
		copy(buf[off+16:off+16+idSize], e.ID[:])
		off += recordSize
	}

	return buf
}

// Decode parses the binary encoding produced by Encode, rejecting
// unknown versions and out-of-order or overlapping extent rows.
func Decode(buf []byte) (Layout, error) {
	if len(buf) < headerSize {
		return Layout{}, errors.Errorf("bloblayout: truncated header (%d bytes)", len(buf))
	}
	if buf[0] != Version {
		return Layout{}, errors.Wrapf(ErrUnknownVersion, "got %d", buf[0])
	}
	if buf[1] != idSize {
		return Layout{}, errors.Errorf("bloblayout: unexpected id size %d", buf[1])
	}

	l := Layout{
		TotalBytes: binary.LittleEndian.Uint64(buf[2:10]),
	}
	count := binary.LittleEndian.Uint64(buf[10:18])

	want := headerSize + recordSize*int(count)
	if len(buf) != want {
		return Layout{}, errors.Errorf("bloblayout: truncated body, want %d bytes got %d", want, len(buf))
	}

	if count > 0 {
		l.Extents = make([]Extent, 0, count)
	}
	off := headerSize
	var prevOffset, prevEnd uint64
	havePrev := false
	for i := uint64(0); i < count; i++ {
		var e Extent
		e.Offset = binary.LittleEndian.Uint64(buf[off : off+8])
		e.Length = binary.LittleEndian.Uint64(buf[off+8 : off+16])
		copy(e.ID[:], buf[off+16:off+16+idSize])
		off += recordSize

		if havePrev {
			if e.Offset <= prevOffset {
				return Layout{}, ErrNotSorted
			}
			if e.Offset < prevEnd {
				return Layout{}, ErrOverlapping
			}
		}
		prevOffset, prevEnd = e.Offset, e.Offset+e.Length
		havePrev = true

		l.Extents = append(l.Extents, e)
	}

	return l, nil
}

// WriteTo encodes l with Encode and writes the result to w in a single
// Write call. It implements io.WriterTo.
func (l Layout) WriteTo(w io.Writer) (int64, error) {
	buf := Encode(l)
	n, err := w.Write(buf)
	return int64(n), err
}
