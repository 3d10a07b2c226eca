// Package model holds the data-model types shared across the
// snapshotting pipeline: the range reader's output, the chunker's
// extents, a file's blob, and the per-file record that the catalog
// writer consumes. Keeping these in one leaf package lets the range
// reader, chunker, file processor, catalog writer/reader and tree
// hasher all agree on the same shapes without importing each other.
package model

import "github.com/tumulus/tumulus/internal/ids"

// DataRange describes one contiguous span of a file as reported by the
// platform's range reader (§4.A). Hole ranges read as zeros and store
// no data; Shared is best-effort and only reliable on platforms that
// expose reflink information.
type DataRange struct {
	Offset uint64
	Length uint64
	Hole   bool
	Shared bool
}

// End returns Offset+Length.
func (r DataRange) End() uint64 {
	return r.Offset + r.Length
}

// ExtentInfo is one addressable, content-addressed chunk (§4.B). If
// IsSparse, ID is the all-zero sentinel and no bytes are stored for it.
// FSExtent groups subchunks that came from the same underlying
// filesystem extent (same DataRange).
type ExtentInfo struct {
	ID       ids.B3
	Offset   uint64
	Length   uint64
	IsSparse bool
	IsShared bool
	FSExtent uint32
}

// BlobInfo is the content of one whole regular file: an ordered,
// non-overlapping sequence of extents covering [0, TotalBytes).
type BlobInfo struct {
	ID         ids.B3
	TotalBytes uint64
	Extents    []ExtentInfo
}

// SpecialKind tags the non-regular-file variants a FileInfo can take.
type SpecialKind int

const (
	// SpecialNone marks a regular file (or empty regular file).
	SpecialNone SpecialKind = iota
	SpecialSymlink
	SpecialDirectory
	SpecialOther
)

// Special carries the metadata for non-regular-file entries.
type Special struct {
	Kind   SpecialKind
	Target string // populated only for SpecialSymlink
}

// FileInfo is one entry of a snapshot: a relative path plus either a
// blob (regular file) or a Special tag (directory/symlink/other).
type FileInfo struct {
	RelativePath string // '/'-separated, relative to the snapshot root

	Blob    *BlobInfo // non-nil iff this is a regular file
	Special Special   // meaningful iff Blob == nil

	TSCreated  *int64 // milliseconds since epoch
	TSModified *int64
	TSAccessed *int64
	TSChanged  *int64

	UnixMode  *uint32
	UnixOwner *uint32
	UnixGroup *uint32

	FSInode *uint64
}

// IsRegular reports whether fi describes a regular file (has a blob).
func (fi FileInfo) IsRegular() bool {
	return fi.Blob != nil
}
