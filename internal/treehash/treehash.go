// Package treehash computes the canonical content identity of a
// snapshot: a single B3Id derived from the sorted set of
// relative_path -> blob_id pairs, ignoring metadata and timestamps
// (§3, §4.E). Two snapshots with the same tree hash contain identical
// files by content and layout.
package treehash

import (
	"encoding/binary"
	"sort"

	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
)

// Compute returns the tree hash of files. Entries without a blob
// (directories, symlinks, other specials) are excluded.
func Compute(files []model.FileInfo) ids.B3 {
	type entry struct {
		path   string
		blobID ids.B3
	}

	entries := make([]entry, 0, len(files))
	for _, fi := range files {
		if fi.Blob == nil {
			continue
		}
		entries = append(entries, entry{path: fi.RelativePath, blobID: fi.Blob.ID})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	h := ids.NewHasher()
	var lenBuf [4]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(e.path)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(e.path))
		_, _ = h.Write(e.blobID.Bytes())
	}
	return h.Sum()
}
