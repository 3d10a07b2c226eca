package catalog

import (
	"database/sql"
	"encoding/json"
	"os"

	_ "modernc.org/sqlite"

	"github.com/tumulus/tumulus/internal/debug"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
	"github.com/tumulus/tumulus/internal/model"
)

// Stats summarizes one write (§4.D "Statistics").
type Stats struct {
	FileCount        int64
	BlobExtentRows   int64
	UniqueExtents    int64
	TotalBytes       int64 // sum of non-sparse bytes referenced across all blob_extents
	UniqueBytes      int64 // sum of unique extent bytes
	SparseBytes      int64
	DedupRatio       float64
	SpaceSavedBytes  int64
}

// Write creates (or opens) the SQLite database at path, bootstraps its
// schema, and writes meta plus every file in one transaction (§4.D).
func Write(path string, meta Metadata, files []model.FileInfo) (Stats, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Stats{}, errors.Wrap(err, "open catalog database")
	}
	defer db.Close()

	if err := bootstrap(db); err != nil {
		return Stats{}, err
	}

	dedupedFiles, blobs := dedupe(files)

	tx, err := db.Begin()
	if err != nil {
		return Stats{}, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if err := writeMetadata(tx, meta); err != nil {
		return Stats{}, err
	}
	if err := writeExtents(tx, blobs); err != nil {
		return Stats{}, err
	}
	if err := writeBlobs(tx, blobs); err != nil {
		return Stats{}, err
	}
	if err := writeFiles(tx, dedupedFiles); err != nil {
		return Stats{}, err
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, errors.Wrap(err, "commit transaction")
	}
	tx = nil

	return computeStats(db)
}

// dedupedBlob is a blob after its own extent list has been deduplicated
// by offset, keeping the first occurrence (§4.D step 1).
type dedupedBlob struct {
	id      ids.B3
	bytes   uint64
	extents []model.ExtentInfo
}

// dedupe groups files by blob_id and, within each distinct blob,
// removes duplicate extents at the same offset.
func dedupe(files []model.FileInfo) ([]model.FileInfo, []dedupedBlob) {
	seen := make(map[ids.B3]bool)
	var blobs []dedupedBlob

	for _, fi := range files {
		if fi.Blob == nil || seen[fi.Blob.ID] {
			continue
		}
		seen[fi.Blob.ID] = true

		byOffset := make(map[uint64]bool, len(fi.Blob.Extents))
		extents := make([]model.ExtentInfo, 0, len(fi.Blob.Extents))
		for _, e := range fi.Blob.Extents {
			if byOffset[e.Offset] {
				continue
			}
			byOffset[e.Offset] = true
			extents = append(extents, e)
		}

		blobs = append(blobs, dedupedBlob{id: fi.Blob.ID, bytes: fi.Blob.TotalBytes, extents: extents})
	}

	return files, blobs
}

func writeExtents(tx *sql.Tx, blobs []dedupedBlob) error {
	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO extents(extent_id, bytes) VALUES (?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare extent insert")
	}
	defer stmt.Close()

	written := make(map[ids.B3]bool)
	for _, b := range blobs {
		for _, e := range b.extents {
			if e.IsSparse || written[e.ID] {
				continue
			}
			written[e.ID] = true
			if _, err := stmt.Exec(e.ID.Bytes(), e.Length); err != nil {
				return errors.Wrapf(err, "insert extent %v", e.ID)
			}
		}
	}
	return nil
}

func writeBlobs(tx *sql.Tx, blobs []dedupedBlob) error {
	blobStmt, err := tx.Prepare(`INSERT OR IGNORE INTO blobs(blob_id, bytes, extents) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare blob insert")
	}
	defer blobStmt.Close()

	beStmt, err := tx.Prepare(`INSERT OR IGNORE INTO blob_extents(blob_id, extent_id, offset, bytes) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare blob_extents insert")
	}
	defer beStmt.Close()

	for _, b := range blobs {
		if _, err := blobStmt.Exec(b.id.Bytes(), b.bytes, len(b.extents)); err != nil {
			return errors.Wrapf(err, "insert blob %v", b.id)
		}
		for _, e := range b.extents {
			var extentID interface{}
			if !e.IsSparse {
				extentID = e.ID.Bytes()
			} // else leave nil: sparse holes store a null extent_id
			if _, err := beStmt.Exec(b.id.Bytes(), extentID, e.Offset, e.Length); err != nil {
				return errors.Wrapf(err, "insert blob_extents for blob %v offset %v", b.id, e.Offset)
			}
		}
	}
	return nil
}

func writeFiles(tx *sql.Tx, files []model.FileInfo) error {
	stmt, err := tx.Prepare(`INSERT INTO files(
		path, blob_id, ts_created, ts_modified, ts_accessed, ts_changed,
		unix_mode, unix_owner, unix_group, fs_inode, special
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare file insert")
	}
	defer stmt.Close()

	for _, fi := range files {
		var blobID interface{}
		if fi.Blob != nil {
			blobID = fi.Blob.ID.Bytes()
		}

		special, err := encodeSpecial(fi.Special)
		if err != nil {
			return errors.Wrapf(err, "encode special for %v", fi.RelativePath)
		}

		_, err = stmt.Exec(
			[]byte(fi.RelativePath), blobID,
			nullableInt64(fi.TSCreated), nullableInt64(fi.TSModified),
			nullableInt64(fi.TSAccessed), nullableInt64(fi.TSChanged),
			nullableUint32(fi.UnixMode), nullableUint32(fi.UnixOwner), nullableUint32(fi.UnixGroup),
			nullableUint64(fi.FSInode), special,
		)
		if err != nil {
			return errors.Wrapf(err, "insert file %v", fi.RelativePath)
		}
	}
	return nil
}

type specialDoc struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
}

func encodeSpecial(s model.Special) (interface{}, error) {
	if s.Kind == model.SpecialNone {
		return nil, nil
	}
	doc := specialDoc{Target: s.Target}
	switch s.Kind {
	case model.SpecialSymlink:
		doc.Kind = "symlink"
	case model.SpecialDirectory:
		doc.Kind = "directory"
	default:
		doc.Kind = "other"
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableUint32(p *uint32) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullableUint64(p *uint64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func computeStats(db *sql.DB) (Stats, error) {
	var s Stats

	err := db.QueryRow(`SELECT COUNT(*) FROM files`).Scan(&s.FileCount)
	if err != nil {
		return Stats{}, errors.Wrap(err, "count files")
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM blob_extents`).Scan(&s.BlobExtentRows)
	if err != nil {
		return Stats{}, errors.Wrap(err, "count blob_extents")
	}
	err = db.QueryRow(`SELECT COUNT(*) FROM extents`).Scan(&s.UniqueExtents)
	if err != nil {
		return Stats{}, errors.Wrap(err, "count extents")
	}
	err = db.QueryRow(`SELECT COALESCE(SUM(bytes), 0) FROM blob_extents WHERE extent_id IS NOT NULL`).Scan(&s.TotalBytes)
	if err != nil {
		return Stats{}, errors.Wrap(err, "sum blob_extents bytes")
	}
	err = db.QueryRow(`SELECT COALESCE(SUM(bytes), 0) FROM extents`).Scan(&s.UniqueBytes)
	if err != nil {
		return Stats{}, errors.Wrap(err, "sum extents bytes")
	}
	err = db.QueryRow(`SELECT COALESCE(SUM(bytes), 0) FROM blob_extents WHERE extent_id IS NULL`).Scan(&s.SparseBytes)
	if err != nil {
		return Stats{}, errors.Wrap(err, "sum sparse bytes")
	}

	if s.UniqueBytes > 0 {
		s.DedupRatio = float64(s.TotalBytes) / float64(s.UniqueBytes)
	}
	s.SpaceSavedBytes = s.TotalBytes - s.UniqueBytes

	return s, nil
}

// Compress rewrites the catalog at path in place as a zstd stream
// (§4.D "then optionally compressed"). The raw file is renamed aside,
// then streamed through a zstd encoder back to the original name.
func Compress(path string, level int) error {
	tmp := path + ".raw"
	if err := os.Rename(path, tmp); err != nil {
		return errors.Wrap(err, "rename raw catalog aside")
	}

	in, err := os.Open(tmp)
	if err != nil {
		return errors.Wrap(err, "open raw catalog")
	}
	defer in.Close()

	out, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create compressed catalog")
	}

	if err := compressStream(out, in, level); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		_ = os.Rename(tmp, path)
		return err
	}

	if err := out.Close(); err != nil {
		return errors.Wrap(err, "close compressed catalog")
	}
	if err := os.Remove(tmp); err != nil {
		debug.Log("remove raw catalog %v failed: %v", tmp, err)
	}
	return nil
}
