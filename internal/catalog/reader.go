package catalog

import (
	"database/sql"
	"fmt"
	"io"
	"iter"
	"os"

	_ "modernc.org/sqlite"

	"github.com/tumulus/tumulus/internal/bloblayout"
	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
)

// Reader is an open catalog, ready for the streamed read operations of
// §4.F. It owns a temporary decompressed copy when the source catalog
// is zstd-framed; Close removes it.
type Reader struct {
	db      *sql.DB
	tmpPath string // non-empty if a decompressed temp file was created
}

// Open detects zstd framing by magic and, if present, decompresses the
// catalog to a temporary file before opening it as a read-only SQLite
// connection.
func Open(path string) (*Reader, error) {
	dbPath, tmpPath, err := DecompressedPath(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+dbPath+"?mode=ro")
	if err != nil {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
		return nil, errors.Wrap(err, "open catalog database")
	}

	return &Reader{db: db, tmpPath: tmpPath}, nil
}

// DecompressedPath returns a path to path's plain (uncompressed)
// SQLite database, decompressing to a temporary file first when path
// is zstd-framed. tmpPath is non-empty exactly when such a temp file
// was created, so callers know what to remove once they're done;
// dbPath itself is always safe to open with sqlite regardless of
// whether decompression happened.
func DecompressedPath(path string) (dbPath string, tmpPath string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", errors.Wrap(err, "open catalog")
	}
	defer f.Close()

	var magic [4]byte
	n, _ := io.ReadFull(f, magic[:])

	if n != 4 || !isZstdFramed(magic[:]) {
		return path, "", nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", "", errors.Wrap(err, "rewind compressed catalog")
	}

	tmp, err := os.CreateTemp("", "tumulus-catalog-*.sqlite")
	if err != nil {
		return "", "", errors.Wrap(err, "create decompression temp file")
	}
	tmpPath = tmp.Name()

	if err := decompressStream(tmp, f); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", "", errors.Wrap(err, "close decompression temp file")
	}

	return tmpPath, tmpPath, nil
}

// Close releases the database connection and any decompression temp file.
func (r *Reader) Close() error {
	err := r.db.Close()
	if r.tmpPath != "" {
		if rmErr := os.Remove(r.tmpPath); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// Metadata returns the metadata row set written at catalog creation
// time (§3).
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "query metadata")
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Metadata{}, errors.Wrap(err, "scan metadata row")
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, errors.Wrap(err, "iterate metadata")
	}

	var m Metadata
	m.ID = kv["id"]
	m.Machine = kv["machine"]
	m.Tree = kv["tree"]
	if p, ok := kv["protocol"]; ok {
		if _, err := fmt.Sscanf(p, "%d", &m.Protocol); err != nil {
			return Metadata{}, errors.Wrap(err, "parse protocol metadata")
		}
	}
	if c, ok := kv["created"]; ok {
		if _, err := fmt.Sscanf(c, "%d", &m.Created); err != nil {
			return Metadata{}, errors.Wrap(err, "parse created metadata")
		}
	}
	return m, nil
}

// ReadMetadata opens the catalog at path just long enough to read its
// metadata row set.
func ReadMetadata(path string) (Metadata, error) {
	r, err := Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer r.Close()
	return r.Metadata()
}

// ExtentIDs returns the distinct non-null extent IDs referenced by this
// catalog.
func (r *Reader) ExtentIDs() ([]ids.B3, error) {
	rows, err := r.db.Query(`SELECT DISTINCT extent_id FROM blob_extents WHERE extent_id IS NOT NULL`)
	if err != nil {
		return nil, errors.Wrap(err, "query extent ids")
	}
	defer rows.Close()

	var out []ids.B3
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan extent id")
		}
		id, err := bytesToID(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, errors.Wrap(rows.Err(), "iterate extent ids")
}

// LocateExtent returns the relative path and byte range of one file
// containing the given extent. The Upload Client uses this to re-open
// the file under the (possibly overridden) source root, re-read, and
// re-hash the range before uploading it, so that content which changed
// between catalog creation and upload is caught rather than silently
// sent (§4.G).
func (r *Reader) LocateExtent(id ids.B3) (path string, offset uint64, length uint64, err error) {
	var rawPath []byte
	err = r.db.QueryRow(`
		SELECT files.path, blob_extents.offset, blob_extents.bytes
		FROM blob_extents
		JOIN files ON files.blob_id = blob_extents.blob_id
		WHERE blob_extents.extent_id = ?
		LIMIT 1`, id.Bytes(),
	).Scan(&rawPath, &offset, &length)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "locate extent")
	}
	return string(rawPath), offset, length, nil
}

// BlobCount returns the number of blobs in this catalog.
func (r *Reader) BlobCount() (int64, error) {
	var n int64
	err := r.db.QueryRow(`SELECT COUNT(*) FROM blobs`).Scan(&n)
	return n, errors.Wrap(err, "count blobs")
}

// BlobLayout is the server-facing projection of one blob's extent
// layout (§4.F), reusing the same shape as the object-store blob
// records (§6).
type BlobLayout = bloblayout.Layout

// BlobEntry pairs a blob id with its layout, as yielded by BlobBatches.
type BlobEntry struct {
	BlobID ids.B3
	Layout BlobLayout
}

// BlobBatches returns a lazy sequence of batches of at most n
// (blob_id, BlobLayout) pairs. Each batch is produced by a paginated
// LIMIT/OFFSET query; each blob's extents are then loaded by a second
// query ordered by offset, so memory usage is bounded to one batch
// plus one blob's extents at a time.
func (r *Reader) BlobBatches(n int) iter.Seq2[[]BlobEntry, error] {
	return func(yield func([]BlobEntry, error) bool) {
		offset := 0
		for {
			blobIDs, bytesList, err := r.blobPage(n, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(blobIDs) == 0 {
				return
			}

			batch := make([]BlobEntry, 0, len(blobIDs))
			for i, blobID := range blobIDs {
				layout, err := r.blobLayout(blobID, bytesList[i])
				if err != nil {
					yield(nil, err)
					return
				}
				batch = append(batch, BlobEntry{BlobID: blobID, Layout: layout})
			}

			if !yield(batch, nil) {
				return
			}
			if len(blobIDs) < n {
				return
			}
			offset += n
		}
	}
}

func (r *Reader) blobPage(limit, offset int) ([]ids.B3, []uint64, error) {
	rows, err := r.db.Query(`SELECT blob_id, bytes FROM blobs ORDER BY blob_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query blob page")
	}
	defer rows.Close()

	var idList []ids.B3
	var byteList []uint64
	for rows.Next() {
		var raw []byte
		var n uint64
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, nil, errors.Wrap(err, "scan blob page row")
		}
		id, err := bytesToID(raw)
		if err != nil {
			return nil, nil, err
		}
		idList = append(idList, id)
		byteList = append(byteList, n)
	}
	return idList, byteList, errors.Wrap(rows.Err(), "iterate blob page")
}

func (r *Reader) blobLayout(blobID ids.B3, totalBytes uint64) (bloblayout.Layout, error) {
	rows, err := r.db.Query(
		`SELECT offset, bytes, extent_id FROM blob_extents WHERE blob_id = ? ORDER BY offset`,
		blobID.Bytes(),
	)
	if err != nil {
		return bloblayout.Layout{}, errors.Wrap(err, "query blob extents")
	}
	defer rows.Close()

	var extents []bloblayout.Extent
	for rows.Next() {
		var offset, length uint64
		var rawID []byte
		if err := rows.Scan(&offset, &length, &rawID); err != nil {
			return bloblayout.Layout{}, errors.Wrap(err, "scan blob extent row")
		}
		var id ids.B3
		if rawID != nil {
			id, err = bytesToID(rawID)
			if err != nil {
				return bloblayout.Layout{}, err
			}
		}
		extents = append(extents, bloblayout.Extent{Offset: offset, Length: length, ID: id})
	}
	if err := rows.Err(); err != nil {
		return bloblayout.Layout{}, errors.Wrap(err, "iterate blob extents")
	}

	return bloblayout.Layout{TotalBytes: totalBytes, Extents: extents}, nil
}

func bytesToID(raw []byte) (ids.B3, error) {
	var id ids.B3
	if len(raw) != ids.Length {
		return id, errors.Errorf("catalog: stored id has %d bytes, want %d", len(raw), ids.Length)
	}
	copy(id[:], raw)
	return id, nil
}
