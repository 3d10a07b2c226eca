// Package catalog implements the relational snapshot format described
// in §3 and §4.D/§4.F: a SQLite database (optionally zstd-compressed
// end to end) recording every unique extent, every unique blob, the
// blob-to-extent layout, and the per-file metadata of one snapshot.
package catalog

import (
	"database/sql"
	"strconv"

	"github.com/tumulus/tumulus/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS extents (
	extent_id BLOB PRIMARY KEY,
	bytes     INTEGER NOT NULL CHECK (bytes > 0)
);

CREATE TABLE IF NOT EXISTS blobs (
	blob_id BLOB PRIMARY KEY,
	bytes   INTEGER NOT NULL,
	extents INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS blob_extents (
	blob_id   BLOB NOT NULL,
	extent_id BLOB,
	offset    INTEGER NOT NULL,
	bytes     INTEGER NOT NULL,
	PRIMARY KEY (blob_id, offset)
);

CREATE TABLE IF NOT EXISTS files (
	file_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	path       BLOB NOT NULL,
	blob_id    BLOB,
	ts_created  INTEGER,
	ts_modified INTEGER,
	ts_accessed INTEGER,
	ts_changed  INTEGER,
	unix_mode  INTEGER,
	unix_owner INTEGER,
	unix_group INTEGER,
	fs_inode   INTEGER,
	special    TEXT
);

CREATE INDEX IF NOT EXISTS idx_blob_extents_extent ON blob_extents(extent_id);
CREATE INDEX IF NOT EXISTS idx_files_blob ON files(blob_id);
`

// bootstrap creates the catalog schema if it does not already exist.
func bootstrap(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "bootstrap catalog schema")
	}
	return nil
}

// Metadata is the fixed metadata row set written at catalog creation
// time (§3 "Catalog" metadata table).
type Metadata struct {
	Protocol int
	ID       string // UUID
	Machine  string
	Tree     string // hex B3Id
	Created  int64  // ms since epoch
}

func writeMetadata(tx *sql.Tx, m Metadata) error {
	rows := [][2]string{
		{"protocol", strconv.Itoa(m.Protocol)},
		{"id", m.ID},
		{"machine", m.Machine},
		{"tree", m.Tree},
		{"created", strconv.FormatInt(m.Created, 10)},
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO metadata(key, value) VALUES (?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare metadata insert")
	}
	defer stmt.Close()

	for _, kv := range rows {
		if _, err := stmt.Exec(kv[0], kv[1]); err != nil {
			return errors.Wrapf(err, "write metadata %v", kv[0])
		}
	}
	return nil
}
