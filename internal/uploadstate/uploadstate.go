// Package uploadstate implements the server's embedded session store
// (§4.I): one row per catalog upload tracking its status and the set
// of extent IDs still outstanding. It is deliberately separate from
// the content object store; every operation here is a short,
// synchronous call that the server is expected to bracket with a lock
// it releases before any awaited I/O against the object store (§5).
package uploadstate

import (
	"database/sql"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tumulus/tumulus/internal/errors"
	"github.com/tumulus/tumulus/internal/ids"
)

// Status is a catalog upload session's lifecycle state (§3, §4.H).
type Status string

const (
	Pending   Status = "pending"
	Uploading Status = "uploading"
	Complete  Status = "complete"
)

const schema = `
CREATE TABLE IF NOT EXISTS catalogs (
	id         BLOB PRIMARY KEY,
	checksum   BLOB NOT NULL,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS catalog_extents (
	catalog_id BLOB NOT NULL,
	extent_id  BLOB NOT NULL,
	PRIMARY KEY (catalog_id, extent_id),
	FOREIGN KEY (catalog_id) REFERENCES catalogs(id) ON DELETE CASCADE
);
`

// Session is one row of the catalogs table.
type Session struct {
	ID        uuid.UUID
	Checksum  ids.B3
	Status    Status
	CreatedAt int64
}

// DB is the upload-state store.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the upload-state database at path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, errors.Wrap(err, "open upload-state database")
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "bootstrap upload-state schema")
	}
	return &DB{sql: sqlDB}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// GetCatalog returns the session for id, or (Session{}, false, nil) if
// no session exists yet.
func (d *DB) GetCatalog(id uuid.UUID) (Session, bool, error) {
	var s Session
	var rawChecksum []byte
	var status string

	err := d.sql.QueryRow(
		`SELECT checksum, status, created_at FROM catalogs WHERE id = ?`,
		id[:],
	).Scan(&rawChecksum, &status, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, errors.Wrap(err, "get catalog session")
	}

	s.ID = id
	s.Status = Status(status)
	if len(rawChecksum) != ids.Length {
		return Session{}, false, errors.Errorf("uploadstate: stored checksum has %d bytes, want %d", len(rawChecksum), ids.Length)
	}
	copy(s.Checksum[:], rawChecksum)
	return s, true, nil
}

// CreateCatalog inserts a new Pending session for id.
func (d *DB) CreateCatalog(id uuid.UUID, checksum ids.B3, createdAt int64) error {
	_, err := d.sql.Exec(
		`INSERT INTO catalogs(id, checksum, status, created_at) VALUES (?, ?, ?, ?)`,
		id[:], checksum.Bytes(), string(Pending), createdAt,
	)
	return errors.Wrap(err, "create catalog session")
}

// UpdateStatus advances a session's status.
func (d *DB) UpdateStatus(id uuid.UUID, status Status) error {
	_, err := d.sql.Exec(`UPDATE catalogs SET status = ? WHERE id = ?`, string(status), id[:])
	return errors.Wrap(err, "update catalog status")
}

// SetCatalogExtents atomically replaces the outstanding-extent set for id.
func (d *DB) SetCatalogExtents(id uuid.UUID, extentIDs []ids.B3) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return errors.Wrap(err, "begin set-extents transaction")
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.Exec(`DELETE FROM catalog_extents WHERE catalog_id = ?`, id[:]); err != nil {
		return errors.Wrap(err, "clear catalog extents")
	}

	stmt, err := tx.Prepare(`INSERT INTO catalog_extents(catalog_id, extent_id) VALUES (?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare catalog extent insert")
	}
	defer stmt.Close()

	for _, eid := range extentIDs {
		if _, err := stmt.Exec(id[:], eid.Bytes()); err != nil {
			return errors.Wrap(err, "insert catalog extent")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit set-extents transaction")
	}
	tx = nil
	return nil
}

// GetCatalogExtents returns the outstanding-extent set for id.
func (d *DB) GetCatalogExtents(id uuid.UUID) ([]ids.B3, error) {
	rows, err := d.sql.Query(`SELECT extent_id FROM catalog_extents WHERE catalog_id = ?`, id[:])
	if err != nil {
		return nil, errors.Wrap(err, "query catalog extents")
	}
	defer rows.Close()

	var out []ids.B3
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "scan catalog extent")
		}
		var eid ids.B3
		if len(raw) != ids.Length {
			return nil, errors.Errorf("uploadstate: stored extent id has %d bytes, want %d", len(raw), ids.Length)
		}
		copy(eid[:], raw)
		out = append(out, eid)
	}
	return out, errors.Wrap(rows.Err(), "iterate catalog extents")
}

// DeleteCatalog removes a session and its outstanding-extent rows.
func (d *DB) DeleteCatalog(id uuid.UUID) error {
	_, err := d.sql.Exec(`DELETE FROM catalogs WHERE id = ?`, id[:])
	return errors.Wrap(err, "delete catalog session")
}
