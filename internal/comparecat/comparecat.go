// Package comparecat implements the compare tool (§4.K): given two
// catalogs, it attaches the second into the first's SQLite connection
// and computes the extent_id set difference in both directions via SQL.
package comparecat

import (
	"database/sql"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/tumulus/tumulus/internal/catalog"
	"github.com/tumulus/tumulus/internal/errors"
)

// Report is the result of comparing catalog A against catalog B.
type Report struct {
	ToTransferCount int64 // extents in A but not in B
	ToTransferBytes int64
	SharedCount     int64
	SharedBytes     int64
	BOnlyCount      int64 // extents in B but not in A
	BOnlyBytes      int64
}

// Compare opens catalogA, attaches catalogB under the alias "b", and
// computes the set difference on extents.extent_id. Either path may be
// a zstd-compressed catalog (as `catalog` writes by default with
// --compress): both are transparently decompressed to a temporary
// plain SQLite file first, the same way the Catalog Reader does.
func Compare(catalogA, catalogB string) (Report, error) {
	dbPathA, tmpA, err := catalog.DecompressedPath(catalogA)
	if err != nil {
		return Report{}, errors.Wrap(err, "decompress catalog A")
	}
	if tmpA != "" {
		defer os.Remove(tmpA)
	}

	dbPathB, tmpB, err := catalog.DecompressedPath(catalogB)
	if err != nil {
		return Report{}, errors.Wrap(err, "decompress catalog B")
	}
	if tmpB != "" {
		defer os.Remove(tmpB)
	}

	db, err := sql.Open("sqlite", "file:"+dbPathA+"?mode=ro")
	if err != nil {
		return Report{}, errors.Wrap(err, "open catalog A")
	}
	defer db.Close()

	// ATTACH requires a plain path, not a URI; single-quote it and
	// double any embedded quotes the way SQLite's own shell does.
	escaped := strings.ReplaceAll(dbPathB, "'", "''")
	if _, err := db.Exec(`ATTACH DATABASE '` + escaped + `' AS b`); err != nil {
		return Report{}, errors.Wrap(err, "attach catalog B")
	}

	var r Report

	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM extents
		WHERE extent_id NOT IN (SELECT extent_id FROM b.extents)
	`).Scan(&r.ToTransferCount, &r.ToTransferBytes)
	if err != nil {
		return Report{}, errors.Wrap(err, "compute to-transfer set")
	}

	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM extents
		WHERE extent_id IN (SELECT extent_id FROM b.extents)
	`).Scan(&r.SharedCount, &r.SharedBytes)
	if err != nil {
		return Report{}, errors.Wrap(err, "compute shared set")
	}

	err = db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM b.extents
		WHERE extent_id NOT IN (SELECT extent_id FROM extents)
	`).Scan(&r.BOnlyCount, &r.BOnlyBytes)
	if err != nil {
		return Report{}, errors.Wrap(err, "compute b-only set")
	}

	return r, nil
}
