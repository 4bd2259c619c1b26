package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// SQLite export
// ---------------------------------------------------------------------------

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	heap_id TEXT PRIMARY KEY,
	variant TEXT NOT NULL,
	records INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS types (
	idx  INTEGER PRIMARY KEY,
	id   INTEGER NOT NULL,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS objects (
	idx    INTEGER PRIMARY KEY,
	type   INTEGER NOT NULL REFERENCES types(idx),
	size   INTEGER NOT NULL,
	len    INTEGER NOT NULL,
	young  INTEGER NOT NULL,
	pinned INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS edges (
	src  INTEGER NOT NULL REFERENCES objects(idx),
	ord  INTEGER NOT NULL, -- position among the non-nil references of src
	dst  INTEGER NOT NULL REFERENCES objects(idx)
);
CREATE TABLE IF NOT EXISTS roots (
	idx INTEGER NOT NULL REFERENCES objects(idx)
);
CREATE INDEX IF NOT EXISTS edges_dst ON edges(dst);
`

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return db, nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Export writes s into a SQLite database at path. Existing snapshot rows
// are replaced, so the file always describes one snapshot.
func Export(ctx context.Context, path string, s *Snapshot) error {
	db, err := openDB(ctx, path)
	if err != nil {
		return fmt.Errorf("snapshot: export: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("snapshot: export: creating tables: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: export: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"roots", "edges", "objects", "types", "snapshots"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("snapshot: export: clearing %s: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (heap_id, variant, records) VALUES (?, ?, ?)",
		s.Header.HeapID.String(), s.Variant, len(s.Records),
	); err != nil {
		return fmt.Errorf("snapshot: export: saving header: %w", err)
	}

	insType, err := tx.PrepareContext(ctx, "INSERT INTO types (idx, id, name) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("snapshot: export: %w", err)
	}
	defer insType.Close()
	for i, t := range s.Types {
		if _, err := insType.ExecContext(ctx, i, t.ID, t.Name); err != nil {
			return fmt.Errorf("snapshot: export: saving type %s: %w", t.Name, err)
		}
	}

	insObj, err := tx.PrepareContext(ctx, "INSERT INTO objects (idx, type, size, len, young, pinned) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("snapshot: export: %w", err)
	}
	defer insObj.Close()
	insEdge, err := tx.PrepareContext(ctx, "INSERT INTO edges (src, ord, dst) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("snapshot: export: %w", err)
	}
	defer insEdge.Close()

	for i, r := range s.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := insObj.ExecContext(ctx, i, r.Type, r.Size, r.Len, flag(r.Young), flag(r.Pinned)); err != nil {
			return fmt.Errorf("snapshot: export: saving object %d: %w", i, err)
		}
		for ord, dst := range r.Refs {
			if _, err := insEdge.ExecContext(ctx, i, ord, dst); err != nil {
				return fmt.Errorf("snapshot: export: saving edge %d->%d: %w", i, dst, err)
			}
		}
	}
	for _, root := range s.Roots {
		if _, err := tx.ExecContext(ctx, "INSERT INTO roots (idx) VALUES (?)", root); err != nil {
			return fmt.Errorf("snapshot: export: saving root: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: export: %w", err)
	}
	log.Infof("exported %d objects to %s", len(s.Records), path)
	return nil
}

// TopTypes returns the n types of an exported snapshot with the largest
// total size.
func TopTypes(ctx context.Context, path string, n int) ([]TypeStat, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: top types: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT t.name, COUNT(o.idx), COALESCE(SUM(o.size), 0) AS bytes
		FROM types t JOIN objects o ON o.type = t.idx
		GROUP BY t.idx
		ORDER BY bytes DESC, COUNT(o.idx) DESC, t.name
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("snapshot: top types: %w", err)
	}
	defer rows.Close()

	var out []TypeStat
	for rows.Next() {
		var ts TypeStat
		if err := rows.Scan(&ts.Name, &ts.Count, &ts.Bytes); err != nil {
			return nil, fmt.Errorf("snapshot: top types: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Retainers returns the record indices of the objects that refer to
// record idx in an exported snapshot.
func Retainers(ctx context.Context, path string, idx int) ([]int, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: retainers: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SELECT DISTINCT src FROM edges WHERE dst = ? ORDER BY src", idx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: retainers: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var src int
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("snapshot: retainers: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
