package results

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// CatalogFile is the catalog database name under the results root.
const CatalogFile = "catalog.db"

const (
	createRunsTable = `CREATE TABLE IF NOT EXISTS runs (
		"RunID"   TEXT NOT NULL PRIMARY KEY,
		"MAC"     TEXT NOT NULL,
		"BPMID"   TEXT NOT NULL,
		"Dir"     TEXT NOT NULL,
		"Created" INTEGER NOT NULL
	);`
	createRecordsTable = `CREATE TABLE IF NOT EXISTS records (
		"ID"      INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"RunID"   TEXT NOT NULL,
		"Name"    TEXT NOT NULL,
		"Written" INTEGER NOT NULL,
		UNIQUE("RunID", "Name")
	);`
	insertRun    = `INSERT INTO runs(RunID, MAC, BPMID, Dir, Created) VALUES (?, ?, ?, ?, ?);`
	insertRecord = `INSERT INTO records(RunID, Name, Written) VALUES (?, ?, ?);`
	selectRuns   = `SELECT RunID, MAC, BPMID, Dir, Created FROM runs WHERE (? = '' OR MAC = ?) ORDER BY Created;`
	selectNames  = `SELECT Name FROM records WHERE RunID = ? ORDER BY ID;`
)

// Run is one catalogued test run.
type Run struct {
	ID      string
	MAC     string
	BPMID   string
	Dir     string
	Created time.Time
}

// Catalog indexes runs and the records they wrote across a results root.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates <root>/catalog.db.
func OpenCatalog(ctx context.Context, root string) (*Catalog, error) {
	path := filepath.Join(root, CatalogFile)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %q: %w", path, err)
	}
	for _, stmt := range []string{createRunsTable, createRecordsTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create catalog tables: %w", err)
		}
	}
	return &Catalog{db: db}, nil
}

// AddRun registers a run.
func (c *Catalog) AddRun(ctx context.Context, r Run) error {
	if _, err := c.db.ExecContext(ctx, insertRun, r.ID, r.MAC, r.BPMID, r.Dir, r.Created.UnixMilli()); err != nil {
		return fmt.Errorf("catalog run %s: %w", r.ID, err)
	}
	return nil
}

// AddRecord registers a record written by a run.
func (c *Catalog) AddRecord(ctx context.Context, runID, name string, written time.Time) error {
	if _, err := c.db.ExecContext(ctx, insertRecord, runID, name, written.UnixMilli()); err != nil {
		return fmt.Errorf("catalog record %s/%s: %w", runID, name, err)
	}
	return nil
}

// Runs lists the catalogued runs, oldest first. An empty mac lists all.
func (c *Catalog) Runs(ctx context.Context, mac string) ([]Run, error) {
	rows, err := c.db.QueryContext(ctx, selectRuns, mac, mac)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var created int64
		if err := rows.Scan(&r.ID, &r.MAC, &r.BPMID, &r.Dir, &created); err != nil {
			return nil, err
		}
		r.Created = time.UnixMilli(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Records lists the record names of a run in write order.
func (c *Catalog) Records(ctx context.Context, runID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, selectNames, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }
