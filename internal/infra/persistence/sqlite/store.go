// Package sqlite stores dense tables in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"trawlgrid/internal/densify"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		haul_count INTEGER NOT NULL,
		group_count INTEGER NOT NULL,
		observed_count INTEGER NOT NULL,
		row_count INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dense_cpue (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		haul_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		depth REAL NOT NULL,
		group_code TEXT NOT NULL,
		group_name TEXT NOT NULL,
		biomass REAL NOT NULL,
		abundance REAL NOT NULL,
		PRIMARY KEY (run_id, haul_id, group_code)
	)`,
}

const insertRow = `INSERT INTO dense_cpue(run_id,haul_id,year,lat,lon,depth,group_code,group_name,biomass,abundance) VALUES(?,?,?,?,?,?,?,?,?,?)`

// Store writes each run's dense table inside a single transaction.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) the database at path and applies the schema.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "trawlgrid.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db, path: path, now: func() time.Time { return time.Now().UTC() }}, nil
}

// WriteTable inserts the run header and every dense row. Either all rows are
// stored or none are.
func (s *Store) WriteTable(ctx context.Context, runID string, table densify.Table) (retErr error) {
	if runID == "" {
		return fmt.Errorf("run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs(run_id,created_at,haul_count,group_count,observed_count,row_count) VALUES(?,?,?,?,?,?)`,
		runID, s.now().Format(time.RFC3339Nano), table.Hauls, table.Groups, table.Observed, len(table.Records)); err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	stmt, err := tx.PrepareContext(ctx, insertRow)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range table.Records {
		if _, err := stmt.ExecContext(ctx, runID, r.HaulID, r.Year, r.Lat, r.Lon, r.Depth, r.GroupCode, r.GroupName, r.Biomass, r.Abundance); err != nil {
			return fmt.Errorf("insert row %s/%s: %w", r.HaulID, r.GroupCode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// CountRows returns the number of dense rows stored for runID.
func (s *Store) CountRows(ctx context.Context, runID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dense_cpue WHERE run_id = ?`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
