// Package postgres stores dense tables in Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"trawlgrid/internal/densify"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/trawlgrid?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		haul_count INTEGER NOT NULL,
		group_count INTEGER NOT NULL,
		observed_count INTEGER NOT NULL,
		row_count INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS dense_cpue (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		haul_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		depth DOUBLE PRECISION NOT NULL,
		group_code TEXT NOT NULL,
		group_name TEXT NOT NULL,
		biomass DOUBLE PRECISION NOT NULL,
		abundance DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (run_id, haul_id, group_code)
	)`,
}

// Store writes each run's dense table inside a single Postgres transaction.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and ensures the tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// WriteTable inserts the run header and every dense row in one transaction.
func (s *Store) WriteTable(ctx context.Context, runID string, table densify.Table) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, haul_count, group_count, observed_count, row_count) VALUES ($1,$2,$3,$4,$5,$6)`,
		runID, s.now(), table.Hauls, table.Groups, table.Observed, len(table.Records)); err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	for _, r := range table.Records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dense_cpue (run_id, haul_id, year, lat, lon, depth, group_code, group_name, biomass, abundance) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			runID, r.HaulID, r.Year, r.Lat, r.Lon, r.Depth, r.GroupCode, r.GroupName, r.Biomass, r.Abundance); err != nil {
			return fmt.Errorf("insert row %s/%s: %w", r.HaulID, r.GroupCode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// CountRows returns the number of dense rows stored for runID.
func (s *Store) CountRows(ctx context.Context, runID string) (int, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dense_cpue WHERE run_id = $1`, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return int(n), nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
