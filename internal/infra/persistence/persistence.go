// Package persistence opens the relational sinks that receive dense tables.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"trawlgrid/internal/config"
	"trawlgrid/internal/densify"
	"trawlgrid/internal/infra/persistence/postgres"
	"trawlgrid/internal/infra/persistence/sqlite"
)

// Sink stores one dense table per run.
type Sink interface {
	WriteTable(ctx context.Context, runID string, table densify.Table) error
	CountRows(ctx context.Context, runID string) (int, error)
	Close() error
}

var (
	_ Sink = (*sqlite.Store)(nil)
	_ Sink = (*postgres.Store)(nil)
)

// Named pairs a sink with the backend it writes to.
type Named struct {
	Name string
	Sink
}

// Open returns a sink for every backend configured in cfg. An empty config
// yields no sinks.
func Open(ctx context.Context, cfg config.DatabaseConfig) ([]Named, error) {
	var sinks []Named
	if cfg.SQLitePath != "" {
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, Named{Name: "sqlite", Sink: s})
	}
	if cfg.PostgresDSN != "" {
		s, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			_ = CloseAll(sinks)
			return nil, err
		}
		sinks = append(sinks, Named{Name: "postgres", Sink: s})
	}
	return sinks, nil
}

// CloseAll closes every sink and joins their errors.
func CloseAll(sinks []Named) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
