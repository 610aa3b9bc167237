// Package pipeline runs a densification end to end: read survey files, filter
// and aggregate catch, build the dense table, then export and persist it.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trawlgrid/internal/blob/core"
	"trawlgrid/internal/densify"
	"trawlgrid/internal/export"
	"trawlgrid/internal/infra/persistence"
	"trawlgrid/internal/ingest"
	"trawlgrid/internal/metrics"
	"trawlgrid/internal/survey"
)

// Stage names, also used as metric labels.
const (
	StageIngest    = "ingest"
	StageFilter    = "filter"
	StageAggregate = "aggregate"
	StageDensify   = "densify"
	StageExport    = "export"
	StagePersist   = "persist"
)

// Inputs names the three survey files of a run.
type Inputs struct {
	Hauls    string `json:"hauls"`
	Catch    string `json:"catch"`
	Taxonomy string `json:"taxonomy"`
}

// StageError reports the stage a run failed in. The wrapped error keeps its
// type, so callers can errors.As into densify or ingest errors.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// StageResult is one row of the run timeline.
type StageResult struct {
	Name       string  `json:"name"`
	OK         bool    `json:"ok"`
	DurationMS float64 `json:"duration_ms"`
}

// TableSummary describes the dense table produced by a run.
type TableSummary struct {
	Hauls      int `json:"hauls"`
	Groups     int `json:"groups"`
	Rows       int `json:"rows"`
	Observed   int `json:"observed"`
	ZeroFilled int `json:"zero_filled"`
}

// Report is the outcome of a run.
type Report struct {
	RunID         string                `json:"run_id"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`
	Inputs        Inputs                `json:"inputs"`
	HaulsRead     int                   `json:"hauls_read"`
	HaulsRetained int                   `json:"hauls_retained"`
	Aggregate     ingest.AggregateStats `json:"aggregate"`
	Table         TableSummary          `json:"table"`
	Warnings      []string              `json:"warnings,omitempty"`
	Artifacts     []export.Artifact     `json:"artifacts,omitempty"`
	Persisted     map[string]int        `json:"persisted,omitempty"`
	Stages        []StageResult         `json:"stages"`
}

type step struct {
	name string
	fn   func() error
}

type tableRecorder interface {
	SetTable(total, observed int)
}

// Runner executes pipeline runs against a blob store and optional sinks.
type Runner struct {
	store          core.Store
	sinks          []persistence.Named
	formats        []export.Format
	prefix         string
	minPerformance float64
	audit          export.AuditLogger
	recorder       metrics.Recorder
	logger         *zap.Logger
	clock          func() time.Time
	newRunID       func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithSinks adds relational sinks written after export.
func WithSinks(sinks ...persistence.Named) Option {
	return func(r *Runner) { r.sinks = append(r.sinks, sinks...) }
}

// WithFormats selects the artifact formats.
func WithFormats(formats ...export.Format) Option {
	return func(r *Runner) { r.formats = formats }
}

// WithPrefix sets the blob key prefix for run artifacts.
func WithPrefix(prefix string) Option { return func(r *Runner) { r.prefix = prefix } }

// WithMinPerformance sets the lowest satisfactory tow performance code.
func WithMinPerformance(v float64) Option { return func(r *Runner) { r.minPerformance = v } }

// WithAudit attaches an export audit logger.
func WithAudit(a export.AuditLogger) Option { return func(r *Runner) { r.audit = a } }

// WithRecorder sets the stage metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Runner) { r.clock = now } }

// WithRunIDs overrides run ID generation.
func WithRunIDs(next func() string) Option { return func(r *Runner) { r.newRunID = next } }

// New constructs a Runner storing artifacts in store.
func New(store core.Store, opts ...Option) *Runner {
	r := &Runner{
		store:    store,
		formats:  []export.Format{export.FormatCSV, export.FormatJSON},
		prefix:   "runs",
		recorder: metrics.Nop{},
		logger:   zap.NewNop(),
		clock:    func() time.Time { return time.Now().UTC() },
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every stage in order. The first failing stage aborts the run;
// artifacts exported before a persistence failure are removed again.
func (r *Runner) Run(ctx context.Context, in Inputs) (Report, error) {
	rep := Report{RunID: r.newRunID(), StartedAt: r.clock(), Inputs: in}
	log := r.logger.With(zap.String("run_id", rep.RunID))
	log.Info("run started",
		zap.String("hauls", in.Hauls),
		zap.String("catch", in.Catch),
		zap.String("taxonomy", in.Taxonomy))

	var (
		rawHauls []survey.HaulEffort
		taxonomy []survey.TaxonEntry
		catch    []survey.Catch
		retained []survey.HaulEffort
		groups   []survey.Group
		obs      []survey.Observation
		table    densify.Table
	)
	exporter := export.NewExporter(r.store, export.WithPrefix(r.prefix), export.WithLogger(log), export.WithAudit(r.audit), export.WithClock(r.clock))
	steps := []step{
		{StageIngest, func() error {
			var err error
			if rawHauls, err = readFile(in.Hauls, ingest.ReadHauls); err != nil {
				return err
			}
			if taxonomy, err = readFile(in.Taxonomy, ingest.ReadTaxonomy); err != nil {
				return err
			}
			catch, err = readFile(in.Catch, ingest.ReadCatch)
			return err
		}},
		{StageFilter, func() error {
			var err error
			retained, err = ingest.FilterSatisfactory(rawHauls, r.minPerformance)
			rep.HaulsRead, rep.HaulsRetained = len(rawHauls), len(retained)
			return err
		}},
		{StageAggregate, func() error {
			var err error
			if groups, err = ingest.Groups(taxonomy); err != nil {
				return err
			}
			obs, rep.Aggregate, err = ingest.Aggregate(retained, taxonomy, catch)
			if n := len(rep.Aggregate.UnmappedSpecies); n > 0 {
				log.Warn("catch for species missing from taxonomy", zap.Int("species", n))
			}
			return err
		}},
		{StageDensify, func() error {
			var err error
			table, err = densify.Densify(ctx, ingest.Hauls(retained), groups, obs, densify.WithLogger(log))
			if err != nil {
				return err
			}
			rep.Table = TableSummary{
				Hauls:      table.Hauls,
				Groups:     table.Groups,
				Rows:       len(table.Records),
				Observed:   table.Observed,
				ZeroFilled: len(table.Records) - table.Observed,
			}
			for _, w := range table.Warnings {
				rep.Warnings = append(rep.Warnings, w.String())
			}
			if tr, ok := r.recorder.(tableRecorder); ok {
				tr.SetTable(rep.Table.Rows, rep.Table.Observed)
			}
			return nil
		}},
		{StageExport, func() error {
			var err error
			rep.Artifacts, err = exporter.Export(ctx, rep.RunID, table, r.formats)
			return err
		}},
		{StagePersist, func() error {
			for _, s := range r.sinks {
				if err := s.WriteTable(ctx, rep.RunID, table); err != nil {
					exporter.Discard(ctx, rep.RunID, rep.Artifacts)
					rep.Artifacts = nil
					return fmt.Errorf("%s sink: %w", s.Name, err)
				}
				if rep.Persisted == nil {
					rep.Persisted = make(map[string]int, len(r.sinks))
				}
				rep.Persisted[s.Name] = len(table.Records)
			}
			return nil
		}},
	}

	for _, st := range steps {
		if err := r.stage(ctx, log, &rep, st.name, st.fn); err != nil {
			rep.FinishedAt = r.clock()
			return rep, err
		}
	}
	rep.FinishedAt = r.clock()
	log.Info("run finished",
		zap.Int("rows", rep.Table.Rows),
		zap.Int("observed", rep.Table.Observed),
		zap.Int("artifacts", len(rep.Artifacts)))
	return rep, nil
}

func (r *Runner) stage(ctx context.Context, log *zap.Logger, rep *Report, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Err: err}
	}
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	r.recorder.Observe(ctx, name, err == nil, elapsed)
	rep.Stages = append(rep.Stages, StageResult{Name: name, OK: err == nil, DurationMS: float64(elapsed.Microseconds()) / 1000})
	if err != nil {
		log.Error("stage failed", zap.String("stage", name), zap.Duration("elapsed", elapsed), zap.Error(err))
		return &StageError{Stage: name, Err: err}
	}
	log.Debug("stage complete", zap.String("stage", name), zap.Duration("elapsed", elapsed))
	return nil
}

func readFile[T any](path string, read func(string, io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()
	return read(path, f)
}
