package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"trawlgrid/internal/densify"
	"trawlgrid/internal/export"
	"trawlgrid/internal/infra/blob/memory"
	"trawlgrid/internal/infra/persistence"
	"trawlgrid/internal/infra/persistence/sqlite"
	"trawlgrid/internal/ingest"
	"trawlgrid/internal/metrics"
)

const haulsCSV = `haul_id,year,lat,lon,depth,effort,performance
h1,2019,57.1,-170.2,82,2.0,0
h2,2019,58.4,-168.9,64,4.0,6.22
h3,2019,59.0,-171.0,101,3.0,-4
`

const taxonomyCSV = `species_code,group_code,group_name
21720,pcod,Pacific cod
21740,pollock,Walleye pollock
20510,deep,Deep demersal fish
21371,deep,Deep demersal fish
`

const catchCSV = `haul_id,species_code,weight,count
h1,21720,10,4
h1,20510,3,NA
h1,21371,1,2
h2,21740,8,
h3,21720,5,5
h1,99999,2,2
h2,21720,0,0
`

func writeInputs(t *testing.T, hauls, taxonomy, catch string) Inputs {
	t.Helper()
	dir := t.TempDir()
	in := Inputs{
		Hauls:    filepath.Join(dir, "hauls.csv"),
		Catch:    filepath.Join(dir, "catch.csv"),
		Taxonomy: filepath.Join(dir, "taxonomy.csv"),
	}
	for path, body := range map[string]string{in.Hauls: hauls, in.Catch: catch, in.Taxonomy: taxonomy} {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return in
}

type metricsCall struct {
	stage   string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, stage string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{stage: stage, success: success})
}

type failingSink struct{ closed bool }

func (f *failingSink) WriteTable(context.Context, string, densify.Table) error {
	return errors.New("connection reset")
}

func (f *failingSink) CountRows(context.Context, string) (int, error) { return 0, nil }

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func fixedRunID() string { return "run-0001" }

func TestRunProducesDenseTableArtifactsAndRows(t *testing.T) {
	ctx := context.Background()
	in := writeInputs(t, haulsCSV, taxonomyCSV, catchCSV)
	store := memory.New()
	db, err := sqlite.NewStore(filepath.Join(t.TempDir(), "dense.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	rec := &captureMetricsRecorder{}
	audit := &export.MemoryAuditLog{}

	runner := New(store,
		WithSinks(persistence.Named{Name: "sqlite", Sink: db}),
		WithFormats(export.FormatCSV, export.FormatNDJSON),
		WithRecorder(rec),
		WithAudit(audit),
		WithRunIDs(fixedRunID))
	rep, err := runner.Run(ctx, in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rep.RunID != "run-0001" || rep.HaulsRead != 3 || rep.HaulsRetained != 2 {
		t.Fatalf("unexpected report header %+v", rep)
	}
	want := TableSummary{Hauls: 2, Groups: 3, Rows: 6, Observed: 3, ZeroFilled: 3}
	if diff := cmp.Diff(want, rep.Table); diff != "" {
		t.Fatalf("table summary:\n%s", diff)
	}
	if rep.Aggregate.DroppedHauls != 1 || rep.Aggregate.UnmappedSpecies["99999"] != 1 {
		t.Fatalf("unexpected aggregate stats %+v", rep.Aggregate)
	}
	var keys []string
	for _, a := range rep.Artifacts {
		keys = append(keys, a.Key)
	}
	if diff := cmp.Diff([]string{"runs/run-0001/dense.csv", "runs/run-0001/dense.ndjson"}, keys); diff != "" {
		t.Fatalf("artifact keys:\n%s", diff)
	}
	if n, err := db.CountRows(ctx, "run-0001"); err != nil || n != 6 {
		t.Fatalf("sqlite rows = %d, %v", n, err)
	}
	if rep.Persisted["sqlite"] != 6 {
		t.Fatalf("unexpected persisted %+v", rep.Persisted)
	}
	wantCalls := []metricsCall{
		{StageIngest, true}, {StageFilter, true}, {StageAggregate, true},
		{StageDensify, true}, {StageExport, true}, {StagePersist, true},
	}
	if diff := cmp.Diff(wantCalls, rec.calls, cmp.AllowUnexported(metricsCall{})); diff != "" {
		t.Fatalf("stage metrics:\n%s", diff)
	}
	if len(rep.Stages) != 6 || len(audit.Entries()) != 2 {
		t.Fatalf("expected 6 stages and 2 audit entries, got %d and %d", len(rep.Stages), len(audit.Entries()))
	}
}

func TestRunRejectsDuplicateHaulsBeforeExport(t *testing.T) {
	hauls := haulsCSV + "h1,2020,57.2,-170.1,80,2.0,0\n"
	in := writeInputs(t, hauls, taxonomyCSV, catchCSV)
	store := memory.New()
	rep, err := New(store).Run(context.Background(), in)

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageDensify {
		t.Fatalf("expected densify stage error, got %v", err)
	}
	var dup *densify.DuplicateHaulError
	if !errors.As(err, &dup) || dup.HaulID != "h1" {
		t.Fatalf("expected duplicate haul h1, got %v", err)
	}
	if len(rep.Artifacts) != 0 {
		t.Fatalf("no artifacts expected on failure")
	}
	if left, _ := store.List(context.Background(), ""); len(left) != 0 {
		t.Fatalf("store should be untouched, got %d objects", len(left))
	}
}

func TestRunRejectsNonPositiveEffort(t *testing.T) {
	hauls := "haul_id,year,lat,lon,depth,effort,performance\nh1,2019,57,-170,82,0,0\n"
	in := writeInputs(t, hauls, taxonomyCSV, catchCSV)
	_, err := New(memory.New()).Run(context.Background(), in)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageFilter {
		t.Fatalf("expected filter stage error, got %v", err)
	}
	var npe *ingest.NonPositiveEffortError
	if !errors.As(err, &npe) || npe.HaulID != "h1" {
		t.Fatalf("expected non-positive effort for h1, got %v", err)
	}
}

func TestRunRejectsNonFiniteCatchAtIngest(t *testing.T) {
	in := writeInputs(t, haulsCSV, taxonomyCSV, catchCSV+"h2,21740,Inf,4\n")
	store := memory.New()
	_, err := New(store).Run(context.Background(), in)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageIngest {
		t.Fatalf("expected ingest stage error, got %v", err)
	}
	var pe *ingest.ParseError
	if !errors.As(err, &pe) || pe.Column != "weight" || !errors.Is(err, ingest.ErrNonFinite) {
		t.Fatalf("expected non-finite weight parse error, got %v", err)
	}
	if left, _ := store.List(context.Background(), ""); len(left) != 0 {
		t.Fatalf("nothing should be exported, found %d objects", len(left))
	}
}

func TestRunMissingInputFailsIngest(t *testing.T) {
	in := writeInputs(t, haulsCSV, taxonomyCSV, catchCSV)
	in.Catch = filepath.Join(t.TempDir(), "absent.csv")
	rec := &captureMetricsRecorder{}
	_, err := New(memory.New(), WithRecorder(rec)).Run(context.Background(), in)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageIngest {
		t.Fatalf("expected ingest stage error, got %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0].success {
		t.Fatalf("expected a single failed ingest observation, got %+v", rec.calls)
	}
}

func TestRunDiscardsArtifactsWhenPersistFails(t *testing.T) {
	in := writeInputs(t, haulsCSV, taxonomyCSV, catchCSV)
	store := memory.New()
	audit := &export.MemoryAuditLog{}
	rep, err := New(store,
		WithSinks(persistence.Named{Name: "postgres", Sink: &failingSink{}}),
		WithAudit(audit)).Run(context.Background(), in)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StagePersist {
		t.Fatalf("expected persist stage error, got %v", err)
	}
	if left, _ := store.List(context.Background(), ""); len(left) != 0 {
		t.Fatalf("artifacts should be discarded, found %d", len(left))
	}
	if rep.Artifacts != nil {
		t.Fatalf("report should not list discarded artifacts")
	}
	var rolledBack int
	for _, e := range audit.Entries() {
		if e.Status == export.StatusRolledBack {
			rolledBack++
		}
	}
	if rolledBack != 2 {
		t.Fatalf("expected 2 rolled back entries, got %d", rolledBack)
	}
}

func TestRunEmptyTaxonomyWarns(t *testing.T) {
	in := writeInputs(t, haulsCSV, "species_code,group_code,group_name\n", catchCSV)
	obsCore, logs := observer.New(zapcore.WarnLevel)
	rec := metrics.NewPromRecorder()
	rep, err := New(memory.New(), WithLogger(zap.New(obsCore)), WithRecorder(rec)).Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Table.Rows != 0 || len(rep.Warnings) != 1 {
		t.Fatalf("expected empty table with one warning, got %+v", rep)
	}
	if logs.FilterMessageSnippet("empty").Len() == 0 {
		t.Fatalf("expected empty input warning to be logged")
	}
	if len(rep.Artifacts) != 2 {
		t.Fatalf("empty tables are still exported, got %d artifacts", len(rep.Artifacts))
	}
	if n, err := testutil.GatherAndCount(rec.Registry(), "trawlgrid_dense_rows"); err != nil || n != 3 {
		t.Fatalf("expected dense row gauges for an empty table, got %d (%v)", n, err)
	}
}

func TestRunRecordsTableGauge(t *testing.T) {
	in := writeInputs(t, haulsCSV, taxonomyCSV, catchCSV)
	rec := metrics.NewPromRecorder()
	if _, err := New(memory.New(), WithRecorder(rec)).Run(context.Background(), in); err != nil {
		t.Fatalf("run: %v", err)
	}
	count, err := testutil.GatherAndCount(rec.Registry(), "trawlgrid_dense_rows", "trawlgrid_stage_results_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 3+6 {
		t.Fatalf("expected 3 row gauges and 6 stage counters, got %d", count)
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	in := writeInputs(t, haulsCSV, taxonomyCSV, catchCSV)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(memory.New()).Run(ctx, in)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
