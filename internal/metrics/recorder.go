// Package metrics records pipeline stage timings and table sizes with
// prometheus collectors.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes pipeline stage outcomes.
type Recorder interface {
	Observe(ctx context.Context, stage string, success bool, duration time.Duration)
}

// PromRecorder publishes stage durations, stage results and the size of the
// last dense table.
type PromRecorder struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	rows      *prometheus.GaugeVec
}

// NewPromRecorder registers the trawlgrid collectors on a fresh registry.
func NewPromRecorder() *PromRecorder {
	r := &PromRecorder{
		registry: prometheus.NewRegistry(),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "trawlgrid",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trawlgrid",
			Name:      "stage_results_total",
			Help:      "Pipeline stage outcomes by status.",
		}, []string{"stage", "status"}),
		rows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "trawlgrid",
			Name:      "dense_rows",
			Help:      "Rows in the last dense table by kind (total, observed, zero_filled).",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.durations, r.results, r.rows)
	return r
}

// Registry exposes the underlying registry for gathering.
func (r *PromRecorder) Registry() *prometheus.Registry { return r.registry }

// Observe records one stage outcome.
func (r *PromRecorder) Observe(_ context.Context, stage string, success bool, duration time.Duration) {
	if stage == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(stage).Observe(duration.Seconds())
	r.results.WithLabelValues(stage, status).Inc()
}

// SetTable records the size of the dense table just produced.
func (r *PromRecorder) SetTable(total, observed int) {
	r.rows.WithLabelValues("total").Set(float64(total))
	r.rows.WithLabelValues("observed").Set(float64(observed))
	r.rows.WithLabelValues("zero_filled").Set(float64(total - observed))
}

// WriteTextfile writes the current metrics in the text exposition format,
// suitable for the node_exporter textfile collector.
func (r *PromRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Nop discards observations.
type Nop struct{}

// Observe implements Recorder.
func (Nop) Observe(context.Context, string, bool, time.Duration) {}
