// Package export materialises dense tables into artifacts and stores them in
// the configured blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trawlgrid/internal/blob/core"
	"trawlgrid/internal/densify"
	"trawlgrid/internal/survey"
)

// Format names an artifact encoding.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatNDJSON Format = "ndjson"
)

// ParseFormats converts configured names into formats, dropping duplicates.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	seen := make(map[Format]struct{}, len(names))
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		switch f {
		case FormatCSV, FormatJSON, FormatNDJSON:
		default:
			return nil, fmt.Errorf("unsupported export format %s", n)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}

// Artifact describes one stored table encoding.
type Artifact struct {
	ID          string            `json:"id"`
	Format      Format            `json:"format"`
	Key         string            `json:"key"`
	ContentType string            `json:"content_type"`
	SizeBytes   int64             `json:"size_bytes"`
	ETag        string            `json:"etag,omitempty"`
	URL         string            `json:"url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Status is the outcome recorded in an audit entry.
type Status string

const (
	StatusStored Status = "stored"
	StatusFailed Status = "failed"
	// StatusRolledBack marks an artifact removed because a sibling failed.
	StatusRolledBack Status = "rolled_back"
)

// AuditEntry captures one export event.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	RunID      string    `json:"run_id"`
	Format     Format    `json:"format"`
	Key        string    `json:"key"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger records export audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Exporter writes dense tables to a blob store.
type Exporter struct {
	store  core.Store
	audit  AuditLogger
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithAudit attaches an audit logger.
func WithAudit(a AuditLogger) Option { return func(e *Exporter) { e.audit = a } }

// WithPrefix sets the key prefix under which run directories are created.
func WithPrefix(p string) Option {
	return func(e *Exporter) { e.prefix = strings.Trim(p, "/") }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the artifact timestamp source.
func WithClock(now func() time.Time) Option { return func(e *Exporter) { e.now = now } }

// NewExporter constructs an exporter writing to store.
func NewExporter(store core.Store, opts ...Option) *Exporter {
	e := &Exporter{store: store, prefix: "runs", logger: zap.NewNop(), now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Key returns the blob key of a run artifact.
func (e *Exporter) Key(runID string, f Format) string {
	name := fmt.Sprintf("%s/dense.%s", runID, f)
	if e.prefix == "" {
		return name
	}
	return e.prefix + "/" + name
}

// Export stores one artifact per format. If any artifact fails, artifacts
// already stored for the run are deleted so no partial export remains.
func (e *Exporter) Export(ctx context.Context, runID string, table densify.Table, formats []Format) ([]Artifact, error) {
	if e.store == nil {
		return nil, fmt.Errorf("export store not configured")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("run id required")
	}
	stored := make([]Artifact, 0, len(formats))
	for _, f := range formats {
		art, err := e.exportOne(ctx, runID, table, f)
		if err != nil {
			e.record(ctx, runID, f, e.Key(runID, f), StatusFailed, err)
			e.Discard(ctx, runID, stored)
			return nil, err
		}
		e.record(ctx, runID, f, art.Key, StatusStored, nil)
		stored = append(stored, art)
	}
	return stored, nil
}

func (e *Exporter) exportOne(ctx context.Context, runID string, table densify.Table, f Format) (Artifact, error) {
	payload, contentType, err := Materialize(f, runID, table)
	if err != nil {
		return Artifact{}, err
	}
	key := e.Key(runID, f)
	md := map[string]string{
		"run_id":   runID,
		"rows":     strconv.Itoa(len(table.Records)),
		"hauls":    strconv.Itoa(table.Hauls),
		"groups":   strconv.Itoa(table.Groups),
		"observed": strconv.Itoa(table.Observed),
	}
	info, err := e.store.Put(ctx, key, bytes.NewReader(payload), core.PutOptions{ContentType: contentType, Metadata: md})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s artifact: %w", f, err)
	}
	art := Artifact{
		ID:          uuid.NewString(),
		Format:      f,
		Key:         key,
		ContentType: contentType,
		SizeBytes:   info.Size,
		ETag:        info.ETag,
		URL:         info.URL,
		Metadata:    md,
		CreatedAt:   e.now(),
	}
	if art.SizeBytes == 0 {
		art.SizeBytes = int64(len(payload))
	}
	if url, err := e.store.PresignURL(ctx, key, core.SignedURLOptions{}); err == nil {
		art.URL = url
	}
	e.logger.Info("artifact stored",
		zap.String("run_id", runID),
		zap.String("format", string(f)),
		zap.String("key", key),
		zap.Int64("bytes", art.SizeBytes))
	return art, nil
}

// Discard deletes stored artifacts of a run and audits each removal as
// rolled back.
func (e *Exporter) Discard(ctx context.Context, runID string, stored []Artifact) {
	for _, art := range stored {
		if _, err := e.store.Delete(ctx, art.Key); err != nil {
			e.logger.Warn("rollback delete failed", zap.String("key", art.Key), zap.Error(err))
			continue
		}
		e.record(ctx, runID, art.Format, art.Key, StatusRolledBack, nil)
	}
}

func (e *Exporter) record(ctx context.Context, runID string, f Format, key string, status Status, err error) {
	if e.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:         uuid.NewString(),
		Action:     "dense_export",
		RunID:      runID,
		Format:     f,
		Key:        key,
		Status:     status,
		OccurredAt: e.now(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	e.audit.Record(ctx, entry)
}

type jsonDocument struct {
	RunID    string               `json:"run_id"`
	Hauls    int                  `json:"hauls"`
	Groups   int                  `json:"groups"`
	Observed int                  `json:"observed"`
	Columns  []string             `json:"columns"`
	Rows     []survey.DenseRecord `json:"rows"`
}

// Materialize encodes the table as f and returns the payload and its content
// type. Floats are written in shortest round-trip form, so values are never
// rounded.
func Materialize(f Format, runID string, table densify.Table) ([]byte, string, error) {
	switch f {
	case FormatCSV:
		buf := &bytes.Buffer{}
		w := csv.NewWriter(buf)
		if err := w.Write(survey.DenseColumns); err != nil {
			return nil, "", err
		}
		for _, r := range table.Records {
			if err := w.Write(csvRow(r)); err != nil {
				return nil, "", err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "text/csv", nil
	case FormatJSON:
		rows := table.Records
		if rows == nil {
			rows = []survey.DenseRecord{}
		}
		payload, err := json.Marshal(jsonDocument{
			RunID:    runID,
			Hauls:    table.Hauls,
			Groups:   table.Groups,
			Observed: table.Observed,
			Columns:  survey.DenseColumns,
			Rows:     rows,
		})
		if err != nil {
			return nil, "", fmt.Errorf("marshal json: %w", err)
		}
		return payload, "application/json", nil
	case FormatNDJSON:
		buf := &bytes.Buffer{}
		enc := json.NewEncoder(buf)
		for _, r := range table.Records {
			if err := enc.Encode(r); err != nil {
				return nil, "", fmt.Errorf("encode ndjson: %w", err)
			}
		}
		return buf.Bytes(), "application/x-ndjson", nil
	default:
		return nil, "", fmt.Errorf("unsupported export format %s", f)
	}
}

func csvRow(r survey.DenseRecord) []string {
	return []string{
		r.HaulID,
		strconv.Itoa(r.Year),
		formatFloat(r.Lat),
		formatFloat(r.Lon),
		formatFloat(r.Depth),
		r.GroupCode,
		r.GroupName,
		formatFloat(r.Biomass),
		formatFloat(r.Abundance),
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// MemoryAuditLog captures audit entries in memory.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries...)
}

// ZapAuditLog writes audit entries to a logger.
type ZapAuditLog struct{ Logger *zap.Logger }

// Record logs the entry at info level, or warn for failures.
func (l ZapAuditLog) Record(_ context.Context, entry AuditEntry) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("audit_id", entry.ID),
		zap.String("run_id", entry.RunID),
		zap.String("format", string(entry.Format)),
		zap.String("key", entry.Key),
		zap.String("status", string(entry.Status)),
	}
	if entry.Status == StatusFailed {
		l.Logger.Warn(entry.Action, append(fields, zap.String("error", entry.Error))...)
		return
	}
	l.Logger.Info(entry.Action, fields...)
}
