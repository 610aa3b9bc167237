// Package ingest reads survey CSV files and performs the upstream
// aggregation that turns raw species catch into per-group CPUE observations.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"trawlgrid/internal/survey"
)

// ParseError locates a malformed CSV cell.
type ParseError struct {
	File   string
	Line   int
	Column string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: column %s: %v", e.File, e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ErrMissingColumn is wrapped by ParseError when a required header is absent.
var ErrMissingColumn = errors.New("missing required column")

// ErrNonFinite is wrapped by ParseError when a numeric cell reads NaN or Inf.
var ErrNonFinite = errors.New("value must be finite")

// table is a header-indexed CSV reader. Column lookup is case-insensitive and
// independent of column order.
type table struct {
	name   string
	r      *csv.Reader
	cols   map[string]int
	line   int
	record []string
}

func newTable(name string, r io.Reader, required ...string) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{File: name, Line: 1, Err: errors.New("empty file")}
		}
		return nil, &ParseError{File: name, Line: 1, Err: err}
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, req := range required {
		if _, ok := cols[req]; !ok {
			return nil, &ParseError{File: name, Line: 1, Column: req, Err: ErrMissingColumn}
		}
	}
	return &table{name: name, r: cr, cols: cols, line: 1}, nil
}

// next advances to the next record; it returns io.EOF at the end of input.
func (t *table) next() error {
	rec, err := t.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return &ParseError{File: t.name, Line: t.line + 1, Err: err}
	}
	t.line++
	t.record = rec
	return nil
}

func (t *table) has(col string) bool {
	_, ok := t.cols[col]
	return ok
}

func (t *table) str(col string) string {
	i, ok := t.cols[col]
	if !ok || i >= len(t.record) {
		return ""
	}
	return strings.TrimSpace(t.record[i])
}

func (t *table) required(col string) (string, error) {
	v := t.str(col)
	if v == "" {
		return "", t.errf(col, errors.New("value required"))
	}
	return v, nil
}

func (t *table) float(col string) (float64, error) {
	v, err := t.required(col)
	if err != nil {
		return 0, err
	}
	f, err := parseFinite(v)
	if err != nil {
		return 0, t.errf(col, err)
	}
	return f, nil
}

// optionalFloat treats blank and NA cells as zero.
func (t *table) optionalFloat(col string) (float64, error) {
	v := t.str(col)
	if v == "" || strings.EqualFold(v, "NA") {
		return 0, nil
	}
	f, err := parseFinite(v)
	if err != nil {
		return 0, t.errf(col, err)
	}
	return f, nil
}

// parseFinite rejects NaN and infinities, which ParseFloat accepts.
func parseFinite(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s", ErrNonFinite, v)
	}
	return f, nil
}

func (t *table) int(col string) (int, error) {
	v, err := t.required(col)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, t.errf(col, err)
	}
	return n, nil
}

func (t *table) errf(col string, err error) error {
	return &ParseError{File: t.name, Line: t.line, Column: col, Err: err}
}

// ReadHauls parses haul descriptions with columns
// haul_id,year,lat,lon,depth,effort and an optional performance column.
func ReadHauls(name string, r io.Reader) ([]survey.HaulEffort, error) {
	t, err := newTable(name, r, "haul_id", "year", "lat", "lon", "depth", "effort")
	if err != nil {
		return nil, err
	}
	var out []survey.HaulEffort
	for {
		if err := t.next(); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		var h survey.HaulEffort
		if h.ID, err = t.required("haul_id"); err != nil {
			return nil, err
		}
		if h.Year, err = t.int("year"); err != nil {
			return nil, err
		}
		if h.Lat, err = t.float("lat"); err != nil {
			return nil, err
		}
		if h.Lon, err = t.float("lon"); err != nil {
			return nil, err
		}
		if h.Depth, err = t.float("depth"); err != nil {
			return nil, err
		}
		if h.Effort, err = t.float("effort"); err != nil {
			return nil, err
		}
		if t.has("performance") {
			if h.Performance, err = t.optionalFloat("performance"); err != nil {
				return nil, err
			}
		}
		out = append(out, h)
	}
}

// ReadTaxonomy parses species_code,group_code,group_name rows.
func ReadTaxonomy(name string, r io.Reader) ([]survey.TaxonEntry, error) {
	t, err := newTable(name, r, "species_code", "group_code", "group_name")
	if err != nil {
		return nil, err
	}
	var out []survey.TaxonEntry
	for {
		if err := t.next(); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		var e survey.TaxonEntry
		if e.SpeciesCode, err = t.required("species_code"); err != nil {
			return nil, err
		}
		if e.GroupCode, err = t.required("group_code"); err != nil {
			return nil, err
		}
		e.GroupName = t.str("group_name")
		out = append(out, e)
	}
}

// ReadCatch parses haul_id,species_code,weight,count rows. Blank or NA
// weight and count cells read as zero.
func ReadCatch(name string, r io.Reader) ([]survey.Catch, error) {
	t, err := newTable(name, r, "haul_id", "species_code", "weight")
	if err != nil {
		return nil, err
	}
	var out []survey.Catch
	for {
		if err := t.next(); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		var c survey.Catch
		if c.HaulID, err = t.required("haul_id"); err != nil {
			return nil, err
		}
		if c.SpeciesCode, err = t.required("species_code"); err != nil {
			return nil, err
		}
		if c.Weight, err = t.optionalFloat("weight"); err != nil {
			return nil, err
		}
		if c.Count, err = t.optionalFloat("count"); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
}
