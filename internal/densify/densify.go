// Package densify expands sparse, non-zero CPUE observations into the full
// haul x group table, filling every unobserved pair with zeros.
//
// Observations are indexed once by (haul, group) so the cross product costs
// O(|H|*|G| + |O|) rather than rescanning the observations for every pair.
package densify

import (
	"context"
	"iter"
	"math"

	"go.uber.org/zap"

	"trawlgrid/internal/survey"
)

// EmptyInputWarning is the advisory raised when the haul or group enumeration
// is empty. The resulting table is empty; it is logged, never returned as an
// error.
type EmptyInputWarning struct {
	Hauls  int `json:"hauls"`
	Groups int `json:"groups"`
}

func (w EmptyInputWarning) String() string {
	if w.Hauls == 0 && w.Groups == 0 {
		return "no hauls and no groups supplied; dense table is empty"
	}
	if w.Hauls == 0 {
		return "no hauls supplied; dense table is empty"
	}
	return "no groups supplied; dense table is empty"
}

// Table is the dense output of a densification run.
type Table struct {
	Records []survey.DenseRecord `json:"records"`
	Hauls   int                  `json:"hauls"`
	Groups  int                  `json:"groups"`
	// Observed counts the rows copied from an observation; the remaining
	// rows were zero-filled.
	Observed int                 `json:"observed"`
	Warnings []EmptyInputWarning `json:"warnings,omitempty"`
}

// Index holds validated enumerations plus the (haul, group) observation index.
type Index struct {
	hauls  []survey.Haul
	groups []survey.Group
	obs    map[survey.Key]survey.Observation
}

// NewIndex validates the enumerations and indexes the observations. Any
// contract violation aborts the whole build; no partial index is returned.
func NewIndex(hauls []survey.Haul, groups []survey.Group, observations []survey.Observation) (*Index, error) {
	haulSet := make(map[string]struct{}, len(hauls))
	for _, h := range hauls {
		if _, dup := haulSet[h.ID]; dup {
			return nil, &DuplicateHaulError{HaulID: h.ID}
		}
		haulSet[h.ID] = struct{}{}
	}
	groupSet := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		if _, dup := groupSet[g.Code]; dup {
			return nil, &DuplicateGroupError{GroupCode: g.Code}
		}
		groupSet[g.Code] = struct{}{}
	}

	idx := make(map[survey.Key]survey.Observation, len(observations))
	for _, o := range observations {
		if _, ok := haulSet[o.HaulID]; !ok {
			return nil, &UnknownReferenceError{Kind: ReferenceHaul, HaulID: o.HaulID, GroupCode: o.GroupCode}
		}
		if _, ok := groupSet[o.GroupCode]; !ok {
			return nil, &UnknownReferenceError{Kind: ReferenceGroup, HaulID: o.HaulID, GroupCode: o.GroupCode}
		}
		if invalid(o.Biomass) {
			return nil, &NegativeMeasurementError{HaulID: o.HaulID, GroupCode: o.GroupCode, Field: "biomass", Value: o.Biomass}
		}
		if invalid(o.Abundance) {
			return nil, &NegativeMeasurementError{HaulID: o.HaulID, GroupCode: o.GroupCode, Field: "abundance", Value: o.Abundance}
		}
		key := o.Key()
		if _, dup := idx[key]; dup {
			return nil, &DuplicateObservationKeyError{HaulID: o.HaulID, GroupCode: o.GroupCode}
		}
		idx[key] = o
	}

	return &Index{
		hauls:  append([]survey.Haul(nil), hauls...),
		groups: append([]survey.Group(nil), groups...),
		obs:    idx,
	}, nil
}

func invalid(v float64) bool { return v < 0 || math.IsNaN(v) || math.IsInf(v, 0) }

// Len returns the number of dense rows the index expands to.
func (x *Index) Len() int { return len(x.hauls) * len(x.groups) }

// Observed returns the number of indexed observations.
func (x *Index) Observed() int { return len(x.obs) }

// Lookup returns the observation for a (haul, group) pair, if any.
func (x *Index) Lookup(haulID, groupCode string) (survey.Observation, bool) {
	o, ok := x.obs[survey.Key{HaulID: haulID, GroupCode: groupCode}]
	return o, ok
}

// Rows streams the dense table haul-major in enumeration order. The sequence
// is finite and may be iterated more than once.
func (x *Index) Rows() iter.Seq[survey.DenseRecord] {
	return func(yield func(survey.DenseRecord) bool) {
		for _, h := range x.hauls {
			for _, g := range x.groups {
				if !yield(x.record(h, g)) {
					return
				}
			}
		}
	}
}

func (x *Index) record(h survey.Haul, g survey.Group) survey.DenseRecord {
	rec := survey.DenseRecord{
		HaulID:    h.ID,
		Year:      h.Year,
		Lat:       h.Lat,
		Lon:       h.Lon,
		Depth:     h.Depth,
		GroupCode: g.Code,
		GroupName: g.Name,
	}
	if o, ok := x.obs[survey.Key{HaulID: h.ID, GroupCode: g.Code}]; ok {
		rec.Biomass = o.Biomass
		rec.Abundance = o.Abundance
	}
	return rec
}

// Option configures Densify.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger routes advisories such as EmptyInputWarning to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Densify builds the full haul x group table. Observed pairs carry their
// observation values unchanged; all other pairs are zero.
func Densify(ctx context.Context, hauls []survey.Haul, groups []survey.Group, observations []survey.Observation, opts ...Option) (Table, error) {
	cfg := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	idx, err := NewIndex(hauls, groups, observations)
	if err != nil {
		return Table{}, err
	}

	table := Table{Hauls: len(idx.hauls), Groups: len(idx.groups), Observed: idx.Observed()}
	if table.Hauls == 0 || table.Groups == 0 {
		w := EmptyInputWarning{Hauls: table.Hauls, Groups: table.Groups}
		cfg.logger.Warn(w.String(), zap.Int("hauls", w.Hauls), zap.Int("groups", w.Groups))
		table.Warnings = append(table.Warnings, w)
		table.Records = []survey.DenseRecord{}
		return table, nil
	}

	records := make([]survey.DenseRecord, 0, idx.Len())
	for _, h := range idx.hauls {
		if err := ctx.Err(); err != nil {
			return Table{}, err
		}
		for _, g := range idx.groups {
			records = append(records, idx.record(h, g))
		}
	}
	table.Records = records
	cfg.logger.Debug("densified",
		zap.Int("hauls", table.Hauls),
		zap.Int("groups", table.Groups),
		zap.Int("observed", table.Observed),
		zap.Int("rows", len(records)))
	return table, nil
}
