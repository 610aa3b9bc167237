package ingest

import (
	"fmt"
	"sort"

	"trawlgrid/internal/survey"
)

// NonPositiveEffortError reports a retained haul whose effort cannot
// normalise catch into CPUE.
type NonPositiveEffortError struct {
	HaulID string
	Effort float64
}

func (e *NonPositiveEffortError) Error() string {
	return fmt.Sprintf("haul %s has non-positive effort %g", e.HaulID, e.Effort)
}

// ConflictingGroupError reports a group code mapped to more than one name.
type ConflictingGroupError struct {
	GroupCode string
	Names     [2]string
}

func (e *ConflictingGroupError) Error() string {
	return fmt.Sprintf("group %s has conflicting names %q and %q", e.GroupCode, e.Names[0], e.Names[1])
}

// ConflictingSpeciesError reports a species assigned to two groups.
type ConflictingSpeciesError struct {
	SpeciesCode string
	Groups      [2]string
}

func (e *ConflictingSpeciesError) Error() string {
	return fmt.Sprintf("species %s assigned to groups %s and %s", e.SpeciesCode, e.Groups[0], e.Groups[1])
}

// FilterSatisfactory keeps hauls whose performance is at least
// minPerformance and returns the bare haul enumeration. Every retained haul
// must carry positive effort.
func FilterSatisfactory(hauls []survey.HaulEffort, minPerformance float64) ([]survey.HaulEffort, error) {
	out := make([]survey.HaulEffort, 0, len(hauls))
	for _, h := range hauls {
		if !(h.Performance >= minPerformance) {
			continue
		}
		if !(h.Effort > 0) {
			return nil, &NonPositiveEffortError{HaulID: h.ID, Effort: h.Effort}
		}
		out = append(out, h)
	}
	return out, nil
}

// Hauls strips effort and performance from haul descriptions.
func Hauls(in []survey.HaulEffort) []survey.Haul {
	out := make([]survey.Haul, len(in))
	for i, h := range in {
		out[i] = h.Haul
	}
	return out
}

// Groups returns the distinct groups named by the taxonomy in first-seen
// order.
func Groups(taxonomy []survey.TaxonEntry) ([]survey.Group, error) {
	seen := make(map[string]string, len(taxonomy))
	var out []survey.Group
	for _, e := range taxonomy {
		name, ok := seen[e.GroupCode]
		if !ok {
			seen[e.GroupCode] = e.GroupName
			out = append(out, survey.Group{Code: e.GroupCode, Name: e.GroupName})
			continue
		}
		if name != e.GroupName {
			return nil, &ConflictingGroupError{GroupCode: e.GroupCode, Names: [2]string{name, e.GroupName}}
		}
	}
	return out, nil
}

// AggregateStats summarises records that did not reach an observation.
type AggregateStats struct {
	CatchRecords int `json:"catch_records"`
	// UnmappedSpecies counts catch records per species code absent from the
	// taxonomy.
	UnmappedSpecies map[string]int `json:"unmapped_species,omitempty"`
	// DroppedHauls counts catch records on hauls removed by the performance
	// filter or missing from the haul file.
	DroppedHauls int `json:"dropped_hauls"`
	ZeroRecords  int `json:"zero_records"`
	Observations int `json:"observations"`
}

// Aggregate joins catch to functional groups, normalises weight and count by
// haul effort and sums the result per (haul, group). Only non-zero sums are
// returned, sorted by haul then group.
func Aggregate(hauls []survey.HaulEffort, taxonomy []survey.TaxonEntry, catch []survey.Catch) ([]survey.Observation, AggregateStats, error) {
	stats := AggregateStats{CatchRecords: len(catch)}

	effort := make(map[string]float64, len(hauls))
	for _, h := range hauls {
		if !(h.Effort > 0) {
			return nil, stats, &NonPositiveEffortError{HaulID: h.ID, Effort: h.Effort}
		}
		effort[h.ID] = h.Effort
	}
	groupOf := make(map[string]string, len(taxonomy))
	for _, e := range taxonomy {
		if prev, ok := groupOf[e.SpeciesCode]; ok && prev != e.GroupCode {
			return nil, stats, &ConflictingSpeciesError{SpeciesCode: e.SpeciesCode, Groups: [2]string{prev, e.GroupCode}}
		}
		groupOf[e.SpeciesCode] = e.GroupCode
	}

	sums := make(map[survey.Key]*survey.Observation)
	for _, c := range catch {
		area, ok := effort[c.HaulID]
		if !ok {
			stats.DroppedHauls++
			continue
		}
		group, ok := groupOf[c.SpeciesCode]
		if !ok {
			if stats.UnmappedSpecies == nil {
				stats.UnmappedSpecies = make(map[string]int)
			}
			stats.UnmappedSpecies[c.SpeciesCode]++
			continue
		}
		if c.Weight == 0 && c.Count == 0 {
			stats.ZeroRecords++
			continue
		}
		key := survey.Key{HaulID: c.HaulID, GroupCode: group}
		o, ok := sums[key]
		if !ok {
			o = &survey.Observation{HaulID: c.HaulID, GroupCode: group}
			sums[key] = o
		}
		o.Biomass += c.Weight / area
		o.Abundance += c.Count / area
	}

	out := make([]survey.Observation, 0, len(sums))
	for _, o := range sums {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HaulID != out[j].HaulID {
			return out[i].HaulID < out[j].HaulID
		}
		return out[i].GroupCode < out[j].GroupCode
	})
	stats.Observations = len(out)
	return out, stats, nil
}
