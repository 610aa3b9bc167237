package densify

import (
	"fmt"
	"math"
)

// DuplicateObservationKeyError reports an observation key supplied more than
// once. Upstream aggregation must collapse species into groups first.
type DuplicateObservationKeyError struct {
	HaulID    string
	GroupCode string
}

func (e *DuplicateObservationKeyError) Error() string {
	return fmt.Sprintf("duplicate observation key (haul %s, group %s)", e.HaulID, e.GroupCode)
}

// ReferenceKind names the enumeration an unknown reference was checked against.
type ReferenceKind string

const (
	// ReferenceHaul marks an observation whose haul id is not enumerated.
	ReferenceHaul ReferenceKind = "haul"
	// ReferenceGroup marks an observation whose group code is not enumerated.
	ReferenceGroup ReferenceKind = "group"
)

// UnknownReferenceError reports an observation that names a haul or group
// outside the declared enumerations.
type UnknownReferenceError struct {
	Kind      ReferenceKind
	HaulID    string
	GroupCode string
}

func (e *UnknownReferenceError) Error() string {
	if e.Kind == ReferenceGroup {
		return fmt.Sprintf("observation (haul %s, group %s) references unknown group %s", e.HaulID, e.GroupCode, e.GroupCode)
	}
	return fmt.Sprintf("observation (haul %s, group %s) references unknown haul %s", e.HaulID, e.GroupCode, e.HaulID)
}

// DuplicateHaulError reports a haul id enumerated twice.
type DuplicateHaulError struct{ HaulID string }

func (e *DuplicateHaulError) Error() string {
	return fmt.Sprintf("haul %s enumerated more than once", e.HaulID)
}

// DuplicateGroupError reports a group code enumerated twice.
type DuplicateGroupError struct{ GroupCode string }

func (e *DuplicateGroupError) Error() string {
	return fmt.Sprintf("group %s enumerated more than once", e.GroupCode)
}

// NegativeMeasurementError reports an observation carrying a negative or
// non-finite biomass or abundance.
type NegativeMeasurementError struct {
	HaulID    string
	GroupCode string
	Field     string
	Value     float64
}

func (e *NegativeMeasurementError) Error() string {
	kind := "negative"
	if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
		kind = "non-finite"
	}
	return fmt.Sprintf("observation (haul %s, group %s) has %s %s %g", e.HaulID, e.GroupCode, kind, e.Field, e.Value)
}
