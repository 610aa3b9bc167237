// Package survey defines the trawl-survey records shared by ingestion,
// densification, export and persistence.
package survey

// Haul is one trawl deployment retained for modelling.
type Haul struct {
	ID    string  `json:"haul_id"`
	Year  int     `json:"year"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Depth float64 `json:"depth"`
}

// HaulEffort is a haul description row as read from the survey source,
// before the performance filter is applied.
type HaulEffort struct {
	Haul
	// Effort is the swept area used to normalise catch into CPUE.
	Effort float64 `json:"effort"`
	// Performance is the survey tow performance code; negative values flag
	// unsatisfactory tows.
	Performance float64 `json:"performance"`
}

// Group is a functional taxonomic aggregate.
type Group struct {
	Code string `json:"group_code"`
	Name string `json:"group_name"`
}

// TaxonEntry maps a raw species code onto its functional group.
type TaxonEntry struct {
	SpeciesCode string `json:"species_code"`
	GroupCode   string `json:"group_code"`
	GroupName   string `json:"group_name"`
}

// Catch is a raw species-level catch record for a haul.
type Catch struct {
	HaulID      string  `json:"haul_id"`
	SpeciesCode string  `json:"species_code"`
	Weight      float64 `json:"weight"`
	Count       float64 `json:"count"`
}

// Observation is a non-zero, already aggregated CPUE measurement for one
// (haul, group) pair.
type Observation struct {
	HaulID    string  `json:"haul_id"`
	GroupCode string  `json:"group_code"`
	Biomass   float64 `json:"biomass"`
	Abundance float64 `json:"abundance"`
}

// Key returns the (haul, group) key of the observation.
func (o Observation) Key() Key { return Key{HaulID: o.HaulID, GroupCode: o.GroupCode} }

// Key identifies a (haul, group) pair.
type Key struct {
	HaulID    string
	GroupCode string
}

// DenseRecord is one row of the zero-filled haul x group table. It carries the
// descriptive attributes of both its haul and its group.
type DenseRecord struct {
	HaulID    string  `json:"haul_id"`
	Year      int     `json:"year"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Depth     float64 `json:"depth"`
	GroupCode string  `json:"group_code"`
	GroupName string  `json:"group_name"`
	Biomass   float64 `json:"biomass"`
	Abundance float64 `json:"abundance"`
}

// Key returns the (haul, group) key of the record.
func (r DenseRecord) Key() Key { return Key{HaulID: r.HaulID, GroupCode: r.GroupCode} }

// DenseColumns is the canonical column order of the dense table.
var DenseColumns = []string{
	"haul_id", "year", "lat", "lon", "depth",
	"group_code", "group_name", "biomass", "abundance",
}
