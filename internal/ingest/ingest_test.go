package ingest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"trawlgrid/internal/survey"
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

func TestReadHaulsHeaderOrderAndBOM(t *testing.T) {
	in := "\ufeffEffort,haul_id,depth,lon,lat,year\n1.5,a,10,-1,2,2020\n"
	got, err := ReadHauls("hauls.csv", strings.NewReader(in))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []survey.HaulEffort{{Haul: survey.Haul{ID: "a", Year: 2020, Lat: 2, Lon: -1, Depth: 10}, Effort: 1.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("hauls mismatch:\n%s", diff)
	}
}

func TestReadHaulsErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "haul_id,year,lat,lon,depth\nh1,2019,1,2,3\n",
		"bad year":       "haul_id,year,lat,lon,depth,effort\nh1,20x9,1,2,3,1\n",
		"blank id":       "haul_id,year,lat,lon,depth,effort\n,2019,1,2,3,1\n",
		"empty":          "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadHauls("hauls.csv", strings.NewReader(in))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if pe.File != "hauls.csv" {
				t.Fatalf("file not recorded: %+v", pe)
			}
		})
	}
}

func TestReadHaulsMissingColumnIsWrapped(t *testing.T) {
	_, err := ReadHauls("hauls.csv", strings.NewReader("haul_id,year\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
}

func TestReadCatchLineNumbers(t *testing.T) {
	in := "haul_id,species_code,weight,count\nh1,1,2,3\nh1,2,oops,1\n"
	_, err := ReadCatch("catch.csv", strings.NewReader(in))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Line != 3 || pe.Column != "weight" {
		t.Fatalf("unexpected location %+v", pe)
	}
}

func TestReadRejectsNonFiniteNumbers(t *testing.T) {
	cases := []struct {
		name   string
		read   func() error
		line   int
		column string
	}{
		{"catch weight Inf", func() error {
			_, err := ReadCatch("catch.csv", strings.NewReader("haul_id,species_code,weight,count\nh1,1,2,3\nh1,2,Inf,1\n"))
			return err
		}, 3, "weight"},
		{"catch count -Infinity", func() error {
			_, err := ReadCatch("catch.csv", strings.NewReader("haul_id,species_code,weight,count\nh1,1,2,-Infinity\n"))
			return err
		}, 2, "count"},
		{"haul effort NaN", func() error {
			_, err := ReadHauls("hauls.csv", strings.NewReader("haul_id,year,lat,lon,depth,effort\nh1,2019,1,2,3,NaN\n"))
			return err
		}, 2, "effort"},
		{"haul depth +Inf", func() error {
			_, err := ReadHauls("hauls.csv", strings.NewReader("haul_id,year,lat,lon,depth,effort\nh1,2019,1,2,+Inf,1\n"))
			return err
		}, 2, "depth"},
		{"haul performance NaN", func() error {
			_, err := ReadHauls("hauls.csv", strings.NewReader("haul_id,year,lat,lon,depth,effort,performance\nh1,2019,1,2,3,1,nan\n"))
			return err
		}, 2, "performance"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.read()
			if !errors.Is(err, ErrNonFinite) {
				t.Fatalf("expected ErrNonFinite, got %v", err)
			}
			var pe *ParseError
			if !errors.As(err, &pe) || pe.Line != tc.line || pe.Column != tc.column {
				t.Fatalf("unexpected location %+v", pe)
			}
		})
	}
}

func TestFilterSatisfactory(t *testing.T) {
	hauls, err := ReadHauls("hauls.csv", strings.NewReader(haulsCSV))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	kept, err := FilterSatisfactory(hauls, 0)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(kept) != 2 || kept[0].ID != "h1" || kept[1].ID != "h2" {
		t.Fatalf("unexpected hauls %+v", kept)
	}
}

func TestFilterSatisfactoryDropsNaNPerformance(t *testing.T) {
	hauls := []survey.HaulEffort{
		{Haul: survey.Haul{ID: "ok"}, Effort: 1},
		{Haul: survey.Haul{ID: "nan"}, Effort: 1, Performance: math.NaN()},
	}
	kept, err := FilterSatisfactory(hauls, 0)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(kept) != 1 || kept[0].ID != "ok" {
		t.Fatalf("NaN performance should not count as satisfactory, got %+v", kept)
	}
}

func TestFilterSatisfactoryRejectsZeroEffort(t *testing.T) {
	hauls := []survey.HaulEffort{
		{Haul: survey.Haul{ID: "ok"}, Effort: 1},
		{Haul: survey.Haul{ID: "bad"}, Effort: 0},
		{Haul: survey.Haul{ID: "dropped"}, Effort: 0, Performance: -1},
	}
	_, err := FilterSatisfactory(hauls, 0)
	var ne *NonPositiveEffortError
	if !errors.As(err, &ne) || ne.HaulID != "bad" {
		t.Fatalf("expected NonPositiveEffortError for bad, got %v", err)
	}
	// Unsatisfactory tows are removed before the effort check.
	if _, err := FilterSatisfactory(hauls[2:], 0); err != nil {
		t.Fatalf("dropped haul should not be validated: %v", err)
	}
}

func TestGroupsDedupAndConflict(t *testing.T) {
	tax, err := ReadTaxonomy("taxonomy.csv", strings.NewReader(taxonomyCSV))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	groups, err := Groups(tax)
	if err != nil {
		t.Fatalf("groups: %v", err)
	}
	want := []survey.Group{
		{Code: "pcod", Name: "Pacific cod"},
		{Code: "pollock", Name: "Walleye pollock"},
		{Code: "deep", Name: "Deep demersal fish"},
	}
	if diff := cmp.Diff(want, groups); diff != "" {
		t.Fatalf("groups mismatch:\n%s", diff)
	}

	tax = append(tax, survey.TaxonEntry{SpeciesCode: "1", GroupCode: "pcod", GroupName: "Cod"})
	var ce *ConflictingGroupError
	if _, err := Groups(tax); !errors.As(err, &ce) || ce.GroupCode != "pcod" {
		t.Fatalf("expected ConflictingGroupError, got %v", err)
	}
}

func TestAggregateNormalisesAndSums(t *testing.T) {
	hauls, err := ReadHauls("hauls.csv", strings.NewReader(haulsCSV))
	if err != nil {
		t.Fatalf("hauls: %v", err)
	}
	kept, err := FilterSatisfactory(hauls, 0)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	tax, err := ReadTaxonomy("taxonomy.csv", strings.NewReader(taxonomyCSV))
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	catch, err := ReadCatch("catch.csv", strings.NewReader(catchCSV))
	if err != nil {
		t.Fatalf("catch: %v", err)
	}

	obs, stats, err := Aggregate(kept, tax, catch)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	want := []survey.Observation{
		{HaulID: "h1", GroupCode: "deep", Biomass: 2, Abundance: 1},
		{HaulID: "h1", GroupCode: "pcod", Biomass: 5, Abundance: 2},
		{HaulID: "h2", GroupCode: "pollock", Biomass: 2, Abundance: 0},
	}
	if diff := cmp.Diff(want, obs); diff != "" {
		t.Fatalf("observations mismatch:\n%s", diff)
	}
	wantStats := AggregateStats{
		CatchRecords:    7,
		UnmappedSpecies: map[string]int{"99999": 1},
		DroppedHauls:    1,
		ZeroRecords:     1,
		Observations:    3,
	}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Fatalf("stats mismatch:\n%s", diff)
	}
}

func TestAggregateRejectsConflictingSpecies(t *testing.T) {
	tax := []survey.TaxonEntry{
		{SpeciesCode: "1", GroupCode: "a"},
		{SpeciesCode: "1", GroupCode: "b"},
	}
	_, _, err := Aggregate(nil, tax, nil)
	var ce *ConflictingSpeciesError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictingSpeciesError, got %v", err)
	}
}
