// Package schema defines the canonical schemas of the World Bank and Climate
// TRACE sources and normalizes raw tables into them.
package schema

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Source identifies an upstream data provider. Its string value doubles as
// the data_source provenance tag.
type Source string

const (
	WorldBank    Source = "world_bank"
	ClimateTrace Source = "climate_trace"
)

// Sources lists every source in processing order.
func Sources() []Source {
	return []Source{WorldBank, ClimateTrace}
}

// ParseSource converts "world_bank" or "climate_trace" into a Source.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case WorldBank:
		return WorldBank, nil
	case ClimateTrace:
		return ClimateTrace, nil
	default:
		return "", eris.Errorf("schema: unknown source %q (valid: world_bank, climate_trace)", s)
	}
}

// Column maps a raw column name to its canonical name.
type Column struct {
	Raw  string
	Name string
}

// Schema is the canonical layout of one source.
type Schema struct {
	Source        Source
	Abbrev        string // short tag used in stage ids, e.g. "wb"
	CountryColumn string // raw column holding the country code
	YearColumn    string // raw column holding the year; optional in the raw table
	Metrics       []Column
}

const (
	ColCountryCode = "country_code"
	ColYear        = "year"
	ColDataSource  = "data_source"
)

var worldBank = &Schema{
	Source:        WorldBank,
	Abbrev:        "wb",
	CountryColumn: "country",
	YearColumn:    "year",
	Metrics: []Column{
		{Raw: "SP.POP.TOTL", Name: "population"},
		{Raw: "NY.GDP.PCAP.CD", Name: "gdp_per_capita"},
		{Raw: "SP.DYN.LE00.IN", Name: "life_expectancy"},
		{Raw: "SE.SEC.ENRR", Name: "school_enrollment"},
		{Raw: "SL.UEM.TOTL.ZS", Name: "unemployment_rate"},
		{Raw: "SI.POV.GINI", Name: "gini_index"},
		{Raw: "SI.POV.GAPS", Name: "poverty_gap"},
	},
}

var climateTrace = &Schema{
	Source:        ClimateTrace,
	Abbrev:        "ct",
	CountryColumn: "country",
	YearColumn:    "year",
	Metrics: []Column{
		{Raw: "co2", Name: "co2_emissions"},
		{Raw: "ch4", Name: "ch4_emissions"},
		{Raw: "n2o", Name: "n2o_emissions"},
		{Raw: "co2e_100yr", Name: "co2e_100yr_gwp"},
		{Raw: "co2e_20yr", Name: "co2e_20yr_gwp"},
	},
}

// For returns the schema of src.
func For(src Source) (*Schema, error) {
	switch src {
	case WorldBank:
		return worldBank, nil
	case ClimateTrace:
		return climateTrace, nil
	default:
		return nil, eris.Errorf("schema: unknown source %q", src)
	}
}

// MustFor is For for the built-in sources.
func MustFor(src Source) *Schema {
	s, err := For(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Columns returns the canonical column names in output order.
func (s *Schema) Columns() []string {
	cols := make([]string, 0, len(s.Metrics)+3)
	cols = append(cols, ColCountryCode, ColYear)
	for _, m := range s.Metrics {
		cols = append(cols, m.Name)
	}
	return append(cols, ColDataSource)
}

// MetricNames returns the canonical metric names in order.
func (s *Schema) MetricNames() []string {
	out := make([]string, len(s.Metrics))
	for i, m := range s.Metrics {
		out[i] = m.Name
	}
	return out
}

// RawColumns returns the raw columns a table must carry. The year column is
// not required.
func (s *Schema) RawColumns() []string {
	cols := make([]string, 0, len(s.Metrics)+1)
	cols = append(cols, s.CountryColumn)
	for _, m := range s.Metrics {
		cols = append(cols, m.Raw)
	}
	return cols
}

// Record is one canonical row. Metrics is aligned with Schema.Metrics; a nil
// entry is a missing value.
type Record struct {
	CountryCode string
	Year        int
	Metrics     []*float64
	DataSource  string
}

// Metric returns the metric at index i, or nil when out of range.
func (r Record) Metric(i int) *float64 {
	if i < 0 || i >= len(r.Metrics) {
		return nil
	}
	return r.Metrics[i]
}
