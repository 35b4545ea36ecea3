// Package combine inner-joins the canonical World Bank and Climate TRACE
// records of a year into combined records.
package combine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/schema"
)

// ErrDuplicateKey is the sentinel behind every *DuplicateKeyError.
var ErrDuplicateKey = errors.New("combine: duplicate join key")

// DuplicateKeyError reports a (country_code, year) key appearing twice in one
// input. Joining such input would multiply rows.
type DuplicateKeyError struct {
	Source  schema.Source
	Country string
	Year    int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("combine: duplicate key (%s, %d) in %s records", e.Country, e.Year, e.Source)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// Record is one combined row. Economic is aligned with the World Bank schema
// metrics and Emissions with the Climate TRACE schema metrics.
type Record struct {
	Country   string
	Year      int
	Economic  []*float64
	Emissions []*float64
}

// Columns returns the combined column names in output order.
func Columns() []string {
	cols := []string{"country", "year"}
	cols = append(cols, schema.MustFor(schema.WorldBank).MetricNames()...)
	return append(cols, schema.MustFor(schema.ClimateTrace).MetricNames()...)
}

// Stats summarizes a join. DroppedA and DroppedB count rows of the year
// without a partner on the other side.
type Stats struct {
	Matched  int `json:"matched"`
	DroppedA int `json:"dropped_world_bank"`
	DroppedB int `json:"dropped_climate_trace"`
}

// Combine inner-joins economic records a with emissions records b on
// (country_code, year) for year. Records of other years are ignored. A
// duplicate key on either side fails the join. The result is sorted by
// country and independent of input order.
func Combine(a, b []schema.Record, year int) ([]Record, Stats, error) {
	var st Stats

	left, err := index(a, schema.WorldBank, year)
	if err != nil {
		return nil, st, err
	}
	right, err := index(b, schema.ClimateTrace, year)
	if err != nil {
		return nil, st, err
	}

	out := make([]Record, 0, min(len(left), len(right)))
	for country, l := range left {
		r, ok := right[country]
		if !ok {
			st.DroppedA++
			continue
		}
		out = append(out, Record{
			Country:   country,
			Year:      year,
			Economic:  cloneMetrics(l.Metrics),
			Emissions: cloneMetrics(r.Metrics),
		})
	}
	st.Matched = len(out)
	st.DroppedB = len(right) - st.Matched

	sort.Slice(out, func(i, j int) bool { return out[i].Country < out[j].Country })

	if st.DroppedA > 0 || st.DroppedB > 0 {
		zap.L().With(zap.String("component", "combine")).Warn("rows dropped by inner join",
			zap.Int("year", year),
			zap.Int("matched", st.Matched),
			zap.Int("dropped_world_bank", st.DroppedA),
			zap.Int("dropped_climate_trace", st.DroppedB),
		)
	}
	return out, st, nil
}

func index(recs []schema.Record, src schema.Source, year int) (map[string]schema.Record, error) {
	want := len(schema.MustFor(src).Metrics)
	m := make(map[string]schema.Record, len(recs))
	for _, r := range recs {
		if r.DataSource != string(src) {
			return nil, eris.Errorf("combine: expected %s records, got data_source %q", src, r.DataSource)
		}
		if len(r.Metrics) != want {
			return nil, eris.Errorf("combine: %s record for %s has %d metrics, want %d",
				src, r.CountryCode, len(r.Metrics), want)
		}
		if r.Year != year {
			continue
		}
		if _, dup := m[r.CountryCode]; dup {
			return nil, &DuplicateKeyError{Source: src, Country: r.CountryCode, Year: year}
		}
		m[r.CountryCode] = r
	}
	return m, nil
}

func cloneMetrics(in []*float64) []*float64 {
	out := make([]*float64, len(in))
	for i, v := range in {
		if v != nil {
			c := *v
			out[i] = &c
		}
	}
	return out
}
