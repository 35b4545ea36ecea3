package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/table"
)

// ErrMissingColumn is the sentinel behind every *ColumnError.
var ErrMissingColumn = errors.New("schema: missing expected column")

// ColumnError reports the expected raw columns absent from a source table.
type ColumnError struct {
	Source  Source
	Missing []string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("schema: %s table is missing expected column(s): %s",
		e.Source, strings.Join(e.Missing, ", "))
}

func (e *ColumnError) Unwrap() error { return ErrMissingColumn }

// Stats counts what Normalize did with the rows of a table.
type Stats struct {
	RowsRead      int
	RowsKept      int
	RowsOtherYear int
	RowsNoCountry int
	InvalidValues int
}

// Normalize projects a raw table onto the canonical schema for one year.
// Rows of other years are dropped; if the table has no year column every row
// is kept and stamped with year. Missing or non-numeric metric cells become
// nil. Every expected column is checked before any row is read, so a schema
// mismatch never yields partial output. Records are sorted by country code.
//
// Normalize is deterministic: the same table and year always yield the same
// records in the same order.
func Normalize(s *Schema, t *table.Table, year int) ([]Record, Stats, error) {
	var st Stats

	var missing []string
	countryIdx, ok := t.Index(s.CountryColumn)
	if !ok {
		missing = append(missing, s.CountryColumn)
	}
	metricIdx := make([]int, len(s.Metrics))
	for i, m := range s.Metrics {
		idx, ok := t.Index(m.Raw)
		if !ok {
			missing = append(missing, m.Raw)
		}
		metricIdx[i] = idx
	}
	if len(missing) > 0 {
		return nil, st, &ColumnError{Source: s.Source, Missing: missing}
	}

	yearIdx, hasYear := t.Index(s.YearColumn)

	out := make([]Record, 0, len(t.Rows))
	for _, row := range t.Rows {
		st.RowsRead++

		if hasYear {
			y, ok := parseYear(table.Cell(row, yearIdx))
			if !ok || y != year {
				st.RowsOtherYear++
				continue
			}
		}

		country := strings.TrimSpace(table.Cell(row, countryIdx))
		if country == "" {
			st.RowsNoCountry++
			continue
		}

		rec := Record{
			CountryCode: country,
			Year:        year,
			Metrics:     make([]*float64, len(s.Metrics)),
			DataSource:  string(s.Source),
		}
		for i, idx := range metricIdx {
			v, valid := parseMetric(table.Cell(row, idx))
			if !valid {
				st.InvalidValues++
			}
			rec.Metrics[i] = v
		}
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CountryCode < out[j].CountryCode
	})
	st.RowsKept = len(out)

	log := zap.L().With(zap.String("component", "schema.normalize"))
	if !hasYear {
		log.Info("table has no year column, keeping all rows",
			zap.String("source", string(s.Source)), zap.Int("year", year))
	}
	if st.InvalidValues > 0 {
		log.Warn("non-numeric metric values treated as missing",
			zap.String("source", string(s.Source)),
			zap.Int("year", year),
			zap.Int("invalid_values", st.InvalidValues),
		)
	}
	return out, st, nil
}
