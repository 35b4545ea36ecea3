// Package partition reads and writes the canonical and combined parquet
// partitions and knows the data-lake path conventions.
package partition

import (
	"strings"

	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/years"
)

// AggregateKey holds the single combined file spanning all years.
const AggregateKey = "processed/combined/combined_data/data.parquet"

// CombinedPattern is the per-year combined partition key.
const CombinedPattern = "processed/combined/" + years.Placeholder + "/data.parquet"

var rawPatterns = map[schema.Source]string{
	schema.WorldBank:    "world_bank/world_bank_indicators_" + years.Placeholder + ".csv",
	schema.ClimateTrace: "climate_trace/global_emissions_" + years.Placeholder + ".csv",
}

// RawPattern returns the lake key pattern of a source's raw yearly file.
func RawPattern(src schema.Source) string {
	return rawPatterns[src]
}

// RawKey returns the lake key of a source's raw file for year.
func RawKey(src schema.Source, year int) string {
	return years.Expand(RawPattern(src), year)
}

// RawFileName returns the base file name of the raw file, e.g.
// "world_bank_indicators_2022.csv".
func RawFileName(src schema.Source, year int) string {
	key := RawKey(src, year)
	return key[strings.LastIndex(key, "/")+1:]
}

// CanonicalPattern returns the lake key pattern of a source's canonical partition.
func CanonicalPattern(src schema.Source) string {
	return "processed/" + string(src) + "/" + years.Placeholder + "/data.parquet"
}

// CanonicalKey returns the lake key of a source's canonical partition for year.
func CanonicalKey(src schema.Source, year int) string {
	return years.Expand(CanonicalPattern(src), year)
}

// CombinedKey returns the lake key of the combined partition for year.
func CombinedKey(year int) string {
	return years.Expand(CombinedPattern, year)
}
