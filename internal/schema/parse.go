package schema

import (
	"math"
	"strconv"
	"strings"
)

// missingMarkers are cell values exporters use for "no observation".
var missingMarkers = map[string]bool{
	"":     true,
	"..":   true,
	"na":   true,
	"n/a":  true,
	"nan":  true,
	"null": true,
	"none": true,
}

// parseMetric parses a metric cell. Missing markers yield (nil, true);
// unparseable text yields (nil, false). A missing value is never zero.
func parseMetric(s string) (*float64, bool) {
	s = strings.TrimSpace(s)
	if missingMarkers[strings.ToLower(s)] {
		return nil, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &v, true
}

// parseYear accepts "2022" and integral float renderings such as "2022.0".
func parseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if y, err := strconv.Atoi(s); err == nil {
		return y, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
