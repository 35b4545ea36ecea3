// Package years resolves the loosely-typed "years to process" configuration
// value into a validated, ordered set of processing years.
package years

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// MinYear and MaxYear bound the 4-digit year range accepted in a Set.
	MinYear = 1000
	MaxYear = 9999
)

// Set is an ordered set of distinct processing years. The zero value is an
// empty set; use NewSet or Resolve to obtain a valid one.
type Set struct {
	years []int
}

// NewSet builds a Set from years in the given order. It fails on an empty
// input, an out-of-range year, or a duplicate.
func NewSet(years ...int) (Set, error) {
	if len(years) == 0 {
		return Set{}, eris.New("years: empty year set")
	}
	seen := make(map[int]struct{}, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if !Valid(y) {
			return Set{}, eris.Errorf("years: %d is not a 4-digit year", y)
		}
		if _, dup := seen[y]; dup {
			return Set{}, eris.Errorf("years: duplicate year %d", y)
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}
	return Set{years: out}, nil
}

// MustSet is NewSet for literals known to be valid. It panics otherwise.
func MustSet(years ...int) Set {
	s, err := NewSet(years...)
	if err != nil {
		panic(err)
	}
	return s
}

// Valid reports whether y is inside the accepted year range.
func Valid(y int) bool {
	return y >= MinYear && y <= MaxYear
}

// Years returns a copy of the years in order.
func (s Set) Years() []int {
	out := make([]int, len(s.years))
	copy(out, s.years)
	return out
}

// Len returns the number of years.
func (s Set) Len() int { return len(s.years) }

// Empty reports whether the set holds no years.
func (s Set) Empty() bool { return len(s.years) == 0 }

// Contains reports whether y is in the set.
func (s Set) Contains(y int) bool {
	for _, v := range s.years {
		if v == y {
			return true
		}
	}
	return false
}

// String renders the set as a JSON-style array, e.g. "[2019,2020]".
func (s Set) String() string {
	parts := make([]string, len(s.years))
	for i, y := range s.years {
		parts[i] = strconv.Itoa(y)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Placeholder is substituted with a concrete year in path and id patterns.
const Placeholder = "{year}"

// Expand replaces every Placeholder in pattern with year.
func Expand(pattern string, year int) string {
	return strings.ReplaceAll(pattern, Placeholder, strconv.Itoa(year))
}
