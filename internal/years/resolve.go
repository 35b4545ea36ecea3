package years

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Resolution is the outcome of Resolve: the years to process and every
// warning recorded while getting there.
type Resolution struct {
	Years    Set
	Warnings []string
}

// FellBack reports whether the fallback year was used.
func (r Resolution) FellBack() bool {
	for _, w := range r.Warnings {
		if strings.HasPrefix(w, fallbackPrefix) {
			return true
		}
	}
	return false
}

const fallbackPrefix = "no valid years"

// Resolve parses raw into a Set. raw may be a JSON array ("[2019, 2020]" or
// `["2019","2020"]`), a bracketed comma list that is not valid JSON
// ("[2019, abc]"), or a single scalar ("2020").
//
// Resolve never fails. Tokens that are not 4-digit integers are dropped with
// a warning; when nothing valid remains the result is {fallback}. A fallback
// outside MinYear..MaxYear is replaced by the current year.
func Resolve(raw string, fallback int) Resolution {
	log := zap.L().With(zap.String("component", "years.resolve"))

	var res Resolution
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		log.Warn(msg, zap.String("raw", raw))
	}

	var out []int
	seen := make(map[int]struct{})
	add := func(y int) {
		if !Valid(y) {
			warn("skipping out-of-range year %d", y)
			return
		}
		if _, dup := seen[y]; dup {
			warn("skipping duplicate year %d", y)
			return
		}
		seen[y] = struct{}{}
		out = append(out, y)
	}

	for _, tok := range tokenize(strings.TrimSpace(raw), warn) {
		y, ok := tok.year()
		if !ok {
			warn("skipping invalid year format: %s", tok.display())
			continue
		}
		add(y)
	}

	if len(out) == 0 {
		if !Valid(fallback) {
			now := time.Now().UTC().Year()
			warn("fallback year %d out of range, using %d", fallback, now)
			fallback = now
		}
		warn("%s found in %q, defaulting to %d", fallbackPrefix, raw, fallback)
		out = []int{fallback}
	}

	res.Years = Set{years: out}
	return res
}

// token is one candidate year: either a decoded JSON element or a raw string.
type token struct {
	raw  string
	json any
	isJS bool
}

func (t token) display() string {
	if !t.isJS {
		return strconv.Quote(t.raw)
	}
	b, err := json.Marshal(t.json)
	if err != nil {
		return fmt.Sprintf("%v", t.json)
	}
	return string(b)
}

func (t token) year() (int, bool) {
	if !t.isJS {
		return atoi(t.raw)
	}
	switch v := t.json.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt32 || v < math.MinInt32 {
			return 0, false
		}
		return int(v), true
	case string:
		return atoi(v)
	default:
		return 0, false
	}
}

func atoi(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

// tokenize splits the trimmed value into candidate tokens following the
// JSON → bracket list → scalar order of attempts.
func tokenize(s string, warn func(string, ...any)) []token {
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			toks := make([]token, len(arr))
			for i, v := range arr {
				toks[i] = token{json: v, isJS: true}
			}
			return toks
		}
		warn("years value %q is not valid JSON, parsing as a comma list", s)
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		parts := strings.Split(inner, ",")
		toks := make([]token, len(parts))
		for i, p := range parts {
			toks[i] = token{raw: strings.TrimSpace(p)}
		}
		return toks
	}
	return []token{{raw: s}}
}
