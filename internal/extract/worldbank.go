package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/fetcher"
	"github.com/sells-group/climate-pipeline/internal/schema"
)

// DefaultWorldBankURL is the World Bank Indicators API v2 base URL.
const DefaultWorldBankURL = "https://api.worldbank.org/v2"

const wbPerPage = 20000

// WorldBank extracts the development indicators of the World Bank schema.
type WorldBank struct {
	fetcher fetcher.Fetcher
	baseURL string
	log     *zap.Logger
}

// NewWorldBank creates a World Bank extractor. An empty baseURL uses
// DefaultWorldBankURL.
func NewWorldBank(f fetcher.Fetcher, baseURL string) *WorldBank {
	if baseURL == "" {
		baseURL = DefaultWorldBankURL
	}
	return &WorldBank{
		fetcher: f,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     zap.L().With(zap.String("component", "extract.world_bank")),
	}
}

func (w *WorldBank) Source() schema.Source { return schema.WorldBank }

type wbMeta struct {
	Page    int               `json:"page"`
	Pages   int               `json:"pages"`
	Message []json.RawMessage `json:"message"`
}

type wbObservation struct {
	Country struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"country"`
	CountryISO3 string   `json:"countryiso3code"`
	Date        string   `json:"date"`
	Value       *float64 `json:"value"`
}

// Extract fetches every indicator for year and pivots them into one row per
// country: country,year,<indicator ids...>.
func (w *WorldBank) Extract(ctx context.Context, year int, destPath string) (int64, error) {
	sch := schema.MustFor(schema.WorldBank)

	values := make(map[string][]*float64)
	for i, m := range sch.Metrics {
		obs, err := w.fetchIndicator(ctx, m.Raw, year)
		if err != nil {
			return 0, err
		}
		for _, o := range obs {
			code := o.CountryISO3
			if code == "" {
				code = o.Country.ID
			}
			if code == "" || o.Date != strconv.Itoa(year) {
				continue
			}
			row, ok := values[code]
			if !ok {
				row = make([]*float64, len(sch.Metrics))
				values[code] = row
			}
			row[i] = o.Value
		}
		w.log.Debug("indicator fetched",
			zap.String("indicator", m.Raw),
			zap.Int("year", year),
			zap.Int("observations", len(obs)),
		)
	}

	countries := make([]string, 0, len(values))
	for c := range values {
		countries = append(countries, c)
	}
	sort.Strings(countries)

	header := append([]string{sch.CountryColumn, sch.YearColumn}, rawNames(sch)...)
	rows := make([][]string, 0, len(countries))
	for _, c := range countries {
		row := []string{c, strconv.Itoa(year)}
		for _, v := range values[c] {
			row = append(row, formatFloat(v))
		}
		rows = append(rows, row)
	}

	if err := writeCSV(destPath, header, rows); err != nil {
		return 0, err
	}
	w.log.Info("world bank extract complete", zap.Int("year", year), zap.Int("countries", len(rows)))
	return int64(len(rows)), nil
}

func (w *WorldBank) fetchIndicator(ctx context.Context, indicator string, year int) ([]wbObservation, error) {
	var out []wbObservation
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/country/all/indicator/%s?date=%d&format=json&per_page=%d&page=%d",
			w.baseURL, indicator, year, wbPerPage, page)

		meta, obs, err := w.fetchPage(ctx, url)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: world bank indicator %s (%d)", indicator, year)
		}
		out = append(out, obs...)
		if page >= meta.Pages {
			return out, nil
		}
	}
}

func (w *WorldBank) fetchPage(ctx context.Context, url string) (wbMeta, []wbObservation, error) {
	var meta wbMeta

	body, err := w.fetcher.Download(ctx, url)
	if err != nil {
		return meta, nil, err
	}
	defer body.Close() //nolint:errcheck

	parts, err := fetcher.CollectJSONArray[json.RawMessage](ctx, body)
	if err != nil {
		return meta, nil, err
	}
	if len(parts) == 0 {
		return meta, nil, eris.New("empty response")
	}
	if err := json.Unmarshal(parts[0], &meta); err != nil {
		return meta, nil, eris.Wrap(err, "decode page metadata")
	}
	if len(meta.Message) > 0 {
		return meta, nil, eris.Errorf("api error: %s", string(meta.Message[0]))
	}
	if len(parts) < 2 || string(parts[1]) == "null" {
		return meta, nil, nil
	}

	var obs []wbObservation
	if err := json.Unmarshal(parts[1], &obs); err != nil {
		return meta, nil, eris.Wrap(err, "decode observations")
	}
	return meta, obs, nil
}

func rawNames(s *schema.Schema) []string {
	out := make([]string, len(s.Metrics))
	for i, m := range s.Metrics {
		out[i] = m.Raw
	}
	return out
}
