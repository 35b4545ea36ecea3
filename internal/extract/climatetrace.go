package extract

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/fetcher"
	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/years"
)

// DefaultClimateTraceURL returns country-level emissions for one year.
const DefaultClimateTraceURL = "https://api.climatetrace.org/v6/country/emissions?since=" +
	years.Placeholder + "&to=" + years.Placeholder

// ClimateTrace extracts country emissions from the Climate TRACE API.
type ClimateTrace struct {
	fetcher     fetcher.Fetcher
	urlTemplate string
	log         *zap.Logger
}

// NewClimateTrace creates a Climate TRACE extractor. urlTemplate may contain
// the {year} placeholder; empty uses DefaultClimateTraceURL.
func NewClimateTrace(f fetcher.Fetcher, urlTemplate string) *ClimateTrace {
	if urlTemplate == "" {
		urlTemplate = DefaultClimateTraceURL
	}
	return &ClimateTrace{
		fetcher:     f,
		urlTemplate: urlTemplate,
		log:         zap.L().With(zap.String("component", "extract.climate_trace")),
	}
}

func (c *ClimateTrace) Source() schema.Source { return schema.ClimateTrace }

type ctCountry struct {
	Country   string `json:"country"`
	Emissions struct {
		CO2       *float64 `json:"co2"`
		CH4       *float64 `json:"ch4"`
		N2O       *float64 `json:"n2o"`
		CO2e100yr *float64 `json:"co2e_100yr"`
		CO2e20yr  *float64 `json:"co2e_20yr"`
	} `json:"emissions"`
}

// Extract fetches emissions for year and flattens them into
// country,year,co2,ch4,n2o,co2e_100yr,co2e_20yr. Duplicate countries in the
// response keep the first entry.
func (c *ClimateTrace) Extract(ctx context.Context, year int, destPath string) (int64, error) {
	url := years.Expand(c.urlTemplate, year)

	body, err := c.fetcher.Download(ctx, url)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: climate trace %d", year)
	}
	defer body.Close() //nolint:errcheck

	entries, err := fetcher.CollectJSONArray[ctCountry](ctx, body)
	if err != nil {
		return 0, eris.Wrapf(err, "extract: climate trace %d", year)
	}

	sch := schema.MustFor(schema.ClimateTrace)
	header := append([]string{sch.CountryColumn, sch.YearColumn}, rawNames(sch)...)

	seen := make(map[string]bool, len(entries))
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		code := strings.TrimSpace(e.Country)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		em := e.Emissions
		rows = append(rows, []string{
			code,
			strconv.Itoa(year),
			formatFloat(em.CO2),
			formatFloat(em.CH4),
			formatFloat(em.N2O),
			formatFloat(em.CO2e100yr),
			formatFloat(em.CO2e20yr),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })

	if err := writeCSV(destPath, header, rows); err != nil {
		return 0, err
	}
	c.log.Info("climate trace extract complete", zap.Int("year", year), zap.Int("countries", len(rows)))
	return int64(len(rows)), nil
}
