package partition

import (
	"github.com/sells-group/climate-pipeline/internal/combine"
	"github.com/sells-group/climate-pipeline/internal/schema"
)

type worldBankRow struct {
	CountryCode      string   `parquet:"country_code"`
	Year             int64    `parquet:"year"`
	Population       *float64 `parquet:"population,optional"`
	GDPPerCapita     *float64 `parquet:"gdp_per_capita,optional"`
	LifeExpectancy   *float64 `parquet:"life_expectancy,optional"`
	SchoolEnrollment *float64 `parquet:"school_enrollment,optional"`
	UnemploymentRate *float64 `parquet:"unemployment_rate,optional"`
	GiniIndex        *float64 `parquet:"gini_index,optional"`
	PovertyGap       *float64 `parquet:"poverty_gap,optional"`
	DataSource       string   `parquet:"data_source"`
}

func (r worldBankRow) metrics() []*float64 {
	return []*float64{r.Population, r.GDPPerCapita, r.LifeExpectancy, r.SchoolEnrollment,
		r.UnemploymentRate, r.GiniIndex, r.PovertyGap}
}

func newWorldBankRow(rec schema.Record) worldBankRow {
	m := rec.Metric
	return worldBankRow{
		CountryCode:      rec.CountryCode,
		Year:             int64(rec.Year),
		Population:       m(0),
		GDPPerCapita:     m(1),
		LifeExpectancy:   m(2),
		SchoolEnrollment: m(3),
		UnemploymentRate: m(4),
		GiniIndex:        m(5),
		PovertyGap:       m(6),
		DataSource:       rec.DataSource,
	}
}

type climateTraceRow struct {
	CountryCode  string   `parquet:"country_code"`
	Year         int64    `parquet:"year"`
	CO2Emissions *float64 `parquet:"co2_emissions,optional"`
	CH4Emissions *float64 `parquet:"ch4_emissions,optional"`
	N2OEmissions *float64 `parquet:"n2o_emissions,optional"`
	CO2e100yrGWP *float64 `parquet:"co2e_100yr_gwp,optional"`
	CO2e20yrGWP  *float64 `parquet:"co2e_20yr_gwp,optional"`
	DataSource   string   `parquet:"data_source"`
}

func (r climateTraceRow) metrics() []*float64 {
	return []*float64{r.CO2Emissions, r.CH4Emissions, r.N2OEmissions, r.CO2e100yrGWP, r.CO2e20yrGWP}
}

func newClimateTraceRow(rec schema.Record) climateTraceRow {
	m := rec.Metric
	return climateTraceRow{
		CountryCode:  rec.CountryCode,
		Year:         int64(rec.Year),
		CO2Emissions: m(0),
		CH4Emissions: m(1),
		N2OEmissions: m(2),
		CO2e100yrGWP: m(3),
		CO2e20yrGWP:  m(4),
		DataSource:   rec.DataSource,
	}
}

type combinedRow struct {
	Country          string   `parquet:"country"`
	Year             int64    `parquet:"year"`
	Population       *float64 `parquet:"population,optional"`
	GDPPerCapita     *float64 `parquet:"gdp_per_capita,optional"`
	LifeExpectancy   *float64 `parquet:"life_expectancy,optional"`
	SchoolEnrollment *float64 `parquet:"school_enrollment,optional"`
	UnemploymentRate *float64 `parquet:"unemployment_rate,optional"`
	GiniIndex        *float64 `parquet:"gini_index,optional"`
	PovertyGap       *float64 `parquet:"poverty_gap,optional"`
	CO2Emissions     *float64 `parquet:"co2_emissions,optional"`
	CH4Emissions     *float64 `parquet:"ch4_emissions,optional"`
	N2OEmissions     *float64 `parquet:"n2o_emissions,optional"`
	CO2e100yrGWP     *float64 `parquet:"co2e_100yr_gwp,optional"`
	CO2e20yrGWP      *float64 `parquet:"co2e_20yr_gwp,optional"`
}

func at(m []*float64, i int) *float64 {
	if i < len(m) {
		return m[i]
	}
	return nil
}

func newCombinedRow(rec combine.Record) combinedRow {
	e, x := rec.Economic, rec.Emissions
	return combinedRow{
		Country:          rec.Country,
		Year:             int64(rec.Year),
		Population:       at(e, 0),
		GDPPerCapita:     at(e, 1),
		LifeExpectancy:   at(e, 2),
		SchoolEnrollment: at(e, 3),
		UnemploymentRate: at(e, 4),
		GiniIndex:        at(e, 5),
		PovertyGap:       at(e, 6),
		CO2Emissions:     at(x, 0),
		CH4Emissions:     at(x, 1),
		N2OEmissions:     at(x, 2),
		CO2e100yrGWP:     at(x, 3),
		CO2e20yrGWP:      at(x, 4),
	}
}

func (r combinedRow) record() combine.Record {
	return combine.Record{
		Country: r.Country,
		Year:    int(r.Year),
		Economic: []*float64{r.Population, r.GDPPerCapita, r.LifeExpectancy, r.SchoolEnrollment,
			r.UnemploymentRate, r.GiniIndex, r.PovertyGap},
		Emissions: []*float64{r.CO2Emissions, r.CH4Emissions, r.N2OEmissions, r.CO2e100yrGWP, r.CO2e20yrGWP},
	}
}
