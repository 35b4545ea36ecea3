package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sells-group/climate-pipeline/internal/config"
)

// testConfig returns a config rooted in a temp dir with local lake and
// sqlite store.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Pipeline: config.PipelineConfig{ProcessingYears: "[2022, 2023]", ExtractionYears: "2023"},
		Extract:  config.ExtractConfig{DataDir: filepath.Join(dir, "data"), UserAgent: "climate-test", TimeoutSecs: 5},
		Lake:     config.LakeConfig{Driver: "local", Root: filepath.Join(dir, "lake"), Scheme: "s3"},
		Runner:   config.RunnerConfig{Concurrency: 2, WorkDir: dir},
		Combine:  config.CombineConfig{PartitionByYear: true},
		Catalog:  config.CatalogConfig{Dataset: "climate_test"},
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "climate.db")},
		Log:      config.LogConfig{Level: "error", Format: "json"},
	}
}

// fakeAPIs serves a minimal World Bank and Climate TRACE API. Climate TRACE
// returns 404 for the years listed in missingCT.
func fakeAPIs(t *testing.T, missingCT ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(r.URL.Path, "/indicator/"):
			year := r.URL.Query().Get("date")
			_, _ = fmt.Fprintf(w, `[{"page":1,"pages":1},[
				{"country":{"id":"KE"},"countryiso3code":"KEN","date":%q,"value":10.5},
				{"country":{"id":"US"},"countryiso3code":"USA","date":%q,"value":20}
			]]`, year, year)
		case strings.HasPrefix(r.URL.Path, "/ct/"):
			year := strings.TrimPrefix(r.URL.Path, "/ct/")
			for _, m := range missingCT {
				if m == year {
					http.NotFound(w, r)
					return
				}
			}
			_, _ = fmt.Fprint(w, `[
				{"country":"KEN","emissions":{"co2":1,"ch4":2,"n2o":3,"co2e_100yr":4,"co2e_20yr":5}},
				{"country":"DEU","emissions":{"co2":6,"ch4":7,"n2o":8,"co2e_100yr":9,"co2e_20yr":10}}
			]`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}
