package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "climate.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "local", cfg.Lake.Driver)
	assert.Equal(t, "./data/lake", cfg.Lake.Root)
	assert.Equal(t, "zoomcamp-climate-trace", cfg.Lake.Bucket)
	assert.Equal(t, "./data", cfg.Extract.DataDir)
	assert.Equal(t, "https://api.worldbank.org/v2", cfg.Extract.WorldBankURL)
	assert.Contains(t, cfg.Extract.ClimateTraceURL, "{year}")
	assert.Equal(t, 4, cfg.Runner.Concurrency)
	assert.Equal(t, 1, cfg.Runner.Retries)
	assert.Equal(t, 5*time.Minute, cfg.Runner.RetryDelay())
	assert.True(t, cfg.Combine.PartitionByYear)
	assert.Equal(t, "zoomcamp_climate_warehouse", cfg.Catalog.Dataset)
	assert.Empty(t, cfg.Metrics.TextfilePath)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, 0.5, cfg.Monitoring.FailureRateThreshold)
	assert.Equal(t, 48, cfg.Monitoring.StaleAfterHours)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
pipeline:
  processing_years: [2019, 2020, 2021]
  extraction_years: "2022"
store:
  driver: postgres
  database_url: postgres://localhost/climate
log:
  level: debug
  format: console
runner:
  concurrency: 8
combine:
  partition_by_year: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8, cfg.Runner.Concurrency)
	assert.False(t, cfg.Combine.PartitionByYear)
	// Defaults still apply for unset values
	assert.Equal(t, 1, cfg.Runner.Retries)

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []int{2019, 2020, 2021}, cfg.ResolveProcessingYears(now).Years.Years())
	assert.Equal(t, []int{2022}, cfg.ResolveExtractionYears(now).Years.Years())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("CLIMATE_STORE_DRIVER", "postgres")
	t.Setenv("CLIMATE_LOG_LEVEL", "warn")
	t.Setenv("CLIMATE_PIPELINE_PROCESSING_YEARS", "[2018, 2019]")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []int{2018, 2019}, cfg.ResolveProcessingYears(time.Now()).Years.Years())
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestResolveYears_Fallback(t *testing.T) {
	cfg := &Config{}
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	res := cfg.ResolveProcessingYears(now)
	assert.Equal(t, []int{2025}, res.Years.Years())
	assert.True(t, res.FellBack())

	cfg.Pipeline.FallbackYear = 2020
	cfg.Pipeline.ProcessingYears = "[abc]"
	res = cfg.ResolveProcessingYears(now)
	assert.Equal(t, []int{2020}, res.Years.Years())
	assert.NotEmpty(t, res.Warnings)
}

func TestFallback(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := &Config{}
	assert.Equal(t, 2025, cfg.Fallback(now))
	cfg.Pipeline.FallbackYear = 2019
	assert.Equal(t, 2019, cfg.Fallback(now))
}

func TestRawYears(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"2020", "2020"},
		{2021, "2021"},
		{[]any{2019, "2020"}, `[2019,"2020"]`},
		{[]int{2019, 2020}, "[2019,2020]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RawYears(tt.in))
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Lake:       LakeConfig{Driver: "local", Root: "lake"},
			Runner:     RunnerConfig{Concurrency: 4, Retries: 1, RetryDelaySecs: 300},
			Catalog:    CatalogConfig{Dataset: "ds"},
			Store:      StoreConfig{Driver: "sqlite", DatabaseURL: "climate.db"},
			Monitoring: MonitoringConfig{LookbackWindowHours: 24, FailureRateThreshold: 0.5},
		}
	}

	assert.NoError(t, valid().Validate("run"))
	assert.NoError(t, valid().Validate("plan"))
	assert.NoError(t, valid().Validate("catalog"))
	assert.NoError(t, valid().Validate("transform"))
	assert.NoError(t, valid().Validate("monitor"))

	cfg := valid()
	cfg.Runner.Concurrency = 0
	cfg.Runner.Retries = -1
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner.concurrency must be between 1 and 64")
	assert.Contains(t, err.Error(), "runner.retries must be >= 0")
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg = valid()
	cfg.Lake = LakeConfig{Driver: "minio"}
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lake.endpoint is required")

	cfg = valid()
	cfg.Lake.Driver = "gcs"
	assert.ErrorContains(t, cfg.Validate("run"), "not supported")

	cfg = valid()
	cfg.Pipeline.FallbackYear = 99
	assert.ErrorContains(t, cfg.Validate("plan"), "fallback_year")

	cfg = valid()
	cfg.Monitoring.FailureRateThreshold = 1.5
	cfg.Monitoring.LookbackWindowHours = 0
	err = cfg.Validate("monitor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failure_rate_threshold")
	assert.Contains(t, err.Error(), "lookback_window_hours")

	assert.ErrorContains(t, valid().Validate("unknown"), "unknown mode")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
