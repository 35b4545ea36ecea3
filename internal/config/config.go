// Package config loads the pipeline configuration from config.yaml and
// CLIMATE_* environment variables and sets up logging.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/climate-pipeline/internal/years"
)

// Config holds the full application configuration.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Lake       LakeConfig       `yaml:"lake" mapstructure:"lake"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Combine    CombineConfig    `yaml:"combine" mapstructure:"combine"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// PipelineConfig holds the year settings. The year values are loosely typed:
// a YAML list, a JSON array string, a comma list or a single year.
type PipelineConfig struct {
	ExtractionYears any `yaml:"extraction_years" mapstructure:"extraction_years"`
	ProcessingYears any `yaml:"processing_years" mapstructure:"processing_years"`
	// FallbackYear is used when no valid year can be resolved. Zero means
	// the current year.
	FallbackYear int `yaml:"fallback_year" mapstructure:"fallback_year"`
}

// ExtractConfig configures the upstream APIs and the local raw directory.
type ExtractConfig struct {
	DataDir         string `yaml:"data_dir" mapstructure:"data_dir"`
	WorldBankURL    string `yaml:"world_bank_url" mapstructure:"world_bank_url"`
	ClimateTraceURL string `yaml:"climate_trace_url" mapstructure:"climate_trace_url"`
	UserAgent       string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LakeConfig selects the data lake backend.
type LakeConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"` // "local" or "minio"
	Root      string `yaml:"root" mapstructure:"root"`
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	Region    string `yaml:"region" mapstructure:"region"`
	Scheme    string `yaml:"scheme" mapstructure:"scheme"`
}

// RunnerConfig configures stage scheduling.
type RunnerConfig struct {
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	Retries        int    `yaml:"retries" mapstructure:"retries"`
	RetryDelaySecs int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	WorkDir        string `yaml:"work_dir" mapstructure:"work_dir"`
}

// RetryDelay returns the fixed delay between stage attempts.
func (r RunnerConfig) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelaySecs) * time.Second
}

// CombineConfig configures the combine stage.
type CombineConfig struct {
	PartitionByYear bool `yaml:"partition_by_year" mapstructure:"partition_by_year"`
}

// CatalogConfig configures table registration.
type CatalogConfig struct {
	Dataset string `yaml:"dataset" mapstructure:"dataset"`
}

// StoreConfig configures the catalog and run ledger database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	// TextfilePath, when set, receives the run metrics after every run.
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// MonitoringConfig configures run-ledger health checks and webhook alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`

	// StaleAfterHours alerts when no run has succeeded (fully or partially)
	// for this long. Zero disables the check.
	StaleAfterHours int `yaml:"stale_after_hours" mapstructure:"stale_after_hours"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLIMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("pipeline.extraction_years", "")
	v.SetDefault("pipeline.processing_years", "")
	v.SetDefault("pipeline.fallback_year", 0)
	v.SetDefault("extract.data_dir", "./data")
	v.SetDefault("extract.world_bank_url", "https://api.worldbank.org/v2")
	v.SetDefault("extract.climate_trace_url", "https://api.climatetrace.org/v6/country/emissions?since={year}&to={year}")
	v.SetDefault("extract.user_agent", "climate-cli/1.0")
	v.SetDefault("extract.timeout_secs", 60)
	v.SetDefault("lake.driver", "local")
	v.SetDefault("lake.root", "./data/lake")
	v.SetDefault("lake.bucket", "zoomcamp-climate-trace")
	v.SetDefault("lake.region", "us-east-1")
	v.SetDefault("lake.scheme", "s3")
	v.SetDefault("runner.concurrency", 4)
	v.SetDefault("runner.retries", 1)
	v.SetDefault("runner.retry_delay_secs", 300)
	v.SetDefault("combine.partition_by_year", true)
	v.SetDefault("catalog.dataset", "zoomcamp_climate_warehouse")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "climate.db")
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.stale_after_hours", 48)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "plan":
	case "run":
		if c.Runner.Concurrency < 1 || c.Runner.Concurrency > 64 {
			errs = append(errs, "runner.concurrency must be between 1 and 64")
		}
		if c.Runner.Retries < 0 {
			errs = append(errs, "runner.retries must be >= 0")
		}
		if c.Runner.RetryDelaySecs < 0 {
			errs = append(errs, "runner.retry_delay_secs must be >= 0")
		}
		errs = append(errs, c.validateLake()...)
		errs = append(errs, c.validateStore()...)
		if c.Catalog.Dataset == "" {
			errs = append(errs, "catalog.dataset is required")
		}
	case "catalog":
		errs = append(errs, c.validateStore()...)
	case "monitor":
		errs = append(errs, c.validateStore()...)
		if c.Monitoring.LookbackWindowHours < 1 {
			errs = append(errs, "monitoring.lookback_window_hours must be >= 1")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	case "transform":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Pipeline.FallbackYear != 0 && !years.Valid(c.Pipeline.FallbackYear) {
		errs = append(errs, "pipeline.fallback_year must be a 4-digit year")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateLake() []string {
	switch c.Lake.Driver {
	case "local", "":
		if c.Lake.Root == "" {
			return []string{"lake.root is required for the local driver"}
		}
	case "minio":
		var errs []string
		if c.Lake.Endpoint == "" {
			errs = append(errs, "lake.endpoint is required for the minio driver")
		}
		if c.Lake.Bucket == "" {
			errs = append(errs, "lake.bucket is required for the minio driver")
		}
		return errs
	default:
		return []string{fmt.Sprintf("lake.driver %q is not supported", c.Lake.Driver)}
	}
	return nil
}

func (c *Config) validateStore() []string {
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

// ResolveExtractionYears resolves pipeline.extraction_years.
func (c *Config) ResolveExtractionYears(now time.Time) years.Resolution {
	return years.Resolve(RawYears(c.Pipeline.ExtractionYears), c.Fallback(now))
}

// ResolveProcessingYears resolves pipeline.processing_years.
func (c *Config) ResolveProcessingYears(now time.Time) years.Resolution {
	return years.Resolve(RawYears(c.Pipeline.ProcessingYears), c.Fallback(now))
}

// Fallback is the year used when a years value resolves to nothing:
// pipeline.fallback_year, or the year of now.
func (c *Config) Fallback(now time.Time) int {
	if c.Pipeline.FallbackYear != 0 {
		return c.Pipeline.FallbackYear
	}
	return now.Year()
}

// RawYears renders a loosely-typed year value as the string form the
// resolver parses. YAML lists become JSON arrays.
func RawYears(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any, []int, []string:
		b, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
