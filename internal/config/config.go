package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig      `yaml:"store" mapstructure:"store"`
	Loading     LoadingConfig    `yaml:"loading" mapstructure:"loading"`
	Scoring     ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Session     SessionConfig    `yaml:"session" mapstructure:"session"`
	Datasources DatasourceConfig `yaml:"datasources" mapstructure:"datasources"`
	Metrics     MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Monitoring  MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the annotation store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LoadingConfig configures the two-tier data loading service.
type LoadingConfig struct {
	DatasourceWorkers int         `yaml:"datasource_workers" mapstructure:"datasource_workers"`
	BlockWorkers      int         `yaml:"block_workers" mapstructure:"block_workers"`
	BlockSize         int         `yaml:"block_size" mapstructure:"block_size"`
	MaxCount          int         `yaml:"max_count" mapstructure:"max_count"` // 0 = unlimited
	ReadRate          float64     `yaml:"read_rate" mapstructure:"read_rate"` // pages/sec per datasource, 0 = unlimited
	Retry             RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient datasource reads.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff string  `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     string  `yaml:"max_backoff" mapstructure:"max_backoff"`
	Multiplier     float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// ScoringConfig configures the prediction confidence pipeline.
type ScoringConfig struct {
	CutoffPercentage float64 `yaml:"cutoff_percentage" mapstructure:"cutoff_percentage"`
	CutoffScore      float64 `yaml:"cutoff_score" mapstructure:"cutoff_score"`
	CaseSensitive    bool    `yaml:"case_sensitive" mapstructure:"case_sensitive"`
}

// MonitoringConfig configures receipt-based alerting for the serve command.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// SessionConfig configures URI minting and cache expiry of loading sessions.
type SessionConfig struct {
	BaseURI     string `yaml:"base_uri" mapstructure:"base_uri"`
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// DatasourceConfig points at the datasource manifest.
type DatasourceConfig struct {
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"` // empty disables the endpoint
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
	v.AddConfigPath("$HOME/.zooma")

	// Environment
	v.SetEnvPrefix("ZOOMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "zooma.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("loading.datasource_workers", 4)
	v.SetDefault("loading.block_workers", 32)
	v.SetDefault("loading.block_size", 100000)
	v.SetDefault("loading.max_count", 0)
	v.SetDefault("loading.read_rate", 0)
	v.SetDefault("loading.retry.max_attempts", 3)
	v.SetDefault("loading.retry.initial_backoff", "500ms")
	v.SetDefault("loading.retry.max_backoff", "10s")
	v.SetDefault("loading.retry.multiplier", 2.0)
	v.SetDefault("scoring.cutoff_percentage", 0.8)
	v.SetDefault("scoring.cutoff_score", 80.0)
	v.SetDefault("scoring.case_sensitive", false)
	v.SetDefault("session.base_uri", "http://rdf.ebi.ac.uk/resource/zooma")
	v.SetDefault("session.idle_timeout", "30s")
	v.SetDefault("datasources.manifest", "datasources.yaml")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.lookback_window_hours", 24)
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

// Validate checks the settings a command needs. Mode "load" checks the
// loading service and store, "predict" checks scoring and store.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, "store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres", c.Store.Driver))
	}

	switch mode {
	case "load":
		if c.Loading.DatasourceWorkers <= 0 {
			errs = append(errs, "loading.datasource_workers must be positive")
		}
		if c.Loading.BlockWorkers <= 0 {
			errs = append(errs, "loading.block_workers must be positive")
		}
		if c.Loading.BlockSize <= 0 {
			errs = append(errs, "loading.block_size must be positive")
		}
		if c.Loading.MaxCount < 0 {
			errs = append(errs, "loading.max_count must not be negative")
		}
		if c.Datasources.Manifest == "" {
			errs = append(errs, "datasources.manifest is required")
		}
	case "predict":
		if c.Scoring.CutoffPercentage < 0 || c.Scoring.CutoffPercentage > 1 {
			errs = append(errs, "scoring.cutoff_percentage must be between 0 and 1")
		}
		if c.Scoring.CutoffScore < 0 || c.Scoring.CutoffScore > 100 {
			errs = append(errs, "scoring.cutoff_score must be between 0 and 100")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
