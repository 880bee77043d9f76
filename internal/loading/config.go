package loading

import (
	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/config"
	"github.com/EBISPOT/zooma-sub003/internal/resilience"
)

// Defaults for the two pool tiers and block partitioning.
const (
	DefaultDatasourceWorkers = 4
	DefaultBlockWorkers      = 32
	DefaultBlockSize         = 100000
)

// Config tunes a Service.
type Config struct {
	DatasourceWorkers int
	BlockWorkers      int
	BlockSize         int
	// MaxCount caps the annotations loaded per datasource or item set. 0
	// means unlimited.
	MaxCount int
	// ReadRate limits page reads per second per datasource. 0 means
	// unlimited.
	ReadRate float64
	Retry    resilience.RetryConfig
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		DatasourceWorkers: DefaultDatasourceWorkers,
		BlockWorkers:      DefaultBlockWorkers,
		BlockSize:         DefaultBlockSize,
		Retry:             resilience.DefaultRetryConfig(),
	}
}

// FromConfig converts the loading section of the application config.
func FromConfig(c config.LoadingConfig) (Config, error) {
	retry, err := resilience.FromConfig(c.Retry)
	if err != nil {
		return Config{}, eris.Wrap(err, "loading: retry config")
	}
	cfg := Config{
		DatasourceWorkers: c.DatasourceWorkers,
		BlockWorkers:      c.BlockWorkers,
		BlockSize:         c.BlockSize,
		MaxCount:          c.MaxCount,
		ReadRate:          c.ReadRate,
		Retry:             retry,
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.DatasourceWorkers <= 0 {
		c.DatasourceWorkers = DefaultDatasourceWorkers
	}
	if c.BlockWorkers <= 0 {
		c.BlockWorkers = DefaultBlockWorkers
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.MaxCount < 0 {
		c.MaxCount = 0
	}
	return c
}

// blocks returns how many blocks of c.BlockSize cover total items.
func (c Config) blocks(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + c.BlockSize - 1) / c.BlockSize
}

// capped applies MaxCount to total.
func (c Config) capped(total int) int {
	if c.MaxCount > 0 && c.MaxCount < total {
		return c.MaxCount
	}
	return total
}
