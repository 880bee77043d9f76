package resilience

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/config"
)

// FromConfig converts the loading retry settings to a RetryConfig. Empty
// durations keep their defaults.
func FromConfig(c config.RetryConfig) (RetryConfig, error) {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	if c.InitialBackoff != "" {
		d, err := time.ParseDuration(c.InitialBackoff)
		if err != nil {
			return cfg, eris.Wrapf(err, "resilience: parse initial_backoff %q", c.InitialBackoff)
		}
		cfg.InitialBackoff = d
	}
	if c.MaxBackoff != "" {
		d, err := time.ParseDuration(c.MaxBackoff)
		if err != nil {
			return cfg, eris.Wrapf(err, "resilience: parse max_backoff %q", c.MaxBackoff)
		}
		cfg.MaxBackoff = d
	}
	return cfg, nil
}
