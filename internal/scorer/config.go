package scorer

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/EBISPOT/zooma-sub003/internal/config"
)

// DefaultConfig returns the cutoffs used when none are configured: keep
// candidates within 80% of the top score, and call a score of 80 or more
// a clear match.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		CutoffPercentage: 0.8,
		CutoffScore:      80,
	}
}

// ValidateConfig checks that a ScoringConfig is usable.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	// The percentage is a fraction of the top score.
	if c.CutoffPercentage < 0 || c.CutoffPercentage > 1 {
		errs = append(errs, "cutoff_percentage must be between 0 and 1")
	}

	// Normalized scores never leave [0,100].
	if c.CutoffScore < 0 || c.CutoffScore > 100 {
		errs = append(errs, "cutoff_score must be between 0 and 100")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
