package counter

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// CounterConfig holds configuration for the counter module.
type CounterConfig struct {
	// ScaleFactor converts raw sensor counts to grams.
	ScaleFactor float64 `mapstructure:"scale_factor"`

	History       int     `mapstructure:"history"`        // Settling window length in samples
	TareThreshold float64 `mapstructure:"tare_threshold"` // Grams treated as baseline drift
	SettleRange   float64 `mapstructure:"settle_range"`   // Max window spread in grams; 0 uses TareThreshold
	BaselineAlpha float64 `mapstructure:"baseline_alpha"` // Zero tracking smoothing (0-1]

	MergeThreshold        float64 `mapstructure:"merge_threshold"`
	InitialDeviationRatio float64 `mapstructure:"initial_deviation_ratio"` // Seed deviation as a share of the first weight

	JournalEnabled      bool          `mapstructure:"journal_enabled"`
	JournalRetention    time.Duration `mapstructure:"journal_retention"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// DefaultConfig returns defaults matching the reference scale: a load cell
// ADC at 720 µg per count, reporting a few samples per second.
func DefaultConfig() CounterConfig {
	return CounterConfig{
		ScaleFactor:           720e-6,
		History:               4,
		TareThreshold:         0.1,
		BaselineAlpha:         0.02,
		MergeThreshold:        3.0,
		InitialDeviationRatio: 0.02,
		JournalEnabled:        true,
		JournalRetention:      30 * 24 * time.Hour,
		MaintenanceInterval:   time.Hour,
	}
}

var errInvalidScale = errors.New("scale_factor must be finite and non-zero")

// validate checks the fields the pipeline constructors do not.
func (c CounterConfig) validate() error {
	if c.ScaleFactor == 0 || math.IsNaN(c.ScaleFactor) || math.IsInf(c.ScaleFactor, 0) {
		return fmt.Errorf("counter config: %w (got %v)", errInvalidScale, c.ScaleFactor)
	}
	if c.InitialDeviationRatio < 0 || math.IsNaN(c.InitialDeviationRatio) {
		return fmt.Errorf("counter config: initial_deviation_ratio must be >= 0 (got %v)", c.InitialDeviationRatio)
	}
	if c.JournalEnabled && c.MaintenanceInterval <= 0 {
		return fmt.Errorf("counter config: maintenance_interval must be positive (got %v)", c.MaintenanceInterval)
	}
	return nil
}
