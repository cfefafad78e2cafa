// Package baseline provides the exponential smoothing primitive used to track
// the resting reading of the scale.
package baseline

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAlpha is returned when the smoothing factor is outside (0, 1].
var ErrInvalidAlpha = errors.New("alpha must be in (0, 1]")

// RunningAverage tracks an exponentially weighted moving average together
// with its mean absolute deviation.
type RunningAverage struct {
	alpha     float64
	value     float64
	deviation float64
	valid     bool
}

// NewRunningAverage creates an unset average with the given smoothing factor.
// An alpha of 1 disables smoothing: the value follows the last update.
func NewRunningAverage(alpha float64) (*RunningAverage, error) {
	if math.IsNaN(alpha) || alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("running average: %w (got %v)", ErrInvalidAlpha, alpha)
	}
	return &RunningAverage{alpha: alpha}, nil
}

// Update folds x into the average. The first update after construction or
// Clear seeds the value directly with zero deviation.
func (a *RunningAverage) Update(x float64) {
	if !a.valid {
		a.value = x
		a.deviation = 0
		a.valid = true
		return
	}
	dev := x - a.value
	a.value += dev * a.alpha
	a.deviation += (math.Abs(dev) - a.deviation) * a.alpha
}

// Valid reports whether at least one update happened since the last Clear.
func (a *RunningAverage) Valid() bool {
	return a.valid
}

// Value returns the smoothed value, or 0 when unset.
func (a *RunningAverage) Value() float64 {
	if !a.valid {
		return 0
	}
	return a.value
}

// Deviation returns the smoothed mean absolute deviation.
func (a *RunningAverage) Deviation() float64 {
	return a.deviation
}

// Alpha returns the smoothing factor fixed at construction.
func (a *RunningAverage) Alpha() float64 {
	return a.alpha
}

// Clear returns the average to the unset state.
func (a *RunningAverage) Clear() {
	a.value = 0
	a.deviation = 0
	a.valid = false
}

// String renders the value and deviation; dashes stand in for an unset average.
func (a *RunningAverage) String() string {
	if !a.valid {
		return "- (±-)"
	}
	return fmt.Sprintf("%.1f (±%.1f)", a.value, a.deviation)
}
