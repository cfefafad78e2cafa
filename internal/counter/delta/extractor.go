// Package delta turns a stream of scaled scale readings into discrete,
// settled weight changes relative to a drifting zero.
package delta

import (
	"errors"
	"fmt"
	"math"

	"github.com/HerbHall/tally/internal/counter/baseline"
	"github.com/HerbHall/tally/internal/counter/settle"
)

// ErrInvalidTare is returned for a non-positive tare threshold.
var ErrInvalidTare = errors.New("tare threshold must be positive")

// Mode is the extractor state.
type Mode int

const (
	// SeekingBaseline waits for the empty scale to settle before tracking.
	SeekingBaseline Mode = iota
	// Tracking follows baseline drift and reports settled steps.
	Tracking
)

func (m Mode) String() string {
	switch m {
	case SeekingBaseline:
		return "seeking_baseline"
	case Tracking:
		return "tracking"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config holds the extractor parameters. SettleRange defaults to
// TareThreshold when zero.
type Config struct {
	History       int
	TareThreshold float64
	SettleRange   float64
	Alpha         float64
}

// Event is a confirmed, settled change in weight. Positive values are
// additions, negative values removals.
type Event struct {
	Value    float64 // averaged delta over the settled window
	Baseline float64 // zero the delta was measured against
	Sample   float64 // reading that confirmed the step, the new zero
}

// Extractor is the two-state machine. It exclusively owns its baseline
// average and settling window.
type Extractor struct {
	tare     float64
	baseline *baseline.RunningAverage
	window   *settle.Filter
	mode     Mode
}

// New validates cfg and returns an extractor in SeekingBaseline.
func New(cfg Config) (*Extractor, error) {
	if math.IsNaN(cfg.TareThreshold) || cfg.TareThreshold <= 0 {
		return nil, fmt.Errorf("delta: %w (got %v)", ErrInvalidTare, cfg.TareThreshold)
	}
	rng := cfg.SettleRange
	if rng == 0 {
		rng = cfg.TareThreshold
	}

	avg, err := baseline.NewRunningAverage(cfg.Alpha)
	if err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}
	window, err := settle.NewRange(cfg.History, rng)
	if err != nil {
		return nil, fmt.Errorf("delta: %w", err)
	}

	return &Extractor{
		tare:     cfg.TareThreshold,
		baseline: avg,
		window:   window,
		mode:     SeekingBaseline,
	}, nil
}

// Step consumes one sample and returns an event when a step change settled.
func (e *Extractor) Step(x float64) (Event, bool) {
	switch e.mode {
	case SeekingBaseline:
		e.seek(x)
		return Event{}, false
	default:
		return e.track(x)
	}
}

func (e *Extractor) seek(x float64) {
	if !e.window.Update(x) {
		return
	}
	e.baseline.Update(e.window.Value())
	e.window.Clear()
	e.mode = Tracking
}

func (e *Extractor) track(x float64) (Event, bool) {
	zero := e.baseline.Value()
	d := x - zero

	if math.Abs(d) <= e.tare {
		e.baseline.Update(x)
		e.window.Clear()
		return Event{}, false
	}

	if !e.window.Update(d) {
		return Event{}, false
	}

	ev := Event{Value: e.window.Value(), Baseline: zero, Sample: x}
	e.baseline.Clear()
	e.baseline.Update(x)
	e.window.Clear()
	return ev, true
}

// Mode returns the current state.
func (e *Extractor) Mode() Mode {
	return e.mode
}

// BaselineValid reports whether a zero has been acquired.
func (e *Extractor) BaselineValid() bool {
	return e.baseline.Valid()
}

// BaselineValue returns the current zero, 0 while seeking.
func (e *Extractor) BaselineValue() float64 {
	return e.baseline.Value()
}

// BaselineDeviation returns the mean absolute deviation of the zero.
func (e *Extractor) BaselineDeviation() float64 {
	return e.baseline.Deviation()
}

// Pending returns how many window slots are filled toward the next decision.
func (e *Extractor) Pending() int {
	return e.window.Filled()
}

// Reset drops the zero and the window and returns to SeekingBaseline.
func (e *Extractor) Reset() {
	e.baseline.Clear()
	e.window.Clear()
	e.mode = SeekingBaseline
}
