// Package settle implements a debounce filter that reports when the last few
// readings of a signal sit inside a narrow band.
package settle

import (
	"errors"
	"fmt"
	"math"

	"github.com/gammazero/deque"
)

// Configuration errors.
var (
	ErrInvalidHistory = errors.New("history must be at least 2")
	ErrNoBound        = errors.New("one of range or threshold must be set")
	ErrBothBounds     = errors.New("only one of range or threshold may be set")
	ErrInvalidBound   = errors.New("range and threshold must be finite and non-negative")
)

// Config selects the window length and the spread bound. Exactly one of
// Range (absolute) and Threshold (fraction of the window midpoint) is set.
type Config struct {
	History   int
	Range     float64
	Threshold float64
}

type slot struct {
	value float64
	set   bool
}

// Filter is a fixed-length FIFO of the most recent values.
// The window always holds exactly History slots, oldest first.
type Filter struct {
	cfg    Config
	window deque.Deque[slot]
}

// New builds a filter with an all-unset window.
func New(cfg Config) (*Filter, error) {
	if cfg.History < 2 {
		return nil, fmt.Errorf("settle: %w (got %d)", ErrInvalidHistory, cfg.History)
	}
	if invalidBound(cfg.Range) || invalidBound(cfg.Threshold) {
		return nil, fmt.Errorf("settle: %w (range %v, threshold %v)", ErrInvalidBound, cfg.Range, cfg.Threshold)
	}
	hasRange := cfg.Range > 0
	hasThreshold := cfg.Threshold > 0
	switch {
	case !hasRange && !hasThreshold:
		return nil, fmt.Errorf("settle: %w", ErrNoBound)
	case hasRange && hasThreshold:
		return nil, fmt.Errorf("settle: %w", ErrBothBounds)
	}

	f := &Filter{cfg: cfg}
	f.Clear()
	return f, nil
}

func invalidBound(v float64) bool {
	return v < 0 || math.IsNaN(v) || math.IsInf(v, 0)
}

// NewRange is shorthand for an absolute-range filter.
func NewRange(history int, rng float64) (*Filter, error) {
	return New(Config{History: history, Range: rng})
}

// NewRelative is shorthand for a relative-threshold filter.
func NewRelative(history int, threshold float64) (*Filter, error) {
	return New(Config{History: history, Threshold: threshold})
}

// Update pushes x, evicts the oldest slot and reports the new stability.
func (f *Filter) Update(x float64) bool {
	f.window.PopFront()
	f.window.PushBack(slot{value: x, set: true})
	return f.Stable()
}

// Stable reports whether every slot is set and the window spread is below
// the configured bound (strictly).
func (f *Filter) Stable() bool {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < f.window.Len(); i++ {
		s := f.window.At(i)
		if !s.set {
			return false
		}
		lo = math.Min(lo, s.value)
		hi = math.Max(hi, s.value)
	}

	spread := hi - lo
	if f.cfg.Range > 0 {
		return spread < f.cfg.Range
	}
	return spread < f.cfg.Threshold*(lo+hi)/2
}

// Value returns the mean of the set slots, or 0 when none are set.
func (f *Filter) Value() float64 {
	var sum float64
	var n int
	for i := 0; i < f.window.Len(); i++ {
		if s := f.window.At(i); s.set {
			sum += s.value
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Filled returns how many slots currently hold a value.
func (f *Filter) Filled() int {
	n := 0
	for i := 0; i < f.window.Len(); i++ {
		if f.window.At(i).set {
			n++
		}
	}
	return n
}

// History returns the window length.
func (f *Filter) History() int {
	return f.cfg.History
}

// Clear resets every slot to unset.
func (f *Filter) Clear() {
	f.window.Clear()
	for i := 0; i < f.cfg.History; i++ {
		f.window.PushBack(slot{})
	}
}
