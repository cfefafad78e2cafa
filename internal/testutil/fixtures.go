// Package testutil builds synthetic scale recordings for tests.
package testutil

import (
	"math"
	"strconv"
	"strings"
)

// DefaultScale is the grams-per-count factor of the reference load cell.
const DefaultScale = 720e-6

// Recording accumulates raw integer readings as a scripted session:
// hold the current load, step it up or down, ring around it.
type Recording struct {
	scale   float64
	zero    float64 // raw counts of the empty scale
	level   float64 // grams currently on the scale
	samples []float64
}

// NewRecording returns an empty recording with sensible defaults.
func NewRecording(opts ...func(*Recording)) *Recording {
	r := &Recording{scale: DefaultScale, zero: 8000}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithScale sets the grams-per-count factor.
func WithScale(scale float64) func(*Recording) {
	return func(r *Recording) { r.scale = scale }
}

// WithZero sets the raw reading of the empty scale.
func WithZero(raw float64) func(*Recording) {
	return func(r *Recording) { r.zero = raw }
}

// Hold appends n readings at the current load.
func (r *Recording) Hold(n int) *Recording {
	for i := 0; i < n; i++ {
		r.push(r.level)
	}
	return r
}

// Add places grams on the scale and holds for n readings.
func (r *Recording) Add(grams float64, n int) *Recording {
	r.level += grams
	return r.Hold(n)
}

// Remove takes grams off the scale and holds for n readings.
func (r *Recording) Remove(grams float64, n int) *Recording {
	return r.Add(-grams, n)
}

// Ring appends readings alternating amplitude grams above and below the
// current load, as a pan does right after something is dropped on it.
func (r *Recording) Ring(amplitude float64, n int) *Recording {
	for i := 0; i < n; i++ {
		sign := 1.0
		if i%2 == 1 {
			sign = -1
		}
		r.push(r.level + sign*amplitude)
	}
	return r
}

// Drift appends n readings while the load creeps by step grams each.
func (r *Recording) Drift(step float64, n int) *Recording {
	for i := 0; i < n; i++ {
		r.level += step
		r.push(r.level)
	}
	return r
}

func (r *Recording) push(grams float64) {
	r.samples = append(r.samples, math.Round(r.zero+grams/r.scale))
}

// Samples returns the raw readings.
func (r *Recording) Samples() []float64 {
	return append([]float64(nil), r.samples...)
}

// Lines renders the readings the way the scale prints them, one per line.
func (r *Recording) Lines() string {
	var b strings.Builder
	for _, s := range r.samples {
		b.WriteString(strconv.FormatFloat(s, 'f', 0, 64))
		b.WriteString("\r\n")
	}
	return b.String()
}

// Scale returns the grams-per-count factor.
func (r *Recording) Scale() float64 {
	return r.scale
}

// Walkthrough is the reference session: two 5 g items one at a time, a
// pair at once, one taken off, then an unexplainable 30 g removal.
func Walkthrough() *Recording {
	return NewRecording().
		Hold(6).
		Add(5.0, 6).
		Add(5.0, 6).
		Add(9.9, 6).
		Remove(5.0, 6).
		Remove(30.0, 6)
}
