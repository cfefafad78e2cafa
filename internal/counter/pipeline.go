package counter

import (
	"fmt"
	"math"
	"time"

	"github.com/HerbHall/tally/internal/counter/delta"
	"github.com/HerbHall/tally/internal/counter/mixture"
)

// Delta is one classified weight step.
type Delta struct {
	Value      float64        `json:"value"`    // grams, signed
	Baseline   float64        `json:"baseline"` // zero the step was measured against
	Action     mixture.Action `json:"action"`
	CategoryID int            `json:"category_id,omitempty"`
	Estimate   float64        `json:"estimate,omitempty"` // items in the step
	Score      *float64       `json:"score,omitempty"`    // nil when no finite score exists
	Total      float64        `json:"total"`              // weight on the scale after the step
}

// Snapshot is an immutable view of the counter state.
type Snapshot struct {
	Mode              string         `json:"mode"`
	BaselineValid     bool           `json:"baseline_valid"`
	Baseline          float64        `json:"baseline"`
	BaselineDeviation float64        `json:"baseline_deviation"`
	Current           float64        `json:"current"` // last sample relative to the baseline
	Categories        []mixture.View `json:"categories"`
	Total             float64        `json:"total"`
	Samples           uint64         `json:"samples"`
	Deltas            uint64         `json:"deltas"`
	Resets            uint64         `json:"resets"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Observation is the outcome of processing one raw sample.
type Observation struct {
	Raw              float64  `json:"raw"`
	Sample           float64  `json:"sample"` // raw times scale factor
	BaselineAcquired bool     `json:"baseline_acquired,omitempty"`
	Delta            *Delta   `json:"delta,omitempty"`
	Snapshot         Snapshot `json:"snapshot"`
}

// Pipeline chains the delta extractor and the mixture. It performs no I/O
// and is not safe for concurrent use.
type Pipeline struct {
	scale     float64
	extractor *delta.Extractor
	mixture   *mixture.Mixture

	samples uint64
	deltas  uint64
	resets  uint64
	last    float64
	now     func() time.Time
}

// NewPipeline validates cfg and builds the processing chain.
func NewPipeline(cfg CounterConfig) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ex, err := delta.New(delta.Config{
		History:       cfg.History,
		TareThreshold: cfg.TareThreshold,
		SettleRange:   cfg.SettleRange,
		Alpha:         cfg.BaselineAlpha,
	})
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}
	mx, err := mixture.New(mixture.Config{
		MergeThreshold:   cfg.MergeThreshold,
		InitialDeviation: mixture.RelativeDeviation(cfg.InitialDeviationRatio),
	})
	if err != nil {
		return nil, fmt.Errorf("build mixture: %w", err)
	}
	return &Pipeline{
		scale:     cfg.ScaleFactor,
		extractor: ex,
		mixture:   mx,
		now:       time.Now,
	}, nil
}

// Step scales raw, runs it through the extractor and classifies any
// emitted step.
func (p *Pipeline) Step(raw float64) Observation {
	sample := raw * p.scale
	p.samples++
	p.last = sample

	obs := Observation{Raw: raw, Sample: sample}
	wasSeeking := p.extractor.Mode() == delta.SeekingBaseline

	ev, ok := p.extractor.Step(sample)
	if wasSeeking && p.extractor.Mode() == delta.Tracking {
		obs.BaselineAcquired = true
	}
	if ok {
		obs.Delta = p.classify(ev)
	}
	obs.Snapshot = p.Snapshot()
	return obs
}

func (p *Pipeline) classify(ev delta.Event) *Delta {
	p.deltas++
	res := p.mixture.Add(ev.Value)
	if res.Action == mixture.ActionReset {
		p.resets++
	}

	d := &Delta{
		Value:    ev.Value,
		Baseline: ev.Baseline,
		Action:   res.Action,
		Total:    p.mixture.Total(),
	}
	if res.Action != mixture.ActionReset && res.Action != mixture.ActionNone {
		d.CategoryID = res.Match.ID
		d.Estimate = res.Match.Estimate
	}
	if res.Found && !math.IsInf(res.Match.Score, 0) && !math.IsNaN(res.Match.Score) {
		score := res.Match.Score
		d.Score = &score
	}
	return d
}

// Snapshot copies the current state.
func (p *Pipeline) Snapshot() Snapshot {
	s := Snapshot{
		Mode:              p.extractor.Mode().String(),
		BaselineValid:     p.extractor.BaselineValid(),
		Baseline:          p.extractor.BaselineValue(),
		BaselineDeviation: p.extractor.BaselineDeviation(),
		Categories:        p.mixture.Categories(),
		Total:             p.mixture.Total(),
		Samples:           p.samples,
		Deltas:            p.deltas,
		Resets:            p.resets,
		UpdatedAt:         p.now(),
	}
	if s.BaselineValid {
		s.Current = p.last - s.Baseline
	}
	return s
}

// Reset discards the learned categories and re-seeks the baseline, as if
// the scale had been re-tared.
func (p *Pipeline) Reset() {
	p.extractor.Reset()
	p.mixture.Clear()
	p.resets++
}
