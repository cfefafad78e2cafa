// Package mixture classifies signed weight deltas into an open-ended set of
// item categories, treating each delta as an integer multiple of one
// category's per-item weight.
package mixture

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMergeThreshold is the default deviation-normalised tolerance.
const DefaultMergeThreshold = 3.0

// minDeviation guards the score denominator. Categories below it never fit.
const minDeviation = 1e-12

// ErrInvalidThreshold is returned for a non-positive merge threshold.
var ErrInvalidThreshold = errors.New("merge threshold must be positive")

// DeviationFunc maps the first observed weight of a new category to its
// seed deviation.
type DeviationFunc func(value float64) float64

// RelativeDeviation seeds new categories with ratio times the weight.
func RelativeDeviation(ratio float64) DeviationFunc {
	return func(value float64) float64 {
		return ratio * math.Abs(value)
	}
}

// Config holds the mixture parameters.
type Config struct {
	MergeThreshold   float64
	InitialDeviation DeviationFunc
}

// Action describes what Add did with a delta.
type Action string

const (
	ActionNone    Action = "none"    // zero delta
	ActionMatched Action = "matched" // items added to an existing category
	ActionCreated Action = "created" // new category seeded
	ActionRemoved Action = "removed" // items taken from a category
	ActionDropped Action = "dropped" // last items of a category removed
	ActionReset   Action = "reset"   // unexplainable removal, model cleared
)

// Match is the best integer-multiple fit for a delta.
type Match struct {
	ID       int     // Category id
	Estimate float64 // Estimated number of items in the delta
	Score    float64 // Fractional-multiple error over deviation; lower fits better
}

// Result reports the outcome of Add.
type Result struct {
	Action Action
	Match  Match
	Found  bool // whether Evaluate found an eligible category
}

// View is a read-only copy of a category for presentation.
type View struct {
	ID        int     `json:"id"`
	Weight    float64 `json:"weight"`
	Count     float64 `json:"count"`
	Deviation float64 `json:"deviation"`
}

// Mixture owns the category set. Categories are keyed by ids that are never
// reused; iteration follows id order.
type Mixture struct {
	threshold  float64
	initialDev DeviationFunc
	categories map[int]*Category
	order      []int
	nextID     int
}

// New validates cfg and returns an empty mixture. A zero MergeThreshold
// selects DefaultMergeThreshold; a nil InitialDeviation selects 2% of the
// first observed weight.
func New(cfg Config) (*Mixture, error) {
	threshold := cfg.MergeThreshold
	if threshold == 0 {
		threshold = DefaultMergeThreshold
	}
	if math.IsNaN(threshold) || threshold < 0 {
		return nil, fmt.Errorf("mixture: %w (got %v)", ErrInvalidThreshold, cfg.MergeThreshold)
	}
	initialDev := cfg.InitialDeviation
	if initialDev == nil {
		initialDev = RelativeDeviation(0.02)
	}
	return &Mixture{
		threshold:  threshold,
		initialDev: initialDev,
		categories: make(map[int]*Category),
		nextID:     1,
	}, nil
}

// Evaluate finds the category that best explains value as a whole number of
// its items. It does not modify the mixture.
//
// For additions a category is a candidate when the rounded multiple is at
// least one item. For removals it must hold items and the multiple may not
// exceed them; a multiple of zero is kept, so a small removal that fits
// takes nothing away. Ties go to the lowest id.
func (m *Mixture) Evaluate(value float64) (Match, bool) {
	if value == 0 || math.IsNaN(value) {
		return Match{}, false
	}

	var best Match
	found := false
	magnitude := math.Abs(value)
	for _, id := range m.order {
		c := m.categories[id]
		if value < 0 && c.Count <= 0 {
			continue
		}
		ratio := magnitude / c.Mean
		estimate := math.Round(ratio)
		if value > 0 && estimate < 1 {
			continue
		}
		if value < 0 && estimate > c.Count {
			continue
		}
		score := fitScore(ratio, estimate, c)
		if !found || score < best.Score {
			best = Match{ID: id, Estimate: estimate, Score: score}
			found = true
		}
	}
	return best, found
}

func fitScore(ratio, estimate float64, c *Category) float64 {
	if c.Deviation < minDeviation {
		return math.Inf(1)
	}
	return math.Abs(ratio-estimate) * c.Mean / c.Deviation
}

// Add classifies one delta and updates the category set.
func (m *Mixture) Add(value float64) Result {
	if value == 0 || math.IsNaN(value) {
		return Result{Action: ActionNone}
	}

	match, found := m.Evaluate(value)
	fits := found && match.Score <= m.threshold
	res := Result{Match: match, Found: found}

	if value > 0 {
		if fits {
			m.categories[match.ID].Add(value/match.Estimate, match.Estimate)
			res.Action = ActionMatched
			return res
		}
		id := m.insert(NewCategory(value, m.initialDev(value)))
		res.Action = ActionCreated
		res.Match = Match{ID: id, Estimate: 1}
		return res
	}

	if !fits {
		m.Clear()
		res.Action = ActionReset
		return res
	}

	c := m.categories[match.ID]
	c.Remove(match.Estimate)
	res.Action = ActionRemoved
	if c.Count <= 0 {
		m.remove(match.ID)
		res.Action = ActionDropped
	}
	return res
}

func (m *Mixture) insert(c *Category) int {
	id := m.nextID
	m.nextID++
	m.categories[id] = c
	m.order = append(m.order, id)
	return id
}

func (m *Mixture) remove(id int) {
	delete(m.categories, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Clear discards every category. Ids keep increasing afterwards.
func (m *Mixture) Clear() {
	m.categories = make(map[int]*Category)
	m.order = nil
}

// Len returns the number of categories.
func (m *Mixture) Len() int {
	return len(m.order)
}

// Get returns a copy of the category with the given id.
func (m *Mixture) Get(id int) (Category, bool) {
	c, ok := m.categories[id]
	if !ok {
		return Category{}, false
	}
	return *c, true
}

// Categories returns a snapshot of all categories in id order.
func (m *Mixture) Categories() []View {
	views := make([]View, 0, len(m.order))
	for _, id := range m.order {
		c := m.categories[id]
		views = append(views, View{ID: id, Weight: c.Mean, Count: c.Count, Deviation: c.Deviation})
	}
	return views
}

// Total sums weight*count over the given category ids, or over all
// categories when none are given. Unknown ids are ignored.
func (m *Mixture) Total(ids ...int) float64 {
	var total float64
	if len(ids) == 0 {
		for _, id := range m.order {
			total += m.categories[id].Total()
		}
		return total
	}
	for _, id := range ids {
		if c, ok := m.categories[id]; ok {
			total += c.Total()
		}
	}
	return total
}

// Threshold returns the merge threshold in use.
func (m *Mixture) Threshold() float64 {
	return m.threshold
}
