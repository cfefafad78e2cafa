package mixture

import "math"

// Category is one discovered weight class: an incrementally estimated
// per-item mean and deviation plus a running item count.
type Category struct {
	Mean      float64 // Estimated weight of one item
	Deviation float64 // Mean absolute deviation of observed per-item weights
	Count     float64 // Items currently on the scale; integral in practice
}

// NewCategory seeds a category from a single observed item.
func NewCategory(value, deviation float64) *Category {
	return &Category{Mean: value, Deviation: math.Abs(deviation), Count: 1}
}

// Add folds count items of the given per-item weight into the category.
// The deviation update is weighted by the share of the new items in the
// accumulated count, so it settles as observations accrue.
func (c *Category) Add(value, count float64) {
	total := c.Count + count
	if total <= 0 {
		return
	}
	dev := value - c.Mean
	c.Mean = (c.Mean*c.Count + value*count) / total
	c.Count = total
	if c.Count > 1 {
		c.Deviation += (math.Abs(dev) - c.Deviation) * count / c.Count
	}
}

// Remove takes count items off. Mean and deviation are left untouched:
// removed items are assumed to be typical members.
func (c *Category) Remove(count float64) {
	c.Count -= count
}

// Total returns the weight attributed to this category.
func (c *Category) Total() float64 {
	return c.Mean * c.Count
}
