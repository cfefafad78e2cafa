package counter

import (
	"fmt"
	"strings"
)

// StatusLine renders an observation as the one-line console summary:
//
//	raw:     8123, zero    0.02 g (±0.01), current   +5.01 g -> 2x 5.00, 1x 12.70
func StatusLine(obs Observation) string {
	s := obs.Snapshot

	zero := "      - g (±-)"
	if s.BaselineValid {
		zero = fmt.Sprintf("%7.2f g (±%.2f)", s.Baseline, s.BaselineDeviation)
	}

	cats := make([]string, 0, len(s.Categories))
	for _, c := range s.Categories {
		cats = append(cats, fmt.Sprintf("%gx %.2f", c.Count, c.Weight))
	}

	line := fmt.Sprintf("raw: %8.0f, zero %s, current %+7.2f g -> %s",
		obs.Raw, zero, s.Current, strings.Join(cats, ", "))
	if d := obs.Delta; d != nil {
		line += fmt.Sprintf(" [%+.2f g %s]", d.Value, d.Action)
	}
	return line
}
