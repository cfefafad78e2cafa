package counter

import (
	"github.com/HerbHall/tally/internal/counter/mixture"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "samples_total",
		Help:      "Raw samples processed.",
	})
	malformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "malformed_lines_total",
		Help:      "Source lines skipped because they did not parse.",
	})
	deltasTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "deltas_total",
		Help:      "Settled weight steps by sign and classification.",
	}, []string{"sign", "action"})
	resetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "resets_total",
		Help:      "Model resets by reason.",
	}, []string{"reason"})
	categoriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "categories",
		Help:      "Item categories currently known.",
	})
	totalGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "total_grams",
		Help:      "Weight attributed to counted items.",
	})
	baselineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "baseline_grams",
		Help:      "Current zero estimate.",
	})
	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tally",
		Subsystem: "counter",
		Name:      "process_duration_seconds",
		Help:      "Time to process one sample including publishing.",
		Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
	})
)

func recordObservation(obs *Observation) {
	samplesTotal.Inc()
	s := obs.Snapshot
	categoriesGauge.Set(float64(len(s.Categories)))
	totalGauge.Set(s.Total)
	if s.BaselineValid {
		baselineGauge.Set(s.Baseline)
	}
	if d := obs.Delta; d != nil {
		sign := "positive"
		if d.Value < 0 {
			sign = "negative"
		}
		deltasTotal.WithLabelValues(sign, string(d.Action)).Inc()
		if d.Action == mixture.ActionReset {
			resetsTotal.WithLabelValues(ResetUnexplained).Inc()
		}
	}
}
