package counter

// Event topics published by the counter module.
const (
	TopicBaselineAcquired = "counter.baseline.acquired"
	TopicDeltaDetected    = "counter.delta.detected"
	TopicSnapshotUpdated  = "counter.snapshot.updated"
	TopicModelReset       = "counter.model.reset"
)

// Reset reasons carried by ResetEvent.
const (
	ResetUnexplained = "unexplained_removal"
	ResetOperator    = "operator"
)

// BaselineEvent is the payload for TopicBaselineAcquired.
type BaselineEvent struct {
	Baseline  float64 `json:"baseline"`
	Deviation float64 `json:"deviation"`
}

// ResetEvent is the payload for TopicModelReset.
type ResetEvent struct {
	Reason string  `json:"reason"`
	Delta  float64 `json:"delta,omitempty"` // removal that could not be explained
}
