package ws

import (
	"time"

	"github.com/HerbHall/tally/internal/counter"
)

// MessageType discriminates WebSocket messages.
type MessageType string

const (
	MessageSnapshot MessageType = "counter.snapshot"
	MessageDelta    MessageType = "counter.delta"
	MessageReset    MessageType = "counter.reset"
	MessageBaseline MessageType = "counter.baseline"
)

// Message is the stream envelope. Seq increases by one per forwarded
// event, so a gap tells a client it missed messages. The initial snapshot
// carries the last sequence sent before the client joined.
type Message struct {
	Type      MessageType `json:"type"`
	Seq       uint64      `json:"seq"`
	Session   string      `json:"session,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// messageFor maps a counter bus topic to its message type.
var messageFor = map[string]MessageType{
	counter.TopicSnapshotUpdated:  MessageSnapshot,
	counter.TopicDeltaDetected:    MessageDelta,
	counter.TopicModelReset:       MessageReset,
	counter.TopicBaselineAcquired: MessageBaseline,
}
