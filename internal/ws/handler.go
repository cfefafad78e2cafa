// Package ws streams counter events to browser clients over WebSocket.
package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/HerbHall/tally/internal/counter"
	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SnapshotProvider supplies the state sent to a client when it connects.
type SnapshotProvider interface {
	Snapshot() counter.Snapshot
	SessionID() string
}

// Handler provides the live counter feed.
type Handler struct {
	hub      *Hub
	counter  SnapshotProvider
	logger   *zap.Logger
	unsubs   []func()
	patterns []string
	seq      atomic.Uint64
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a handler and subscribes it to counter events.
// Either argument may be nil.
func NewHandler(provider SnapshotProvider, bus plugin.EventBus, logger *zap.Logger, originPatterns ...string) *Handler {
	h := &Handler{
		hub:      NewHub(logger),
		counter:  provider,
		logger:   logger,
		patterns: originPatterns,
	}
	if bus != nil {
		for topic := range messageFor {
			h.unsubs = append(h.unsubs, bus.Subscribe(topic, h.forward))
		}
	}
	return h
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ws/counter", h.handleCounterStream)
}

// Close unsubscribes from the bus.
func (h *Handler) Close() {
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
}

// Sequence returns the seq of the last forwarded event.
func (h *Handler) Sequence() uint64 {
	return h.seq.Load()
}

// ClientCount returns the number of connected clients.
func (h *Handler) ClientCount() int {
	return h.hub.ClientCount()
}

// handleCounterStream upgrades the connection and streams counter events.
// The first message is always the current snapshot.
func (h *Handler) handleCounterStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.patterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, uuid.NewString(), h.logger)
	if h.counter != nil {
		client.send <- Message{
			Type:      MessageSnapshot,
			Seq:       h.seq.Load(),
			Session:   h.counter.SessionID(),
			Timestamp: time.Now(),
			Data:      h.counter.Snapshot(),
		}
	}
	h.hub.Register(client)

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	client.readPump(ctx)

	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
}

func (h *Handler) forward(_ context.Context, event plugin.Event) {
	typ, ok := messageFor[event.Topic]
	if !ok {
		return
	}
	msg := Message{
		Type:      typ,
		Seq:       h.seq.Add(1),
		Timestamp: event.Timestamp,
		Data:      event.Payload,
	}
	if h.counter != nil {
		msg.Session = h.counter.SessionID()
	}
	h.hub.Broadcast(msg)
}
