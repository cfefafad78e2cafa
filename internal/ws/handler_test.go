package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HerbHall/tally/internal/counter"
	"github.com/HerbHall/tally/internal/event"
	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type staticProvider struct {
	snap counter.Snapshot
}

func (p staticProvider) Snapshot() counter.Snapshot { return p.snap }
func (p staticProvider) SessionID() string          { return "session-1" }

type wireMessage struct {
	Type    MessageType    `json:"type"`
	Seq     uint64         `json:"seq"`
	Session string         `json:"session"`
	Data    map[string]any `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/counter"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var msg wireMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	return msg
}

func TestHandler_StreamsCounterEvents(t *testing.T) {
	bus := event.NewBus(zaptest.NewLogger(t))
	provider := staticProvider{snap: counter.Snapshot{Mode: "settled", BaselineValid: true, Total: 3}}
	h := NewHandler(provider, bus, zaptest.NewLogger(t))
	t.Cleanup(h.Close)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)

	first := read(t, conn)
	assert.Equal(t, MessageSnapshot, first.Type)
	assert.Equal(t, "session-1", first.Session)
	assert.Equal(t, "settled", first.Data["mode"])
	assert.InDelta(t, 3.0, first.Data["total"], 1e-9)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), plugin.Event{
		Topic:   counter.TopicModelReset,
		Payload: counter.ResetEvent{Reason: counter.ResetOperator},
	}))

	msg := read(t, conn)
	assert.Equal(t, MessageReset, msg.Type)
	assert.Equal(t, counter.ResetOperator, msg.Data["reason"])
	assert.Equal(t, first.Seq+1, msg.Seq)
}

func TestHandler_IgnoresUnrelatedTopics(t *testing.T) {
	h := NewHandler(nil, nil, zap.NewNop())
	c := newTestClient("a")
	h.hub.Register(c)

	h.forward(context.Background(), plugin.Event{Topic: "something.else"})
	assert.Empty(t, c.send)

	h.forward(context.Background(), plugin.Event{Topic: counter.TopicDeltaDetected, Payload: 1})
	h.forward(context.Background(), plugin.Event{Topic: counter.TopicSnapshotUpdated})
	require.Len(t, c.send, 2)
	assert.Equal(t, uint64(1), (<-c.send).Seq)
	assert.Equal(t, uint64(2), (<-c.send).Seq)
}

func TestHandler_CloseUnsubscribes(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	h := NewHandler(nil, bus, zap.NewNop())
	c := newTestClient("a")
	h.hub.Register(c)

	h.Close()
	require.NoError(t, bus.Publish(context.Background(), plugin.Event{Topic: counter.TopicSnapshotUpdated}))
	assert.Empty(t, c.send)
}
