package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second

	// maxDrops consecutive full-buffer drops evict a client.
	maxDrops = sendBuffer / 2
)

var (
	clientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tally",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected counter stream clients.",
	})
	droppedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Messages not queued because a client buffer was full.",
	}, []string{"type"})
	evictedClients = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "ws",
		Name:      "evicted_clients_total",
		Help:      "Clients disconnected for falling behind.",
	})
)

// Client is one counter stream subscriber.
type Client struct {
	conn    *websocket.Conn
	id      string
	send    chan Message
	dropped atomic.Int32
	logger  *zap.Logger
}

func newClient(conn *websocket.Conn, id string, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		id:     id,
		send:   make(chan Message, sendBuffer),
		logger: logger.With(zap.String("client_id", id)),
	}
}

// Hub fans counter messages out to every connected client.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	clientsGauge.Inc()
	h.logger.Debug("websocket client connected", zap.String("client_id", c.id), zap.Int("clients", n))
}

// Unregister removes c and closes its send channel. Repeat calls are no-ops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		clientsGauge.Dec()
		h.logger.Debug("websocket client disconnected", zap.String("client_id", c.id))
	}
}

// Broadcast queues msg for every client without blocking the publisher.
// A client whose buffer stays full for maxDrops messages is evicted.
func (h *Hub) Broadcast(msg Message) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
			c.dropped.Store(0)
		default:
			droppedMessages.WithLabelValues(string(msg.Type)).Inc()
			if c.dropped.Add(1) == maxDrops {
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("evicting slow websocket client",
			zap.String("client_id", c.id),
			zap.Int("dropped", maxDrops))
		evictedClients.Inc()
		h.Unregister(c)
		if c.conn != nil {
			go c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// writePump sends queued messages and keepalive pings until the channel
// closes or ctx ends.
func (c *Client) writePump(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, msg)
			cancel()
			if err != nil {
				c.logger.Debug("websocket write error", zap.Error(err))
				return
			}
		}
	}
}

// readPump drains inbound frames so pongs and close frames are seen.
// Clients only listen.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}
