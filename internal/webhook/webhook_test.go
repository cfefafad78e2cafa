package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HerbHall/tally/internal/config"
	"github.com/HerbHall/tally/internal/counter"
	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/HerbHall/tally/pkg/plugin/plugintest"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

func newModule(t *testing.T, values map[string]any) *Module {
	t.Helper()
	v := viper.New()
	for k, val := range values {
		v.Set(k, val)
	}
	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{
		Logger: zap.NewNop(),
		Config: config.New(v),
	}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func TestSubscriptions_ReturnsExpectedTopics(t *testing.T) {
	subs := New().Subscriptions()
	if len(subs) != 2 {
		t.Fatalf("Subscriptions() returned %d, want 2", len(subs))
	}

	topics := make(map[string]bool)
	for _, s := range subs {
		topics[s.Topic] = true
	}
	for _, topic := range []string{counter.TopicDeltaDetected, counter.TopicModelReset} {
		if !topics[topic] {
			t.Errorf("missing subscription for topic %q", topic)
		}
	}
}

func TestHandleEvent_DeliversWebhook(t *testing.T) {
	var mu sync.Mutex
	var received []WebhookPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if ua := r.Header.Get("User-Agent"); len(ua) < len("Tally-Webhook/") || ua[:len("Tally-Webhook/")] != "Tally-Webhook/" {
			t.Errorf("User-Agent = %q, want Tally-Webhook/ prefix", ua)
		}
		var p WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newModule(t, map[string]any{"url": srv.URL, "timeout": "5s"})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.handleEvent(context.Background(), plugin.Event{
		Topic:     counter.TopicDeltaDetected,
		Source:    "counter",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   &counter.Delta{Value: 5, Total: 5},
	})

	// Stop flushes the queue.
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d webhooks, want 1", len(received))
	}
	if received[0].Event != counter.TopicDeltaDetected {
		t.Errorf("event = %q, want %q", received[0].Event, counter.TopicDeltaDetected)
	}
	if received[0].Source != "counter" {
		t.Errorf("source = %q, want counter", received[0].Source)
	}
	if received[0].Timestamp != "2025-01-01T00:00:00Z" {
		t.Errorf("timestamp = %q", received[0].Timestamp)
	}
}

func TestHandleEvent_SkipsWhenDisabled(t *testing.T) {
	m := newModule(t, map[string]any{"url": "http://127.0.0.1:1", "enabled": false})

	m.handleEvent(context.Background(), plugin.Event{Topic: counter.TopicModelReset, Timestamp: time.Now()})

	if len(m.queue) != 0 {
		t.Errorf("queued %d notifications while disabled", len(m.queue))
	}
}

func TestHandleEvent_SkipsWhenNoURL(t *testing.T) {
	m := newModule(t, nil)

	m.handleEvent(context.Background(), plugin.Event{Topic: counter.TopicModelReset, Timestamp: time.Now()})

	if len(m.queue) != 0 {
		t.Errorf("queued %d notifications without a URL", len(m.queue))
	}
}

func TestHandleEvent_DropsWhenQueueFull(t *testing.T) {
	m := newModule(t, map[string]any{"url": "http://127.0.0.1:1", "queue_size": 2})

	// Not started: nothing drains the queue.
	for range 5 {
		m.handleEvent(context.Background(), plugin.Event{Topic: counter.TopicDeltaDetected, Timestamp: time.Now()})
	}
	if len(m.queue) != 2 {
		t.Errorf("queue length = %d, want 2", len(m.queue))
	}
}

func TestAttempt_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := newModule(t, map[string]any{"url": srv.URL, "retries": 3, "backoff": "1ms"})
	m.sendWithRetry(make(chan struct{}), WebhookPayload{Event: counter.TopicModelReset})

	if got := calls.Load(); got != 3 {
		t.Errorf("endpoint called %d times, want 3", got)
	}
	if h := m.Health(context.Background()); h.Status != "healthy" || h.Details["sent"] != "1" {
		t.Errorf("Health = %+v, want healthy with 1 sent", h)
	}
}

func TestAttempt_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := newModule(t, map[string]any{"url": srv.URL, "retries": 3, "backoff": "1ms"})
	m.sendWithRetry(make(chan struct{}), WebhookPayload{Event: counter.TopicDeltaDetected})

	if got := calls.Load(); got != 1 {
		t.Errorf("endpoint called %d times, want 1", got)
	}
	h := m.Health(context.Background())
	if h.Status != "degraded" || !strings.Contains(h.Message, "401") {
		t.Errorf("Health = %+v, want degraded mentioning 401", h)
	}
}

func TestAttempt_SignsBody(t *testing.T) {
	var sig string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get(SignatureHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newModule(t, map[string]any{"url": srv.URL, "secret": "s3cret"})
	if err := m.send(context.Background(), WebhookPayload{Event: counter.TopicDeltaDetected, Data: 4.2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if want := "sha256=" + Sign("s3cret", body); sig != want {
		t.Errorf("%s = %q, want %q", SignatureHeader, sig, want)
	}
}

func TestInit_RejectsBadQueueSize(t *testing.T) {
	v := viper.New()
	v.Set("queue_size", -1)
	err := New().Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop(), Config: config.New(v)})
	if err == nil {
		t.Fatal("Init() error = nil, want error for negative queue_size")
	}
}
