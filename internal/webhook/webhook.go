// Package webhook posts counter deltas and resets to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/tally/internal/counter"
	"github.com/HerbHall/tally/internal/version"
	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is
// configured.
const SignatureHeader = "X-Tally-Signature"

var deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tally",
	Subsystem: "webhook",
	Name:      "deliveries_total",
	Help:      "Webhook notifications by outcome.",
}, []string{"result"})

type Config struct {
	URL       string        `mapstructure:"url"`
	Secret    string        `mapstructure:"secret"` //nolint:gosec // G101: config field name
	Timeout   time.Duration `mapstructure:"timeout"`
	QueueSize int           `mapstructure:"queue_size"`
	Retries   int           `mapstructure:"retries"`
	Backoff   time.Duration `mapstructure:"backoff"`
	Enabled   bool          `mapstructure:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:   10 * time.Second,
		QueueSize: 100,
		Retries:   2,
		Backoff:   500 * time.Millisecond,
		Enabled:   true,
	}
}

// Module queues notifications from the bus and delivers them from a single
// worker, so a slow endpoint never stalls counting.
type Module struct {
	logger *zap.Logger
	cfg    Config
	client *http.Client

	queue chan WebhookPayload
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	lastErr error
	sent    int
	dropped int
}

func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "webhook",
		Version:      "0.1.0",
		Description:  "Sends HTTP POST notifications for counter deltas and resets",
		Dependencies: []string{"counter"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("decode webhook config: %w", err)
		}
	}
	if m.cfg.QueueSize <= 0 {
		return fmt.Errorf("webhook queue_size must be positive, got %d", m.cfg.QueueSize)
	}
	if m.cfg.Retries < 0 {
		m.cfg.Retries = 0
	}

	m.client = &http.Client{Timeout: m.cfg.Timeout}
	m.queue = make(chan WebhookPayload, m.cfg.QueueSize)
	m.done = make(chan struct{})

	if m.cfg.URL == "" {
		m.logger.Info("webhook URL not configured; notifications are disabled")
	}
	m.logger.Info("webhook module initialized",
		zap.String("url", m.cfg.URL),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Int("queue_size", m.cfg.QueueSize),
		zap.Int("retries", m.cfg.Retries),
		zap.Bool("signed", m.cfg.Secret != ""),
		zap.Bool("enabled", m.cfg.Enabled),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.wg.Add(1)
	go m.deliver(m.done)
	return nil
}

// Stop flushes queued notifications, without retries, before returning.
func (m *Module) Stop(_ context.Context) error {
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.wg.Wait()
	return nil
}

func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: counter.TopicDeltaDetected, Handler: m.handleEvent},
		{Topic: counter.TopicModelReset, Handler: m.handleEvent},
	}
}

// Health is degraded while the most recent delivery is failing.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	details := map[string]string{
		"sent":    fmt.Sprint(m.sent),
		"dropped": fmt.Sprint(m.dropped),
		"queued":  fmt.Sprint(len(m.queue)),
	}
	switch {
	case !m.cfg.Enabled || m.cfg.URL == "":
		return plugin.HealthStatus{Status: "healthy", Message: "disabled", Details: details}
	case m.lastErr != nil:
		return plugin.HealthStatus{Status: "degraded", Message: m.lastErr.Error(), Details: details}
	}
	return plugin.HealthStatus{Status: "healthy", Details: details}
}

// WebhookPayload is the JSON body posted to the endpoint.
type WebhookPayload struct {
	Event     string `json:"event"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

func (m *Module) handleEvent(_ context.Context, event plugin.Event) {
	if !m.cfg.Enabled || m.cfg.URL == "" {
		return
	}

	payload := WebhookPayload{
		Event:     event.Topic,
		Source:    event.Source,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Data:      event.Payload,
	}

	select {
	case m.queue <- payload:
	default:
		deliveries.WithLabelValues("dropped").Inc()
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		m.logger.Warn("webhook queue full, dropping notification", zap.String("topic", event.Topic))
	}
}

// deliver sends queued payloads until done closes, then flushes the rest
// with a single attempt each.
func (m *Module) deliver(done <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case p := <-m.queue:
			m.sendWithRetry(done, p)
		case <-done:
			for {
				select {
				case p := <-m.queue:
					m.record(m.send(context.Background(), p))
				default:
					return
				}
			}
		}
	}
}

// sendWithRetry retries transport errors and 5xx answers with doubling
// backoff. Closing done abandons the remaining retries.
func (m *Module) sendWithRetry(done <-chan struct{}, p WebhookPayload) {
	backoff := m.cfg.Backoff
	var err error
	for attempt := 0; ; attempt++ {
		var retry bool
		retry, err = m.attempt(context.Background(), p)
		if err == nil || !retry || attempt >= m.cfg.Retries {
			break
		}
		m.logger.Debug("retrying webhook", zap.String("topic", p.Event), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-done:
			m.record(err)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	m.record(err)
}

func (m *Module) send(ctx context.Context, p WebhookPayload) error {
	_, err := m.attempt(ctx, p)
	return err
}

func (m *Module) record(err error) {
	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.sent++
	}
	m.mu.Unlock()

	if err != nil {
		deliveries.WithLabelValues("failed").Inc()
		m.logger.Warn("webhook delivery failed", zap.String("url", m.cfg.URL), zap.Error(err))
		return
	}
	deliveries.WithLabelValues("sent").Inc()
}

// attempt posts p once and reports whether a failure is worth retrying.
func (m *Module) attempt(ctx context.Context, p WebhookPayload) (retry bool, err error) {
	body, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("marshal %s: %w", p.Event, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tally-Webhook/"+version.Short())
	if m.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(m.cfg.Secret, body))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("post %s: %w", p.Event, err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("post %s: endpoint returned %d", p.Event, resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("post %s: endpoint returned %d", p.Event, resp.StatusCode)
	}
	m.logger.Debug("webhook delivered", zap.String("topic", p.Event), zap.Int("status_code", resp.StatusCode))
	return false, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret. Receivers compare
// it against the SignatureHeader value after the "sha256=" prefix.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
