// Package mqtt publishes counter events to an MQTT broker and optionally
// announces Home Assistant sensors for them.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/HerbHall/tally/internal/counter"
	"github.com/HerbHall/tally/internal/counter/mixture"
	"github.com/HerbHall/tally/internal/version"
	"github.com/HerbHall/tally/pkg/plugin"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// publisher is the subset of pahomqtt.Client the module uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Module implements the MQTT publisher plugin. It subscribes to counter
// events on the bus and republishes them under the configured topic prefix.
type Module struct {
	logger *zap.Logger
	cfg    Config
	mu     sync.RWMutex
	client publisher

	// counter supplies live snapshots between events. Nil when the
	// counter module is not registered.
	counter snapshotSource
	stop    chan struct{}
	wg      sync.WaitGroup

	// Category ids with an announced Home Assistant sensor.
	annMu     sync.Mutex
	announced map[int]bool
}

type snapshotSource interface {
	Snapshot() counter.Snapshot
}

// New creates a new MQTT publisher plugin instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:         "mqtt",
		Version:      "0.1.0",
		Description:  "Publishes counter snapshots and deltas to an MQTT broker",
		Dependencies: []string{"counter"},
		APIVersion:   plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	cfg, err := loadConfig(deps.Config)
	if err != nil {
		return err
	}
	m.cfg = cfg
	m.announced = make(map[int]bool)
	if deps.Plugins != nil {
		if p, ok := deps.Plugins.Resolve("counter"); ok {
			m.counter, _ = p.(snapshotSource)
		}
	}

	if m.cfg.BrokerURL == "" {
		m.logger.Info("MQTT broker URL not configured; counter events will not be forwarded")
	}

	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("ha_discovery", m.cfg.HADiscovery),
		zap.Duration("snapshot_interval", m.cfg.SnapshotInterval),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetWill(m.cfg.topic("status"), "offline", m.cfg.QoS, true).
		SetOnConnectHandler(func(pahomqtt.Client) { m.announce() })

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}

	client := pahomqtt.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	token := client.Connect()
	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("mqtt connected to broker",
			zap.String("broker_url", m.cfg.BrokerURL),
		)
	}

	if m.counter != nil && m.cfg.SnapshotInterval > 0 {
		m.stop = make(chan struct{})
		m.wg.Add(1)
		go m.publishLive(m.stop)
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.stop != nil {
		close(m.stop)
		m.wg.Wait()
		m.stop = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		m.publish(m.cfg.topic("status"), true, []byte("offline"))
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: counter.TopicSnapshotUpdated, Handler: m.publishEvent},
		{Topic: counter.TopicDeltaDetected, Handler: m.publishEvent},
		{Topic: counter.TopicModelReset, Handler: m.publishEvent},
		{Topic: counter.TopicBaselineAcquired, Handler: m.publishEvent},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  "healthy",
			Message: "no broker configured (no-op mode)",
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "not connected to MQTT broker",
		}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

// mqttTopicFromEvent maps an event bus topic to an MQTT topic path.
// Snapshots are retained so late subscribers see the current count.
func (m *Module) mqttTopicFromEvent(eventTopic string) (topic string, retain bool) {
	switch eventTopic {
	case counter.TopicSnapshotUpdated:
		return m.cfg.topic("snapshot"), m.cfg.Retain
	case counter.TopicDeltaDetected:
		return m.cfg.topic("delta"), false
	case counter.TopicModelReset:
		return m.cfg.topic("reset"), false
	case counter.TopicBaselineAcquired:
		return m.cfg.topic("baseline"), m.cfg.Retain
	default:
		return m.cfg.topic("unknown"), false
	}
}

func (m *Module) publishEvent(_ context.Context, event plugin.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil || !m.client.IsConnected() {
		return
	}
	if m.cfg.HADiscovery {
		switch p := event.Payload.(type) {
		case *counter.Delta:
			m.syncCategorySensors(p)
		case *counter.ResetEvent:
			m.clearCategorySensors()
		}
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		m.logger.Warn("failed to marshal MQTT payload",
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		return
	}

	topic, retain := m.mqttTopicFromEvent(event.Topic)
	if m.publish(topic, retain, payload) {
		m.logger.Debug("mqtt event published",
			zap.String("mqtt_topic", topic),
			zap.String("event_topic", event.Topic),
		)
	}
}

// publishLive republishes the counter snapshot every SnapshotInterval so
// the current weight stays fresh between deltas.
func (m *Module) publishLive(stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := m.counter.Snapshot()
			m.publishEvent(context.Background(), plugin.Event{
				Topic:   counter.TopicSnapshotUpdated,
				Payload: &snap,
			})
		}
	}
}

// syncCategorySensors adds a sensor when a category appears and removes it
// when the category is emptied. Callers hold mu.
func (m *Module) syncCategorySensors(d *counter.Delta) {
	m.annMu.Lock()
	defer m.annMu.Unlock()

	switch d.Action {
	case mixture.ActionCreated:
		if m.announced[d.CategoryID] {
			return
		}
		c := BuildCategoryDiscoveryConfig(m.cfg.ClientID, m.cfg.TopicPrefix, m.cfg.HADiscoveryPrefix, version.Short(), d.CategoryID)
		if m.publish(c.Topic, true, c.Payload) {
			m.announced[d.CategoryID] = true
		}
	case mixture.ActionDropped:
		m.removeCategorySensor(d.CategoryID)
	}
}

// clearCategorySensors removes every category sensor. Callers hold mu.
func (m *Module) clearCategorySensors() {
	m.annMu.Lock()
	defer m.annMu.Unlock()
	for id := range m.announced {
		m.removeCategorySensor(id)
	}
}

// removeCategorySensor publishes an empty retained config. Callers hold annMu.
func (m *Module) removeCategorySensor(id int) {
	if !m.announced[id] {
		return
	}
	c := RemoveCategoryDiscoveryConfig(m.cfg.ClientID, m.cfg.HADiscoveryPrefix, id)
	m.publish(c.Topic, true, c.Payload)
	delete(m.announced, id)
}

// announce marks the publisher online and, when enabled, publishes HA
// discovery configs. Runs on every (re)connect.
func (m *Module) announce() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return
	}

	m.publish(m.cfg.topic("status"), true, []byte("online"))
	if !m.cfg.HADiscovery {
		return
	}
	configs := BuildCounterDiscoveryConfigs(m.cfg.ClientID, m.cfg.TopicPrefix, m.cfg.HADiscoveryPrefix, version.Short())
	for i := range configs {
		// Discovery configs are always retained so HA picks them up on restart.
		m.publish(configs[i].Topic, true, configs[i].Payload)
	}
	m.logger.Debug("ha discovery published", zap.Int("sensors", len(configs)))
}

// publish sends one message and waits for the broker ack. Callers hold mu.
func (m *Module) publish(topic string, retain bool, payload []byte) bool {
	token := m.client.Publish(topic, m.cfg.QoS, retain, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Warn("mqtt publish timed out", zap.String("mqtt_topic", topic))
		return false
	}
	if token.Error() != nil {
		m.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", topic),
			zap.Error(token.Error()),
		)
		return false
	}
	return true
}
