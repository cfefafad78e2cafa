// Package plugintest holds the lifecycle contract every tally module must
// satisfy, plus a recording event bus for module tests.
package plugintest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/tally/pkg/plugin"
	"go.uber.org/zap/zaptest"
)

var validHealth = map[string]bool{"healthy": true, "degraded": true, "unhealthy": true}

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodPatch: true, http.MethodDelete: true,
}

// TestPluginContract checks a module built by factory:
//
//	func TestContract(t *testing.T) {
//	    plugintest.TestPluginContract(t, func() plugin.Plugin { return counter.New() })
//	}
//
// Optional interfaces (HTTPProvider, EventSubscriber, HealthChecker) are
// checked when implemented.
func TestPluginContract(t *testing.T, factory func() plugin.Plugin) {
	t.Helper()

	t.Run("Info_returns_valid_metadata", func(t *testing.T) {
		info := factory().Info()
		if info.Name == "" || strings.ContainsAny(info.Name, " ./") {
			t.Errorf("Info().Name = %q, want a non-empty path-safe name", info.Name)
		}
		if info.Version == "" {
			t.Error("Info().Version must not be empty")
		}
		if info.APIVersion < plugin.APIVersionMin || info.APIVersion > plugin.APIVersionCurrent {
			t.Errorf("Info().APIVersion = %d, want within [%d, %d]",
				info.APIVersion, plugin.APIVersionMin, plugin.APIVersionCurrent)
		}
		for _, dep := range info.Dependencies {
			if dep == info.Name {
				t.Errorf("module %q depends on itself", info.Name)
			}
		}
	})

	t.Run("Init_Start_Stop", func(t *testing.T) {
		p := factory()
		initModule(t, p)
		if err := p.Start(context.Background()); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	})

	t.Run("Stop_without_Start", func(t *testing.T) {
		p := factory()
		initModule(t, p)
		if err := p.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() without Start error = %v", err)
		}
	})

	t.Run("Routes_are_well_formed", func(t *testing.T) {
		p := factory()
		hp, ok := p.(plugin.HTTPProvider)
		if !ok {
			t.Skip("not an HTTPProvider")
		}
		initModule(t, p)
		seen := make(map[string]bool)
		for _, r := range hp.Routes() {
			key := r.Method + " " + r.Path
			if !validMethods[r.Method] {
				t.Errorf("route %q: unsupported method", key)
			}
			if !strings.HasPrefix(r.Path, "/") {
				t.Errorf("route %q: path must start with /", key)
			}
			if r.Handler == nil {
				t.Errorf("route %q: nil handler", key)
			}
			if seen[key] {
				t.Errorf("route %q registered twice", key)
			}
			seen[key] = true
		}
	})

	t.Run("Subscriptions_are_well_formed", func(t *testing.T) {
		p := factory()
		es, ok := p.(plugin.EventSubscriber)
		if !ok {
			t.Skip("not an EventSubscriber")
		}
		for _, s := range es.Subscriptions() {
			if s.Topic == "" || s.Handler == nil {
				t.Errorf("subscription %+v: topic and handler are required", s)
			}
		}
	})

	t.Run("Health_reports_known_status", func(t *testing.T) {
		p := factory()
		hc, ok := p.(plugin.HealthChecker)
		if !ok {
			t.Skip("not a HealthChecker")
		}
		initModule(t, p)
		if got := hc.Health(context.Background()).Status; !validHealth[got] {
			t.Errorf("Health().Status = %q, want healthy, degraded or unhealthy", got)
		}
	})
}

func initModule(t *testing.T, p plugin.Plugin) {
	t.Helper()
	name := p.Info().Name
	deps := plugin.Dependencies{
		Logger: zaptest.NewLogger(t).Named(name),
		Bus:    &Bus{},
	}
	if err := p.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
}

// Bus is a synchronous plugin.EventBus that records every published event.
type Bus struct {
	mu       sync.Mutex
	events   []plugin.Event
	handlers map[string][]plugin.EventHandler
	all      []plugin.EventHandler
}

var _ plugin.EventBus = (*Bus)(nil)

func (b *Bus) Publish(ctx context.Context, e plugin.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	b.events = append(b.events, e)
	handlers := append(append([]plugin.EventHandler(nil), b.handlers[e.Topic]...), b.all...)
	b.mu.Unlock()

	for _, h := range handlers {
		h(ctx, e)
	}
	return nil
}

func (b *Bus) PublishAsync(ctx context.Context, e plugin.Event) {
	_ = b.Publish(ctx, e)
}

// Subscribe registers handler for topic. Unsubscribe is a no-op.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[string][]plugin.EventHandler)
	}
	b.handlers[topic] = append(b.handlers[topic], handler)
	return func() {}
}

func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
	return func() {}
}

// Events returns a copy of everything published so far.
func (b *Bus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]plugin.Event(nil), b.events...)
}

// Topics returns the topics published so far, in order.
func (b *Bus) Topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	topics := make([]string, len(b.events))
	for i, e := range b.events {
		topics[i] = e.Topic
	}
	return topics
}
