// Package counter is the tally module that turns raw scale readings into
// item counts. It owns the processing pipeline, runs the ingest loop over a
// sample source, journals deltas and publishes events.
package counter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/HerbHall/tally/internal/counter/mixture"
	"github.com/HerbHall/tally/internal/source"
	"github.com/HerbHall/tally/pkg/plugin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// ErrInvalidSample is returned by Process for NaN or infinite readings.
var ErrInvalidSample = errors.New("sample must be a finite number")

// sourceRetryDelay is the pause after a transient read error.
var sourceRetryDelay = time.Second

// Module implements the counter plugin.
type Module struct {
	logger    *zap.Logger
	cfg       CounterConfig
	store     *JournalStore
	bus       plugin.EventBus
	sessionID string

	// procMu serialises Process and Reset; the pipeline is single-owner.
	procMu   sync.Mutex
	pipeline *Pipeline

	mu       sync.RWMutex
	snapshot Snapshot
	src      source.Source
	srcErr   error // last read error, cleared by the next sample

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new counter module instance.
func New() *Module {
	return &Module{}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "counter",
		Version:     "0.1.0",
		Description: "Counts items on a scale by classifying settled weight steps",
		Required:    true,
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	if m.logger == nil {
		m.logger = zap.NewNop()
	}

	m.cfg = DefaultConfig()
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal counter config: %w", err)
		}
	}

	p, err := NewPipeline(m.cfg)
	if err != nil {
		return err
	}
	m.pipeline = p
	m.snapshot = p.Snapshot()

	if deps.Store != nil && m.cfg.JournalEnabled {
		if err := deps.Store.Migrate(ctx, "counter", migrations()); err != nil {
			return fmt.Errorf("counter migrations: %w", err)
		}
		m.store = NewJournalStore(deps.Store.DB())
	}

	m.bus = deps.Bus
	m.sessionID = uuid.NewString()
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.logger.Info("counter module initialized",
		zap.String("session_id", m.sessionID),
		zap.Float64("scale_factor", m.cfg.ScaleFactor),
		zap.Int("history", m.cfg.History),
		zap.Float64("tare_threshold", m.cfg.TareThreshold),
		zap.Float64("baseline_alpha", m.cfg.BaselineAlpha),
		zap.Float64("merge_threshold", m.cfg.MergeThreshold),
		zap.Bool("journal", m.store != nil),
	)
	return nil
}

// SetSource attaches the sample source read by the ingest loop. Must be
// called before Start; the module closes the source on Stop.
func (m *Module) SetSource(src source.Source) {
	m.mu.Lock()
	m.src = src
	m.mu.Unlock()
}

// MalformedHook counts skipped source lines; pass it to source.WithMalformedHook.
func (m *Module) MalformedHook(string) {
	malformedTotal.Inc()
}

func (m *Module) Start(_ context.Context) error {
	if m.ctx == nil {
		m.ctx, m.cancel = context.WithCancel(context.Background())
	}
	if m.store != nil {
		m.startMaintenance()
	}

	m.mu.RLock()
	src := m.src
	m.mu.RUnlock()
	if src != nil {
		m.wg.Add(1)
		go m.ingest(src)
		m.logger.Info("counter module started", zap.String("source", src.Name()))
	} else {
		m.logger.Info("counter module started without a source")
	}
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.RLock()
	src := m.src
	m.mu.RUnlock()
	if src != nil {
		if err := src.Close(); err != nil {
			m.logger.Debug("closing source", zap.Error(err))
		}
	}
	m.wg.Wait()
	if m.logger != nil {
		m.logger.Info("counter module stopped")
	}
	return nil
}

// ingest reads samples until the source ends or the module stops.
func (m *Module) ingest(src source.Source) {
	defer m.wg.Done()
	for {
		raw, err := src.Next(m.ctx)
		if err == nil || m.transientReadErr(err) {
			m.setSourceErr(err)
		}
		switch {
		case err == nil:
			if _, err := m.Process(m.ctx, raw); err != nil && m.ctx.Err() == nil {
				m.logger.Warn("sample rejected", zap.Float64("raw", raw), zap.Error(err))
			}
		case m.ctx.Err() != nil, errors.Is(err, source.ErrClosed):
			return
		case errors.Is(err, io.EOF):
			m.logger.Info("source exhausted", zap.String("source", src.Name()))
			return
		default:
			m.logger.Warn("source read failed", zap.String("source", src.Name()), zap.Error(err))
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(sourceRetryDelay):
			}
		}
	}
}

func (m *Module) transientReadErr(err error) bool {
	return m.ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, source.ErrClosed)
}

func (m *Module) setSourceErr(err error) {
	m.mu.Lock()
	m.srcErr = err
	m.mu.Unlock()
}

// Process runs one raw reading through the pipeline, then journals,
// records metrics and publishes events for whatever changed.
func (m *Module) Process(ctx context.Context, raw float64) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return nil, fmt.Errorf("process %v: %w", raw, ErrInvalidSample)
	}

	start := time.Now()
	m.procMu.Lock()
	defer m.procMu.Unlock()

	obs := m.pipeline.Step(raw)
	m.setSnapshot(obs.Snapshot)
	recordObservation(&obs)

	m.logger.Debug(StatusLine(obs))

	if obs.BaselineAcquired {
		m.logger.Info("baseline acquired",
			zap.Float64("baseline", obs.Snapshot.Baseline),
			zap.Float64("deviation", obs.Snapshot.BaselineDeviation),
		)
		m.publish(ctx, TopicBaselineAcquired, &BaselineEvent{
			Baseline:  obs.Snapshot.Baseline,
			Deviation: obs.Snapshot.BaselineDeviation,
		})
	}

	if d := obs.Delta; d != nil {
		m.reportDelta(ctx, d)
		snap := obs.Snapshot
		m.publish(ctx, TopicSnapshotUpdated, &snap)
	}

	processDuration.Observe(time.Since(start).Seconds())
	return &obs, nil
}

func (m *Module) reportDelta(ctx context.Context, d *Delta) {
	m.logger.Info("delta detected",
		zap.Float64("delta", d.Value),
		zap.String("action", string(d.Action)),
		zap.Int("category_id", d.CategoryID),
		zap.Float64("estimate", d.Estimate),
		zap.Float64("total", d.Total),
	)

	switch d.Action {
	case mixture.ActionCreated, mixture.ActionMatched, mixture.ActionRemoved, mixture.ActionDropped:
		m.logger.Debug("category "+string(d.Action), zap.Int("category_id", d.CategoryID))
	case mixture.ActionReset:
		m.logger.Warn("unexplained removal, discarding all categories", zap.Float64("delta", d.Value))
	}

	if m.store != nil {
		jctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := m.store.Insert(jctx, m.sessionID, d, time.Now()); err != nil {
			m.logger.Warn("failed to journal delta", zap.Error(err))
		}
		cancel()
	}

	m.publish(ctx, TopicDeltaDetected, d)
	if d.Action == mixture.ActionReset {
		m.publish(ctx, TopicModelReset, &ResetEvent{Reason: ResetUnexplained, Delta: d.Value})
	}
}

// Reset clears the learned categories and re-seeks the baseline.
func (m *Module) Reset(ctx context.Context) Snapshot {
	m.procMu.Lock()
	m.pipeline.Reset()
	snap := m.pipeline.Snapshot()
	m.setSnapshot(snap)
	m.procMu.Unlock()

	resetsTotal.WithLabelValues(ResetOperator).Inc()
	categoriesGauge.Set(0)
	totalGauge.Set(0)
	m.logger.Warn("counter reset by operator")
	m.publish(ctx, TopicModelReset, &ResetEvent{Reason: ResetOperator})
	m.publish(ctx, TopicSnapshotUpdated, &snap)
	return snap
}

// Snapshot returns the latest published state.
func (m *Module) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// SessionID identifies journal rows written by this process.
func (m *Module) SessionID() string {
	return m.sessionID
}

func (m *Module) setSnapshot(s Snapshot) {
	m.mu.Lock()
	m.snapshot = s
	m.mu.Unlock()
}

// publish uses the synchronous bus so subscribers observe events in
// sample order.
func (m *Module) publish(ctx context.Context, topic string, payload any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, plugin.Event{
		Topic:   topic,
		Source:  "counter",
		Payload: payload,
	}); err != nil {
		m.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// -- plugin.HealthChecker --

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	s := m.Snapshot()
	status := plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"mode":       s.Mode,
			"categories": strconv.Itoa(len(s.Categories)),
			"samples":    strconv.FormatUint(s.Samples, 10),
			"session_id": m.sessionID,
		},
	}
	m.mu.RLock()
	hasSource := m.src != nil
	srcErr := m.srcErr
	m.mu.RUnlock()
	switch {
	case !hasSource:
		status.Status = "degraded"
		status.Message = "no sample source attached"
	case srcErr != nil:
		status.Status = "degraded"
		status.Message = "source read failed: " + srcErr.Error()
	}
	return status
}
