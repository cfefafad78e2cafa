package counter

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startMaintenance periodically purges journal entries past retention.
func (m *Module) startMaintenance() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.MaintenanceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.runMaintenance()
			}
		}
	}()
}

// runMaintenance executes a single maintenance cycle.
func (m *Module) runMaintenance() {
	if m.store == nil || m.cfg.JournalRetention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-m.cfg.JournalRetention)
	deleted, err := m.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		m.logger.Warn("failed to purge journal", zap.Error(err))
		return
	}
	if deleted > 0 {
		m.logger.Info("purged journal entries", zap.Int64("count", deleted))
	}
}
