package monitor

import (
	"context"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/storage"
	"go.uber.org/zap"
)

// SetDestination points a tenant's notifications at dest. The change is
// durable when SetDestination returns nil.
func (e *Engine) SetDestination(ctx context.Context, tenantID string, dest storage.Destination) (storage.TenantConfig, error) {
	t, err := e.tenants.SetDestination(ctx, tenantID, dest)
	if err != nil {
		return t, err
	}
	e.logger.Info("tenant destination updated",
		zap.String("tenant", tenantID),
		zap.String("destination", string(dest)),
	)
	return t, nil
}

// ToggleEnabled flips a tenant's enabled flag and returns the new value.
func (e *Engine) ToggleEnabled(ctx context.Context, tenantID string) (bool, error) {
	enabled, err := e.tenants.Toggle(ctx, tenantID)
	if err != nil {
		return enabled, err
	}
	e.logger.Info("tenant notifications toggled",
		zap.String("tenant", tenantID),
		zap.Bool("enabled", enabled),
	)
	return enabled, nil
}

// SetGlobalEnabled pauses or resumes the poll loop. The flag is saved before
// it takes effect; a paused loop keeps its checkpoint and resumes from it.
func (e *Engine) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	err := e.save(ctx, func(s *storage.MonitorState) {
		s.GlobalEnabled = enabled
	})
	if err != nil {
		return err
	}
	e.logger.Info("monitoring globally toggled", zap.Bool("enabled", enabled))
	return nil
}

// GetStatus reports the monitor state together with one tenant's configuration.
func (e *Engine) GetStatus(tenantID string) Status {
	t := e.tenants.Get(tenantID)

	e.mu.RLock()
	st := e.monitor
	state := e.state
	e.mu.RUnlock()

	var last *uint64
	if cp, ok := st.Checkpoint(); ok {
		last = &cp
	}

	return Status{
		GlobalEnabled:    st.GlobalEnabled,
		TenantEnabled:    t.Enabled,
		Destination:      t.Destination,
		LastCheckedBlock: last,
		TenantCount:      e.tenants.Count(),
		State:            state,
		Health:           e.Health(),
	}
}

// Tenants lists every configured tenant.
func (e *Engine) Tenants() []storage.TenantConfig {
	return e.tenants.List()
}

// Tenant returns one tenant's configuration, defaulted if it does not exist.
func (e *Engine) Tenant(tenantID string) storage.TenantConfig {
	return e.tenants.Get(tenantID)
}

// Health reports degraded once DegradedAfter consecutive cycles have failed.
func (e *Engine) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()

	switch {
	case e.state == StateStopped:
		return HealthStopped
	case e.failures >= e.config.DegradedAfter:
		return HealthDegraded
	default:
		return HealthOK
	}
}

// State returns the loop's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Checkpoint returns the last checked block and whether it is set.
func (e *Engine) Checkpoint() (uint64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.monitor.Checkpoint()
}

// GlobalEnabled reports whether monitoring is globally enabled.
func (e *Engine) GlobalEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.monitor.GlobalEnabled
}

// ConsecutiveFailures returns the number of failed cycles since the last success.
func (e *Engine) ConsecutiveFailures() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failures
}

// LastError returns the error of the most recent failed cycle, or nil after a success.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// LastCycleAt returns when the most recent cycle finished.
func (e *Engine) LastCycleAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastCycleAt
}
