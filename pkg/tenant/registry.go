package tenant

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/0xmhha/tokenwatch/pkg/storage"
	"go.uber.org/zap"
)

// ErrInvalidTenantID is returned for an empty tenant ID.
var ErrInvalidTenantID = errors.New("tenant id cannot be empty")

// Saver persists a single tenant record.
type Saver interface {
	SaveTenant(ctx context.Context, tenant storage.TenantConfig) error
}

// Registry holds per-tenant delivery configuration. Every mutation is written
// to the Saver before the in-memory map changes, so a nil error means the
// change is durable and a non-nil error means nothing changed.
type Registry struct {
	saver  Saver
	logger *zap.Logger

	mu      sync.RWMutex
	tenants map[string]storage.TenantConfig
}

// NewRegistry creates an empty registry writing through saver.
func NewRegistry(saver Saver, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		saver:   saver,
		logger:  logger.Named("tenant"),
		tenants: make(map[string]storage.TenantConfig),
	}
}

// Load replaces the registry contents with previously persisted tenants.
func (r *Registry) Load(tenants map[string]storage.TenantConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tenants = make(map[string]storage.TenantConfig, len(tenants))
	for id, t := range tenants {
		t.TenantID = id
		r.tenants[id] = t
	}
}

// Get returns the tenant's configuration, or the defaults if it was never configured.
// It does not create an entry.
func (r *Registry) Get(id string) storage.TenantConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.tenants[id]; ok {
		return t
	}
	return storage.DefaultTenant(id)
}

// SetDestination sets where the tenant's notifications go.
func (r *Registry) SetDestination(ctx context.Context, id string, dest storage.Destination) (storage.TenantConfig, error) {
	return r.mutate(ctx, id, func(t *storage.TenantConfig) {
		t.Destination = dest
	})
}

// SetEnabled turns delivery for the tenant on or off.
func (r *Registry) SetEnabled(ctx context.Context, id string, enabled bool) (storage.TenantConfig, error) {
	return r.mutate(ctx, id, func(t *storage.TenantConfig) {
		t.Enabled = enabled
	})
}

// Toggle flips the tenant's enabled flag and returns the new value.
func (r *Registry) Toggle(ctx context.Context, id string) (bool, error) {
	t, err := r.mutate(ctx, id, func(t *storage.TenantConfig) {
		t.Enabled = !t.Enabled
	})
	if err != nil {
		return false, err
	}
	return t.Enabled, nil
}

// List returns a snapshot of every configured tenant ordered by ID.
func (r *Registry) List() []storage.TenantConfig {
	r.mu.RLock()
	out := make([]storage.TenantConfig, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].TenantID < out[j].TenantID
	})
	return out
}

// Count returns the number of configured tenants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tenants)
}

// mutate holds the write lock across the save so concurrent updates to the
// same tenant cannot persist out of order.
func (r *Registry) mutate(ctx context.Context, id string, fn func(t *storage.TenantConfig)) (storage.TenantConfig, error) {
	if id == "" {
		return storage.TenantConfig{}, ErrInvalidTenantID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.tenants[id]
	if !ok {
		current = storage.DefaultTenant(id)
	}
	next := current
	fn(&next)

	if err := r.saver.SaveTenant(ctx, next); err != nil {
		r.logger.Error("failed to persist tenant",
			zap.String("tenant", id),
			zap.Error(err),
		)
		return current, err
	}

	r.tenants[id] = next

	r.logger.Info("tenant updated",
		zap.String("tenant", id),
		zap.String("destination", string(next.Destination)),
		zap.Bool("enabled", next.Enabled),
	)
	return next, nil
}
