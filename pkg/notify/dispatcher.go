package notify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TenantSource lists the current tenant configurations.
type TenantSource interface {
	List() []storage.TenantConfig
}

// Result summarizes one Dispatch call.
type Result struct {
	// Eligible is the number of tenants enabled with a destination.
	Eligible  int
	Delivered int
	Failed    int
	// Skipped counts tenants that were disabled or had no destination.
	Skipped  int
	Duration time.Duration
}

// Dispatcher fans one event out to every eligible tenant.
type Dispatcher struct {
	tenants       TenantSource
	deliverer     Deliverer
	maxConcurrent int
	logger        *zap.Logger
}

// NewDispatcher creates a dispatcher delivering through deliverer.
func NewDispatcher(tenants TenantSource, deliverer Deliverer, maxConcurrent int, logger *zap.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = constants.DefaultMaxConcurrentDeliveries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		tenants:       tenants,
		deliverer:     deliverer,
		maxConcurrent: maxConcurrent,
		logger:        logger.Named("dispatcher"),
	}
}

// Dispatch delivers ev to every tenant that is enabled and has a destination.
// Per-tenant failures are logged and counted; they never stop other
// deliveries. Each delivery runs detached from ctx's cancellation and
// deadline, bounded only by the deliverer's own timeout and retries.
// Dispatch returns once every delivery for ev has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *events.TokenCreated) Result {
	start := time.Now()
	payload := NewPayload(ev)

	var (
		result    Result
		delivered atomic.Int64
		failed    atomic.Int64
	)

	dctx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.maxConcurrent)

	for _, t := range d.tenants.List() {
		if !t.Enabled || !t.Destination.IsSet() {
			result.Skipped++
			continue
		}
		result.Eligible++

		tenant := t
		g.Go(func() error {
			if err := d.deliverer.Deliver(dctx, tenant.Destination, payload); err != nil {
				failed.Add(1)
				d.logger.Warn("failed to deliver notification",
					zap.String("tenant", tenant.TenantID),
					zap.String("destination", string(tenant.Destination)),
					zap.String("token", payload.TokenAddress),
					zap.Error(err),
				)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}

	_ = g.Wait()

	result.Delivered = int(delivered.Load())
	result.Failed = int(failed.Load())
	result.Duration = time.Since(start)

	d.logger.Info("notification dispatched",
		zap.String("token", payload.TokenAddress),
		zap.String("symbol", payload.Symbol),
		zap.Uint64("block", payload.BlockNumber),
		zap.Int("eligible", result.Eligible),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
	)
	return result
}
