package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/chain"
	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyRunning is returned when the loop is started twice.
	ErrAlreadyRunning = errors.New("monitor already running")
	// ErrFailureLimit is returned by Run when StopAfter consecutive cycles failed.
	ErrFailureLimit = errors.New("consecutive failure limit reached")
)

// Deps are the collaborators the engine drives.
type Deps struct {
	Chain      ChainClient
	Decoder    EventDecoder
	Dispatcher Dispatcher
	Store      StateSaver
	Tenants    TenantRegistry
	// Registerer receives the engine metrics; nil leaves them unregistered.
	Registerer prometheus.Registerer
}

func (d *Deps) validate() error {
	switch {
	case d.Chain == nil:
		return fmt.Errorf("chain client is required")
	case d.Decoder == nil:
		return fmt.Errorf("decoder is required")
	case d.Dispatcher == nil:
		return fmt.Errorf("dispatcher is required")
	case d.Store == nil:
		return fmt.Errorf("store is required")
	case d.Tenants == nil:
		return fmt.Errorf("tenant registry is required")
	}
	return nil
}

// Engine owns the checkpoint and runs poll cycles one at a time.
type Engine struct {
	config     *Config
	chain      ChainClient
	decoder    EventDecoder
	dispatcher Dispatcher
	store      StateSaver
	tenants    TenantRegistry
	metrics    *metrics
	logger     *zap.Logger

	mu          sync.RWMutex
	state       State
	monitor     storage.MonitorState
	uncommitted int
	failures    int
	lastErr     error
	lastCycleAt time.Time

	// saveMu orders saves so the newest snapshot is always written last.
	saveMu sync.Mutex

	running atomic.Bool
	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// NewEngine creates an engine starting from initial, typically the state
// returned by the store's Load.
func NewEngine(config *Config, deps Deps, initial storage.MonitorState, logger *zap.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:     config,
		chain:      deps.Chain,
		decoder:    deps.Decoder,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		tenants:    deps.Tenants,
		metrics:    newMetrics(deps.Registerer),
		logger:     logger.Named("monitor"),
		state:      StateIdle,
		monitor:    initial,
	}
	if cp, ok := initial.Checkpoint(); ok {
		e.metrics.checkpoint.Set(float64(cp))
	}
	return e, nil
}

// Prepare resolves the starting checkpoint. Without a saved checkpoint it
// starts one block behind the current height so history is never scanned.
// A failure leaves the checkpoint unset; the first cycle resolves it instead.
func (e *Engine) Prepare(ctx context.Context) error {
	e.setState(StateWaitingForReady)
	if _, ok := e.Checkpoint(); ok {
		return nil
	}

	hctx, cancel := e.ioContext(ctx)
	height, err := e.chain.CurrentHeight(hctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to read chain height: %w", err)
	}
	e.initCheckpoint(ctx, height)
	return nil
}

// RunCycle executes one poll cycle. It must not be called while Run is active.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	res := e.cycle(ctx)
	res.Duration = time.Since(start)

	e.mu.Lock()
	switch {
	case res.Outcome.Failed():
		e.failures++
		e.lastErr = res.Err
	case res.Outcome != OutcomePaused:
		e.failures = 0
		e.lastErr = nil
	}
	failures := e.failures
	e.lastCycleAt = time.Now()
	e.mu.Unlock()

	e.metrics.observe(res, failures)
	e.logCycle(res, failures)
	return res
}

func (e *Engine) cycle(ctx context.Context) CycleResult {
	if !e.GlobalEnabled() {
		e.setState(StatePaused)
		return CycleResult{Outcome: OutcomePaused}
	}
	e.setState(StatePolling)

	if !e.chain.IsHealthy() {
		rctx, cancel := e.ioContext(ctx)
		err := e.chain.Reconnect(rctx)
		cancel()
		if err != nil {
			return CycleResult{Outcome: OutcomeConnectionFailed, Err: err}
		}
	}

	hctx, cancel := e.ioContext(ctx)
	height, err := e.chain.CurrentHeight(hctx)
	cancel()
	if err != nil {
		return CycleResult{Outcome: OutcomeConnectionFailed, Err: err}
	}

	last := e.initCheckpoint(ctx, height)
	res := CycleResult{Height: height}

	r := chain.BlockRange{From: last + 1, To: height}.Cap(e.config.MaxBlockRange)
	if r.Empty() {
		res.Outcome = OutcomeNoop
		return res
	}
	res.Range = r

	fctx, cancel := e.ioContext(ctx)
	logs, err := e.chain.FetchLogs(fctx, e.config.ContractAddress, events.TopicHash, r)
	cancel()
	if err != nil {
		res.Outcome = OutcomeFetchFailed
		res.Err = err
		return res
	}
	res.Logs = len(logs)

	// Deliveries carry their own per-destination budgets; no shared deadline.
	dctx := context.WithoutCancel(ctx)
	for _, log := range logs {
		ev, err := e.decoder.Decode(log)
		if err != nil {
			res.DecodeFailures++
			e.logger.Warn("skipping undecodable log",
				zap.Uint64("block", log.BlockNumber),
				zap.String("tx", log.TxHash.Hex()),
				zap.Uint("index", log.Index),
				zap.Error(err),
			)
			continue
		}
		res.Decoded++

		d := e.dispatcher.Dispatch(dctx, ev)
		res.Delivered += d.Delivered
		res.DeliveryFailed += d.Failed
	}

	e.setState(StateCommitting)
	res.Persisted = e.commit(ctx, r.To)
	res.Outcome = OutcomeCommitted
	return res
}

// initCheckpoint sets the checkpoint to height-1 when it is unset and
// returns the current checkpoint.
func (e *Engine) initCheckpoint(ctx context.Context, height uint64) uint64 {
	e.mu.Lock()
	if cp, ok := e.monitor.Checkpoint(); ok {
		e.mu.Unlock()
		return cp
	}
	var start uint64
	if height > 0 {
		start = height - 1
	}
	e.monitor = e.monitor.WithCheckpoint(start)
	e.mu.Unlock()

	e.metrics.checkpoint.Set(float64(start))
	e.logger.Info("no saved checkpoint, starting at current height",
		zap.Uint64("height", height),
		zap.Uint64("last_checked_block", start),
	)
	sctx, cancel := e.ioContext(ctx)
	defer cancel()
	if err := e.save(sctx, nil); err != nil {
		e.logger.Warn("failed to persist initial checkpoint", zap.Error(err))
	}
	return start
}

// commit advances the in-memory checkpoint to block and saves it when
// PersistEvery commits are pending. It reports whether a save happened.
func (e *Engine) commit(ctx context.Context, block uint64) bool {
	e.mu.Lock()
	if cp, ok := e.monitor.Checkpoint(); !ok || block > cp {
		e.monitor = e.monitor.WithCheckpoint(block)
	}
	e.uncommitted++
	due := e.uncommitted >= e.config.PersistEvery
	e.mu.Unlock()

	e.metrics.checkpoint.Set(float64(block))
	if !due {
		return false
	}
	sctx, cancel := e.ioContext(ctx)
	defer cancel()
	if err := e.save(sctx, nil); err != nil {
		e.logger.Warn("failed to persist checkpoint, will retry on next commit",
			zap.Uint64("last_checked_block", block),
			zap.Error(err),
		)
		return false
	}
	return true
}

// save writes the current state with mutate applied. mutate is applied to
// the in-memory state only after the write succeeds.
func (e *Engine) save(ctx context.Context, mutate func(s *storage.MonitorState)) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.RLock()
	next := e.monitor
	pending := e.uncommitted
	e.mu.RUnlock()

	if mutate != nil {
		mutate(&next)
	}
	if err := e.store.SaveState(ctx, next); err != nil {
		e.metrics.persistFailures.Inc()
		return err
	}

	e.mu.Lock()
	if mutate != nil {
		mutate(&e.monitor)
	}
	e.uncommitted -= pending
	e.mu.Unlock()
	return nil
}

// Run drives cycles until ctx is cancelled, then saves the state one last
// time. Cycles run detached from ctx with every chain or state call bounded
// by IOTimeout, so shutdown takes effect at the next sleep.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info("starting token monitor",
		zap.String("contract", e.config.ContractAddress.Hex()),
		zap.Duration("poll_interval", e.config.PollInterval),
		zap.Int("persist_every", e.config.PersistEvery),
	)

	if err := e.Prepare(context.WithoutCancel(ctx)); err != nil {
		e.logger.Warn("could not resolve starting checkpoint", zap.Error(err))
	}

	for {
		res := e.RunCycle(context.WithoutCancel(ctx))

		failures := e.ConsecutiveFailures()
		if e.config.StopAfter > 0 && failures >= e.config.StopAfter {
			e.logger.Error("stopping token monitor after repeated failures",
				zap.Int("consecutive_failures", failures),
				zap.Error(res.Err),
			)
			e.shutdown(ctx)
			return ErrFailureLimit
		}

		delay := e.config.backoff(0)
		switch {
		case res.Outcome == OutcomePaused:
		case res.Outcome.Failed():
			delay = e.config.backoff(failures)
			e.setState(StateBackoff)
		default:
			e.setState(StateSleeping)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.shutdown(ctx)
			return nil
		case <-timer.C:
		}
	}
}

// shutdown saves the final state and moves to StateStopped.
func (e *Engine) shutdown(ctx context.Context) {
	sctx, cancel := e.ioContext(ctx)
	defer cancel()

	if err := e.save(sctx, nil); err != nil {
		e.logger.Error("failed to save state on shutdown", zap.Error(err))
	}
	e.setState(StateStopped)

	last, _ := e.Checkpoint()
	e.logger.Info("token monitor stopped", zap.Uint64("last_checked_block", last))
}

// Start runs the loop in a background goroutine. It can be called again once
// the previous loop has finished.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.done != nil {
		select {
		case <-e.done:
		default:
			return ErrAlreadyRunning
		}
		e.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.runErr = nil
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	go func() {
		defer close(done)
		err := e.Run(runCtx)
		e.runMu.Lock()
		e.runErr = err
		e.runMu.Unlock()
	}()
	return nil
}

// Stop cancels a loop started with Start and waits for it to finish or for
// ctx to expire.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.runMu.Unlock()

	if done == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("token monitor stop timed out")
		return ctx.Err()
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done == done {
		e.cancel, e.done = nil, nil
	}
	return e.runErr
}

// ioContext returns a context for one chain or state call that survives
// cancellation of parent but not IOTimeout.
func (e *Engine) ioContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), e.config.IOTimeout)
}

func (e *Engine) logCycle(res CycleResult, failures int) {
	switch res.Outcome {
	case OutcomeCommitted:
		fields := []zap.Field{
			zap.Stringer("range", res.Range),
			zap.Int("logs", res.Logs),
			zap.Int("decoded", res.Decoded),
			zap.Int("decode_failures", res.DecodeFailures),
			zap.Int("delivered", res.Delivered),
			zap.Int("delivery_failures", res.DeliveryFailed),
			zap.Bool("persisted", res.Persisted),
			zap.Duration("duration", res.Duration),
		}
		if res.Logs > 0 {
			e.logger.Info("processed block range", fields...)
		} else {
			e.logger.Debug("processed block range", fields...)
		}
	case OutcomeNoop:
		e.logger.Debug("no new blocks", zap.Uint64("height", res.Height))
	case OutcomePaused:
		e.logger.Debug("monitoring disabled, skipping cycle")
	default:
		fields := []zap.Field{
			zap.String("outcome", string(res.Outcome)),
			zap.Int("consecutive_failures", failures),
			zap.Error(res.Err),
		}
		if res.Range != (chain.BlockRange{}) {
			fields = append(fields, zap.Stringer("range", res.Range))
		}
		if failures >= e.config.DegradedAfter {
			e.logger.Error("poll cycle failed, monitor degraded", fields...)
		} else {
			e.logger.Warn("poll cycle failed", fields...)
		}
	}
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != state {
		e.logger.Debug("state changed",
			zap.String("from", string(e.state)),
			zap.String("to", string(state)),
		)
		e.state = state
	}
}
