// Package monitor runs the poll loop that turns new TokenCreated logs into
// tenant notifications and owns the block checkpoint.
package monitor

import (
	"context"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/chain"
	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/0xmhha/tokenwatch/pkg/notify"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// State is the poll loop's current position in its lifecycle.
type State string

const (
	// StateIdle indicates the engine has been created but not started.
	StateIdle State = "idle"
	// StateWaitingForReady indicates the engine is resolving its starting checkpoint.
	StateWaitingForReady State = "waiting_for_ready"
	// StatePolling indicates a cycle is in progress.
	StatePolling State = "polling"
	// StateCommitting indicates a cycle is advancing the checkpoint.
	StateCommitting State = "committing"
	// StateBackoff indicates the loop is waiting after a failed cycle.
	StateBackoff State = "backoff"
	// StateSleeping indicates the loop is waiting for the next cycle.
	StateSleeping State = "sleeping"
	// StatePaused indicates monitoring is globally disabled.
	StatePaused State = "paused"
	// StateStopped is terminal.
	StateStopped State = "stopped"
)

// Health summarizes how well the loop is keeping up with the chain.
type Health string

const (
	HealthOK       Health = "ok"
	HealthDegraded Health = "degraded"
	HealthStopped  Health = "stopped"
)

// CycleOutcome classifies the result of one cycle.
type CycleOutcome string

const (
	// OutcomeCommitted means logs in the range were processed and the checkpoint advanced.
	OutcomeCommitted CycleOutcome = "committed"
	// OutcomeNoop means the height did not advance past the checkpoint.
	OutcomeNoop CycleOutcome = "noop"
	// OutcomeConnectionFailed means the chain could not be reached.
	OutcomeConnectionFailed CycleOutcome = "connection_failed"
	// OutcomeFetchFailed means the log query failed; the range is retried next cycle.
	OutcomeFetchFailed CycleOutcome = "fetch_failed"
	// OutcomePaused means monitoring is globally disabled.
	OutcomePaused CycleOutcome = "paused"
)

// Failed reports whether the outcome counts towards backoff and health.
func (o CycleOutcome) Failed() bool {
	return o == OutcomeConnectionFailed || o == OutcomeFetchFailed
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	Outcome CycleOutcome
	// Range is the block range queried; zero when no query was made.
	Range  chain.BlockRange
	Height uint64
	// Logs is the number of logs returned by the node.
	Logs int
	// Decoded is the number of logs that decoded into events.
	Decoded        int
	DecodeFailures int
	Delivered      int
	DeliveryFailed int
	// Persisted reports whether the checkpoint was saved during this cycle.
	Persisted bool
	Err       error
	Duration  time.Duration
}

// Status is the answer to a status query for one tenant.
type Status struct {
	GlobalEnabled    bool                `json:"global_enabled"`
	TenantEnabled    bool                `json:"tenant_enabled"`
	Destination      storage.Destination `json:"destination"`
	LastCheckedBlock *uint64             `json:"last_checked_block"`
	TenantCount      int                 `json:"tenant_count"`
	State            State               `json:"state"`
	Health           Health              `json:"health"`
}

// ChainClient is the chain access the engine needs.
type ChainClient interface {
	IsHealthy() bool
	Reconnect(ctx context.Context) error
	CurrentHeight(ctx context.Context) (uint64, error)
	FetchLogs(ctx context.Context, address common.Address, topic common.Hash, r chain.BlockRange) ([]types.Log, error)
}

// EventDecoder turns raw logs into events.
type EventDecoder interface {
	Decode(log types.Log) (*events.TokenCreated, error)
}

// Dispatcher fans an event out to tenants.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *events.TokenCreated) notify.Result
}

// StateSaver persists the monitor state.
type StateSaver interface {
	SaveState(ctx context.Context, state storage.MonitorState) error
}

// TenantRegistry is the tenant configuration the control operations act on.
type TenantRegistry interface {
	Get(id string) storage.TenantConfig
	SetDestination(ctx context.Context, id string, dest storage.Destination) (storage.TenantConfig, error)
	Toggle(ctx context.Context, id string) (bool, error)
	List() []storage.TenantConfig
	Count() int
}
