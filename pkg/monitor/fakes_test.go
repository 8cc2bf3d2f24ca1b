package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/0xmhha/tokenwatch/internal/testutil"
	"github.com/0xmhha/tokenwatch/pkg/chain"
	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/0xmhha/tokenwatch/pkg/notify"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/0xmhha/tokenwatch/pkg/tenant"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errNode = &chain.Error{Op: "test", Kind: chain.ErrConnection, Err: errors.New("node unreachable")}

// fakeChain serves scripted heights and logs.
type fakeChain struct {
	mu sync.Mutex

	height       uint64
	heightErr    error
	healthy      bool
	reconnectErr error
	reconnects   int
	fetchErrs    []error
	logs         []types.Log
	queries      []chain.BlockRange
	lastAddress  common.Address
	lastTopic    common.Hash
}

func newFakeChain(height uint64) *fakeChain {
	return &fakeChain{height: height, healthy: true}
}

func (f *fakeChain) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func (f *fakeChain) addLogs(logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs...)
}

func (f *fakeChain) failNextFetch(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErrs = append(f.fetchErrs, err)
}

func (f *fakeChain) IsHealthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeChain) Reconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.healthy = true
	return nil
}

func (f *fakeChain) CurrentHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeChain) FetchLogs(ctx context.Context, address common.Address, topic common.Hash, r chain.BlockRange) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, r)
	f.lastAddress = address
	f.lastTopic = topic

	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return nil, err
	}

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= r.From && l.BlockNumber <= r.To {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChain) Queries() []chain.BlockRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.BlockRange(nil), f.queries...)
}

// memStore keeps saved state in memory and can be told to fail.
type memStore struct {
	mu      sync.Mutex
	state   *storage.MonitorState
	saves   int
	tenants map[string]storage.TenantConfig
	failErr error
}

func newMemStore() *memStore {
	return &memStore{tenants: make(map[string]storage.TenantConfig)}
}

func (s *memStore) SaveState(ctx context.Context, state storage.MonitorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.saves++
	s.state = &state
	return nil
}

func (s *memStore) SaveTenant(ctx context.Context, t storage.TenantConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.tenants[t.TenantID] = t
	return nil
}

func (s *memStore) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *memStore) saved() (storage.MonitorState, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return storage.MonitorState{}, s.saves
	}
	return *s.state, s.saves
}

type delivery struct {
	Destination storage.Destination
	Block       uint64
	Name        string
}

// recorder is a Deliverer that records every call.
type recorder struct {
	mu    sync.Mutex
	calls []delivery
}

func (r *recorder) Type() string { return "recorder" }

func (r *recorder) Deliver(ctx context.Context, dest storage.Destination, p *notify.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, delivery{Destination: dest, Block: p.BlockNumber, Name: p.Name})
	return nil
}

func (r *recorder) Calls() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.calls...)
}

func (r *recorder) CallsTo(dest storage.Destination) []delivery {
	var out []delivery
	for _, c := range r.Calls() {
		if c.Destination == dest {
			out = append(out, c)
		}
	}
	return out
}

// harness wires a real decoder, registry and dispatcher around the fakes.
type harness struct {
	engine   *Engine
	chain    *fakeChain
	store    *memStore
	tenants  *tenant.Registry
	recorder *recorder
	registry *prometheus.Registry
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ContractAddress = testutil.ContractAddress
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.PersistEvery = 1
	cfg.IOTimeout = 5 * time.Second
	return cfg
}

func newHarness(t *testing.T, cfg *Config, height uint64, initial storage.MonitorState) *harness {
	t.Helper()

	fc := newFakeChain(height)
	store := newMemStore()
	registry := tenant.NewRegistry(store, zap.NewNop())
	rec := &recorder{}
	decoder, err := events.NewDecoder()
	require.NoError(t, err)
	reg := prometheus.NewRegistry()

	e, err := NewEngine(cfg, Deps{
		Chain:      fc,
		Decoder:    decoder,
		Dispatcher: notify.NewDispatcher(registry, rec, 4, zap.NewNop()),
		Store:      store,
		Tenants:    registry,
		Registerer: reg,
	}, initial, zap.NewNop())
	require.NoError(t, err)

	return &harness{engine: e, chain: fc, store: store, tenants: registry, recorder: rec, registry: reg}
}

// addTenant configures an enabled tenant with a destination.
func (h *harness) addTenant(t *testing.T, id string, dest storage.Destination) {
	t.Helper()
	_, err := h.tenants.SetDestination(context.Background(), id, dest)
	require.NoError(t, err)
}

func checkpointAt(block uint64) storage.MonitorState {
	return storage.MonitorState{GlobalEnabled: true}.WithCheckpoint(block)
}

func tokenLog(t *testing.T, block uint64, index uint, name string) types.Log {
	t.Helper()
	l := testutil.DefaultTokenLog(block)
	l.Index = index
	l.Name = name
	return testutil.NewTokenCreatedLog(t, l)
}

func requireCheckpoint(t *testing.T, e *Engine, want uint64) {
	t.Helper()
	got, ok := e.Checkpoint()
	require.True(t, ok, "checkpoint should be set")
	require.Equal(t, want, got)
}
