package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/0xmhha/tokenwatch/pkg/events"
	"github.com/0xmhha/tokenwatch/pkg/notify"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/0xmhha/tokenwatch/pkg/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), 20, checkpointAt(10))

	st := h.engine.GetStatus("unknown")
	assert.True(t, st.GlobalEnabled)
	assert.True(t, st.TenantEnabled)
	assert.Equal(t, storage.Destination(""), st.Destination)
	require.NotNil(t, st.LastCheckedBlock)
	assert.Equal(t, uint64(10), *st.LastCheckedBlock)
	assert.Equal(t, 0, st.TenantCount)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, HealthOK, st.Health)

	_, err := h.engine.SetDestination(ctx, "guild-1", "chan-1")
	require.NoError(t, err)
	enabled, err := h.engine.ToggleEnabled(ctx, "guild-1")
	require.NoError(t, err)
	assert.False(t, enabled)

	st = h.engine.GetStatus("guild-1")
	assert.False(t, st.TenantEnabled)
	assert.Equal(t, storage.Destination("chan-1"), st.Destination)
	assert.Equal(t, 1, st.TenantCount)
	assert.Len(t, h.engine.Tenants(), 1)
	assert.Equal(t, "guild-1", h.engine.Tenant("guild-1").TenantID)
}

func TestGetStatus_UnsetCheckpoint(t *testing.T) {
	h := newHarness(t, testConfig(), 20, storage.DefaultSnapshot().State)
	assert.Nil(t, h.engine.GetStatus("x").LastCheckedBlock)
}

func TestControl_FailedPersistIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, testConfig(), 20, checkpointAt(10))
	_, err := h.engine.SetDestination(ctx, "guild-1", "chan-1")
	require.NoError(t, err)

	h.store.setFail(errors.New("disk full"))

	_, err = h.engine.SetDestination(ctx, "guild-1", "chan-2")
	assert.Error(t, err)
	_, err = h.engine.ToggleEnabled(ctx, "guild-1")
	assert.Error(t, err)

	st := h.engine.GetStatus("guild-1")
	assert.Equal(t, storage.Destination("chan-1"), st.Destination)
	assert.True(t, st.TenantEnabled)
}

func TestControl_EmptyTenantID(t *testing.T) {
	h := newHarness(t, testConfig(), 20, checkpointAt(10))
	_, err := h.engine.SetDestination(context.Background(), "", "chan")
	assert.ErrorIs(t, err, tenant.ErrInvalidTenantID)
}

// TestEngine_RestartFromFileStore runs the engine against the JSON state file
// and checks a second engine resumes from the saved checkpoint and tenants.
func TestEngine_RestartFromFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token_monitor.json")

	build := func(fc *fakeChain, rec *recorder) (*Engine, *storage.FileStore) {
		store, err := storage.NewFileStore(path, zap.NewNop())
		require.NoError(t, err)
		snap, err := store.Load(ctx)
		require.NoError(t, err)

		registry := tenant.NewRegistry(store, zap.NewNop())
		registry.Load(snap.Tenants)
		decoder, err := events.NewDecoder()
		require.NoError(t, err)

		e, err := NewEngine(testConfig(), Deps{
			Chain:      fc,
			Decoder:    decoder,
			Dispatcher: notify.NewDispatcher(registry, rec, 2, nil),
			Store:      store,
			Tenants:    registry,
		}, snap.State, nil)
		require.NoError(t, err)
		return e, store
	}

	fc := newFakeChain(5000)
	rec := &recorder{}
	e, store := build(fc, rec)
	require.NoError(t, e.Prepare(ctx))
	_, err := e.SetDestination(ctx, "guild-1", "123456789")
	require.NoError(t, err)

	fc.addLogs(tokenLog(t, 5001, 0, "Persisted"))
	fc.setHeight(5002)
	require.Equal(t, OutcomeCommitted, e.RunCycle(ctx).Outcome)
	require.NoError(t, store.Close())

	fc2 := newFakeChain(5003)
	rec2 := &recorder{}
	e2, _ := build(fc2, rec2)
	require.NoError(t, e2.Prepare(ctx))
	requireCheckpoint(t, e2, 5002)
	assert.Equal(t, storage.Destination("123456789"), e2.GetStatus("guild-1").Destination)

	e2.RunCycle(ctx)
	assert.Equal(t, uint64(5003), fc2.Queries()[0].From)
	assert.Len(t, rec.Calls(), 1)
	assert.Empty(t, rec2.Calls())
}
