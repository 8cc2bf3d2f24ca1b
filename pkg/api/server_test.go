package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	apimiddleware "github.com/0xmhha/tokenwatch/pkg/api/middleware"
	"github.com/0xmhha/tokenwatch/pkg/monitor"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/0xmhha/tokenwatch/pkg/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeController is an in-memory Controller.
type fakeController struct {
	mu         sync.Mutex
	tenants    map[string]storage.TenantConfig
	global     bool
	health     monitor.Health
	checkpoint *uint64
	failures   int
	lastErr    error
	saveErr    error
}

func newFakeController() *fakeController {
	cp := uint64(1003)
	return &fakeController{
		tenants:    make(map[string]storage.TenantConfig),
		global:     true,
		health:     monitor.HealthOK,
		checkpoint: &cp,
	}
}

func (f *fakeController) get(id string) storage.TenantConfig {
	if t, ok := f.tenants[id]; ok {
		return t
	}
	return storage.DefaultTenant(id)
}

func (f *fakeController) GetStatus(id string) monitor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.get(id)
	return monitor.Status{
		GlobalEnabled:    f.global,
		TenantEnabled:    t.Enabled,
		Destination:      t.Destination,
		LastCheckedBlock: f.checkpoint,
		TenantCount:      len(f.tenants),
		State:            monitor.StateSleeping,
		Health:           f.health,
	}
}

func (f *fakeController) Tenants() []storage.TenantConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.TenantConfig
	for _, t := range f.tenants {
		out = append(out, t)
	}
	return out
}

func (f *fakeController) SetDestination(ctx context.Context, id string, dest storage.Destination) (storage.TenantConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == "" {
		return storage.TenantConfig{}, tenant.ErrInvalidTenantID
	}
	if f.saveErr != nil {
		return f.get(id), f.saveErr
	}
	t := f.get(id)
	t.Destination = dest
	f.tenants[id] = t
	return t, nil
}

func (f *fakeController) ToggleEnabled(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.get(id)
	if f.saveErr != nil {
		return t.Enabled, f.saveErr
	}
	t.Enabled = !t.Enabled
	f.tenants[id] = t
	return t.Enabled, nil
}

func (f *fakeController) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.global = enabled
	return nil
}

func (f *fakeController) Health() monitor.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeController) State() monitor.State { return monitor.StateSleeping }

func (f *fakeController) Checkpoint() (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkpoint == nil {
		return 0, false
	}
	return *f.checkpoint, true
}

func (f *fakeController) ConsecutiveFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures
}

func (f *fakeController) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeController) LastCycleAt() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }

func newTestServer(t *testing.T, cfg *Config, ctrl Controller, reg *prometheus.Registry) *Server {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var gatherer prometheus.Gatherer
	if reg != nil {
		gatherer = reg
	}
	s, err := NewServer(cfg, ctrl, gatherer, zap.NewNop())
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(DefaultConfig(), nil, nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.EnableRateLimit = true
	cfg.RateLimitPerSecond = 0
	_, err = NewServer(cfg, newFakeController(), nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(t, nil, ctrl, nil)

	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	decode(t, rec, &body)
	assert.Equal(t, monitor.HealthOK, body.Status)
	require.NotNil(t, body.LastCheckedBlock)
	assert.Equal(t, uint64(1003), *body.LastCheckedBlock)
	assert.Equal(t, "2025-03-01T00:00:00Z", body.LastCycleAt)

	ctrl.health = monitor.HealthDegraded
	ctrl.failures = 7
	ctrl.lastErr = errors.New("node unreachable")

	rec = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, monitor.HealthDegraded, body.Status)
	assert.Equal(t, 7, body.ConsecutiveFailures)
	assert.Equal(t, "node unreachable", body.LastError)
}

func TestStatus(t *testing.T) {
	ctrl := newFakeController()
	ctrl.tenants["guild-1"] = storage.TenantConfig{TenantID: "guild-1", Destination: "https://hooks.example.com/x", Enabled: false}
	s := newTestServer(t, nil, ctrl, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/status?tenant=guild-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var st monitor.Status
	decode(t, rec, &st)
	assert.True(t, st.GlobalEnabled)
	assert.False(t, st.TenantEnabled)
	assert.Equal(t, storage.Destination("https://hooks.example.com/x"), st.Destination)
	assert.Equal(t, 1, st.TenantCount)

	rec = do(t, s, http.MethodGet, "/api/v1/tenants/guild-2", "")
	decode(t, rec, &st)
	assert.True(t, st.TenantEnabled)
	assert.False(t, st.Destination.IsSet())
}

func TestListTenants(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(t, nil, ctrl, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/tenants", "")
	assert.JSONEq(t, `{"total_count":0,"tenants":[]}`, rec.Body.String())

	ctrl.tenants["a"] = storage.TenantConfig{TenantID: "a", Destination: "123", Enabled: true}
	rec = do(t, s, http.MethodGet, "/api/v1/tenants", "")
	assert.JSONEq(t, `{"total_count":1,"tenants":[{"tenant_id":"a","destination":123,"enabled":true}]}`, rec.Body.String())
}

func TestSetDestination(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(t, nil, ctrl, nil)

	rec := do(t, s, http.MethodPut, "/api/v1/tenants/guild-1/destination", `{"destination":"https://hooks.example.com/a"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, storage.Destination("https://hooks.example.com/a"), ctrl.tenants["guild-1"].Destination)

	// numeric handles are accepted as numbers
	rec = do(t, s, http.MethodPut, "/api/v1/tenants/guild-1/destination", `{"destination":111222333444555666}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, storage.Destination("111222333444555666"), ctrl.tenants["guild-1"].Destination)

	rec = do(t, s, http.MethodPut, "/api/v1/tenants/guild-1/destination", `{"destination":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ctrl.tenants["guild-1"].Destination.IsSet())
}

func TestSetDestination_BadRequests(t *testing.T) {
	s := newTestServer(t, nil, newFakeController(), nil)

	for _, body := range []string{"", "{", `{"destination":true}`, `{"dest":"x"}`} {
		rec := do(t, s, http.MethodPut, "/api/v1/tenants/guild-1/destination", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestSetDestination_PersistenceFailure(t *testing.T) {
	ctrl := newFakeController()
	ctrl.saveErr = fmt.Errorf("wrap: %w", storage.ErrPersistence)
	s := newTestServer(t, nil, ctrl, nil)

	rec := do(t, s, http.MethodPut, "/api/v1/tenants/guild-1/destination", `{"destination":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body apimiddleware.ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, "persistence_failed", body.Error)
	assert.Empty(t, ctrl.tenants)
}

func TestToggle(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(t, nil, ctrl, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/guild-1/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ToggleResponse
	decode(t, rec, &resp)
	assert.Equal(t, ToggleResponse{TenantID: "guild-1", Enabled: false}, resp)

	rec = do(t, s, http.MethodPost, "/api/v1/tenants/guild-1/toggle", "")
	decode(t, rec, &resp)
	assert.True(t, resp.Enabled)

	ctrl.saveErr = errors.New("unexpected")
	rec = do(t, s, http.MethodPost, "/api/v1/tenants/guild-1/toggle", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSetGlobalEnabled(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(t, nil, ctrl, nil)

	rec := do(t, s, http.MethodPut, "/api/v1/monitor/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ctrl.global)

	var st monitor.Status
	decode(t, rec, &st)
	assert.False(t, st.GlobalEnabled)

	rec = do(t, s, http.MethodPut, "/api/v1/monitor/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMutatingRoutesRequireAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "s3cret"
	ctrl := newFakeController()
	s := newTestServer(t, cfg, ctrl, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/tenants/guild-1/toggle", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ctrl.tenants)

	rec = do(t, s, http.MethodPost, "/api/v1/tenants/guild-1/toggle", "", apimiddleware.APIKeyHeader, "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// reads stay open
	rec = do(t, s, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitedServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableRateLimit = true
	cfg.RateLimitPerSecond = 1
	cfg.RateLimitBurst = 2
	s := newTestServer(t, cfg, newFakeController(), nil)
	defer s.Stop(context.Background())

	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, s, http.MethodGet, "/api/v1/status", "").Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tokenwatch_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newTestServer(t, nil, newFakeController(), reg)
	rec := do(t, s, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tokenwatch_test_total 1"))
}

func TestServeAndStop(t *testing.T) {
	s := newTestServer(t, nil, newFakeController(), nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(listener) }()

	url := "http://" + listener.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.NoError(t, <-done)
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)), cfg.Address())

	cfg.Host = "::1"
	cfg.Port = 9090
	assert.Equal(t, "[::1]:9090", cfg.Address())

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"negative port", func(c *Config) { c.Port = -1 }},
		{"port too large", func(c *Config) { c.Port = 70000 }},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }},
		{"zero rate", func(c *Config) { c.EnableRateLimit = true; c.RateLimitPerSecond = 0 }},
		{"zero burst", func(c *Config) { c.EnableRateLimit = true; c.RateLimitBurst = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			assert.Error(t, c.Validate())
		})
	}
}
