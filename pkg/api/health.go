package api

import (
	"net/http"
	"time"

	"github.com/0xmhha/tokenwatch/pkg/monitor"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status              monitor.Health `json:"status"`
	State               monitor.State  `json:"state"`
	LastCheckedBlock    *uint64        `json:"last_checked_block"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastError           string         `json:"last_error,omitempty"`
	LastCycleAt         string         `json:"last_cycle_at,omitempty"`
	Uptime              string         `json:"uptime"`
	Timestamp           string         `json:"timestamp"`
}

// handleHealth answers 200 while the monitor is healthy and 503 once it is
// degraded or stopped.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.controller.Health()

	resp := HealthResponse{
		Status:              health,
		State:               s.controller.State(),
		ConsecutiveFailures: s.controller.ConsecutiveFailures(),
		Uptime:              time.Since(s.startedAt).Round(time.Second).String(),
		Timestamp:           time.Now().UTC().Format(time.RFC3339),
	}
	if cp, ok := s.controller.Checkpoint(); ok {
		resp.LastCheckedBlock = &cp
	}
	if err := s.controller.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if at := s.controller.LastCycleAt(); !at.IsZero() {
		resp.LastCycleAt = at.UTC().Format(time.RFC3339)
	}

	status := http.StatusOK
	if health != monitor.HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
