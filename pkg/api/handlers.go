package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apimiddleware "github.com/0xmhha/tokenwatch/pkg/api/middleware"
	"github.com/0xmhha/tokenwatch/pkg/storage"
	"github.com/0xmhha/tokenwatch/pkg/tenant"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxBodyBytes bounds control request bodies.
const maxBodyBytes = 4 << 10

// TenantsResponse is the body of GET /api/v1/tenants.
type TenantsResponse struct {
	TotalCount int                    `json:"total_count"`
	Tenants    []storage.TenantConfig `json:"tenants"`
}

// DestinationRequest is the body of PUT /api/v1/tenants/{id}/destination.
// A null destination clears it.
type DestinationRequest struct {
	Destination storage.Destination `json:"destination"`
}

// ToggleResponse is the body returned by POST /api/v1/tenants/{id}/toggle.
type ToggleResponse struct {
	TenantID string `json:"tenant_id"`
	Enabled  bool   `json:"enabled"`
}

// EnabledRequest is the body of PUT /api/v1/monitor/enabled.
type EnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleStatus reports the monitor status, scoped to ?tenant= when given.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.GetStatus(r.URL.Query().Get("tenant")))
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := s.controller.Tenants()
	if tenants == nil {
		tenants = []storage.TenantConfig{}
	}
	writeJSON(w, http.StatusOK, TenantsResponse{TotalCount: len(tenants), Tenants: tenants})
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.GetStatus(chi.URLParam(r, "id")))
}

func (s *Server) handleSetDestination(w http.ResponseWriter, r *http.Request) {
	var req DestinationRequest
	if !decodeBody(w, r, &req) {
		return
	}

	t, err := s.controller.SetDestination(r.Context(), chi.URLParam(r, "id"), req.Destination)
	if err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	enabled, err := s.controller.ToggleEnabled(r.Context(), id)
	if err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{TenantID: id, Enabled: enabled})
}

func (s *Server) handleSetGlobalEnabled(w http.ResponseWriter, r *http.Request) {
	var req EnabledRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		apimiddleware.WriteError(w, http.StatusBadRequest, "invalid_request", "enabled is required")
		return
	}

	if err := s.controller.SetGlobalEnabled(r.Context(), *req.Enabled); err != nil {
		s.writeControlError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.GetStatus(""))
}

// writeControlError maps control operation errors to HTTP responses.
func (s *Server) writeControlError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenant.ErrInvalidTenantID):
		apimiddleware.WriteError(w, http.StatusBadRequest, "invalid_tenant", err.Error())
	case errors.Is(err, storage.ErrPersistence):
		s.logger.Error("control operation not persisted",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		apimiddleware.WriteError(w, http.StatusServiceUnavailable, "persistence_failed", "change was not saved")
	default:
		s.logger.Error("control operation failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		apimiddleware.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apimiddleware.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
