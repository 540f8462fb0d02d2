package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

type (
	// HealthStatus is the /health response body.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"service_name"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}
)

// setupRoutes registers all HTTP routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints, outside the protected prefix.
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("/", s.handleNotFound)

	// Ingestion.
	mux.HandleFunc("POST /api/import/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/import/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/import/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/import/jobs/{id}/errors", s.handleListJobErrors)
	mux.HandleFunc("POST /api/import/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /api/import/jobs/{id}/commit", s.handleCommitJob)

	// Query.
	mux.HandleFunc("GET /api/query/records", s.handleSearchRecords)
	mux.HandleFunc("GET /api/query/records/advanced", s.handleSearchRecords)
	mux.HandleFunc("GET /api/query/trace/{trace_key}", s.handleTrace)
	mux.HandleFunc("POST /api/query/records/{table_code}/{record_id}/edits", s.handleApplyEdit)
	mux.HandleFunc("GET /api/query/records/{table_code}/{record_id}/edits", s.handleListEdits)
	mux.HandleFunc("GET /api/query/lots/suggestions", s.handleLotSuggestions)
	mux.HandleFunc("GET /api/query/options/{field}", s.handleOptions)

	// Flattener.
	mux.HandleFunc("GET /api/analytics/traceability/flatten", s.handleFlatten)
	mux.HandleFunc("GET /api/analytics/traceability/flatten/monthly", s.handleFlattenMonthly)
	mux.HandleFunc("GET /api/analytics/traceability/health", s.handleFlattenHealth)

	// Tenant / auth administration.
	mux.HandleFunc("GET /api/tenants", s.handleListTenants)
	mux.HandleFunc("POST /api/tenants", s.handleCreateTenant)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/users", s.handleCreateUser)
}

// handlePing responds to liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logResponseError(r, err)
	}
}

// handleHealth returns service status, version, and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: "linetrace",
		Version:     serviceVersion,
		Uptime:      uptime,
	})
}

// handleReady responds to readiness probes after checking the database.
// Returns 503 while storage is unreachable so the pod stops receiving
// traffic until it recovers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")

	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.deps.Health.HealthCheck(ctx); err != nil {
			s.logger.Error("storage health check failed",
				slog.String("error", err.Error()),
			)

			w.WriteHeader(http.StatusServiceUnavailable)

			if _, err := w.Write([]byte("storage unavailable")); err != nil {
				s.logResponseError(r, err)
			}

			return
		}
	}

	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("ready")); err != nil {
		s.logResponseError(r, err)
	}
}

// handleNotFound returns RFC 7807 404 responses for unknown paths.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals and writes a JSON response body.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to encode response",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logResponseError(r, err)
	}
}

func (s *Server) logResponseError(r *http.Request, err error) {
	s.logger.Error("failed to write response",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.String("error", err.Error()),
	)
}
