package api

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/linetrace-io/linetrace/internal/flatten"
	"github.com/linetrace-io/linetrace/internal/storage"
)

// handleFlatten runs the product-scoped traceability flatten.
func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	// An empty product_ids list is a valid boundary; the flattener
	// answers it with an empty envelope.
	productIDs := splitNonEmpty(r.URL.Query().Get("product_ids"))

	profile, problem := s.flattenProfile(r, tenantID)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	result, err := s.deps.Flatten.ByProducts(r.Context(), tenantID, profile, productIDs)
	if err != nil {
		s.writeFlattenError(w, r, err)

		return
	}

	s.writeFlattenResult(w, r, result)
}

// handleFlattenMonthly runs the month-scoped flatten.
func (s *Server) handleFlattenMonthly(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	year := queryInt(r, "year", 0)
	month := queryInt(r, "month", 0)

	if year <= 0 || month < 1 || month > 12 {
		WriteErrorResponse(w, r, s.logger,
			BadRequest("year and month are required; month must be 1-12").
				WithErrorCode("E_INVALID_MONTH"))

		return
	}

	profile, problem := s.flattenProfile(r, tenantID)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	result, err := s.deps.Flatten.ByMonth(r.Context(), tenantID, profile, year, month)
	if err != nil {
		s.writeFlattenError(w, r, err)

		return
	}

	s.writeFlattenResult(w, r, result)
}

// handleFlattenHealth reports the flattener's caps so clients can size
// their requests.
func (s *Server) handleFlattenHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "healthy",
		"caps":   s.deps.Flatten.Caps(),
	})
}

// flattenProfile resolves the output-map profile: an explicit query
// param wins, otherwise the tenant's configured profile applies.
func (s *Server) flattenProfile(r *http.Request, tenantID string) (string, *ProblemDetail) {
	if profile := strings.TrimSpace(r.URL.Query().Get("profile")); profile != "" {
		return profile, nil
	}

	if s.deps.Tenants == nil {
		return "", nil
	}

	tenant, err := s.deps.Tenants.GetByID(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrTenantNotFound) {
			return "", nil
		}

		s.logger.Error("failed to load tenant settings", "tenant_id", tenantID, "error", err.Error())

		return "", InternalServerError("Failed to load tenant settings")
	}

	return tenant.Settings.FlattenOutputMap, nil
}

// writeFlattenResult writes the envelope, gzip-encoding the body when
// the flattener decided the row count warrants it.
func (s *Server) writeFlattenResult(w http.ResponseWriter, r *http.Request, result *flatten.Result) {
	if result.Metadata.Compression == "none" || result.Metadata.Compression == "" {
		s.writeJSON(w, r, http.StatusOK, result)

		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to encode flatten result", "error", err.Error())

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(http.StatusOK)

	gz := gzip.NewWriter(w)

	if _, err := gz.Write(data); err != nil {
		s.logResponseError(r, err)

		return
	}

	if err := gz.Close(); err != nil {
		s.logResponseError(r, err)
	}
}

func (s *Server) writeFlattenError(w http.ResponseWriter, r *http.Request, err error) {
	var problem *ProblemDetail

	switch {
	case errors.Is(err, flatten.ErrTooManyProductIDs):
		problem = BadRequest(err.Error()).WithErrorCode("E_TOO_MANY_PRODUCT_IDS")
	case errors.Is(err, flatten.ErrInvalidMonth):
		problem = BadRequest("year and month must name a valid calendar month").
			WithErrorCode("E_INVALID_MONTH")
	case errors.Is(err, flatten.ErrUnknownProfile):
		problem = BadRequest(err.Error()).WithErrorCode("E_UNKNOWN_PROFILE")
	case errors.Is(err, flatten.ErrResultTooLarge):
		problem = PayloadTooLarge("The flattened result exceeds the row cap; narrow the request").
			WithErrorCode("E_RESULT_TOO_LARGE")
	default:
		s.logger.Error("flatten failed", "path", r.URL.Path, "error", err.Error())

		problem = InternalServerError("Flatten failed")
	}

	WriteErrorResponse(w, r, s.logger, problem)
}

func splitNonEmpty(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}
