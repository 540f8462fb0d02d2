package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/linetrace-io/linetrace/internal/query"
	"github.com/linetrace-io/linetrace/internal/storage"
)

const dateParamLayout = "2006-01-02"

// handleSearchRecords serves both the simple and the advanced record
// search; the advanced route just accepts more filters, so one handler
// covers both.
func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	req, problem := parseSearchRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	result, err := s.deps.Queries.Search(r.Context(), tenantID, *req)
	if err != nil {
		if errors.Is(err, query.ErrInvalidDataType) {
			WriteErrorResponse(w, r, s.logger, BadRequest("data_type must be P1, P2, or P3"))

			return
		}

		s.writeQueryError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, result)
}

func parseSearchRequest(r *http.Request) (*query.SearchRequest, *ProblemDetail) {
	values := r.URL.Query()
	page, pageSize := pageParams(r)

	req := &query.SearchRequest{
		LotNo:         strings.TrimSpace(values.Get("lot_no")),
		DataType:      strings.TrimSpace(values.Get("data_type")),
		MachineNo:     strings.TrimSpace(values.Get("machine_no")),
		MoldNo:        strings.TrimSpace(values.Get("mold_no")),
		Specification: strings.TrimSpace(values.Get("specification")),
		BottomTapeLot: strings.TrimSpace(values.Get("bottom_tape_lot")),
		ProductID:     strings.TrimSpace(values.Get("product_id")),
		Page:          page,
		PageSize:      pageSize,
	}

	var problem *ProblemDetail

	if req.DateFrom, problem = parseDateParam(values.Get("production_date_from"), "production_date_from"); problem != nil {
		return nil, problem
	}

	if req.DateTo, problem = parseDateParam(values.Get("production_date_to"), "production_date_to"); problem != nil {
		return nil, problem
	}

	if raw := strings.TrimSpace(values.Get("winder_number")); raw != "" {
		winder, err := strconv.Atoi(raw)
		if err != nil || winder < 1 {
			return nil, BadRequest("winder_number must be a positive integer")
		}

		req.WinderNumber = &winder
	}

	return req, nil
}

func parseDateParam(raw, name string) (*time.Time, *ProblemDetail) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	parsed, err := time.Parse(dateParamLayout, raw)
	if err != nil {
		return nil, BadRequest(fmt.Sprintf("%s must be formatted as YYYY-MM-DD", name))
	}

	return &parsed, nil
}

// handleTrace returns the full cross-process detail for one trace key.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	detail, err := s.deps.Queries.Trace(r.Context(), tenantID, r.PathValue("trace_key"))
	if err != nil {
		if errors.Is(err, query.ErrInvalidTraceKey) {
			WriteErrorResponse(w, r, s.logger, BadRequest("trace_key is not a recognizable lot number"))

			return
		}

		s.writeQueryError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, detail)
}

// handleLotSuggestions returns typeahead lot number completions.
func (s *Server) handleLotSuggestions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	term := strings.TrimSpace(r.URL.Query().Get("term"))
	limit := queryInt(r, "limit", 10)

	suggestions, err := s.deps.Queries.Suggestions(r.Context(), tenantID, term, limit)
	if err != nil {
		s.writeQueryError(w, r, err)

		return
	}

	if suggestions == nil {
		suggestions = []string{}
	}

	s.writeJSON(w, r, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

// handleOptions returns the distinct values of a filterable field.
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	field := r.PathValue("field")

	options, err := s.deps.Queries.Options(r.Context(), tenantID, field)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownOptionField) {
			WriteErrorResponse(w, r, s.logger,
				BadRequest(fmt.Sprintf("%q is not a filterable field", field)))

			return
		}

		s.writeQueryError(w, r, err)

		return
	}

	if options == nil {
		options = []string{}
	}

	s.writeJSON(w, r, http.StatusOK, map[string][]string{"options": options})
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("query failed", "path", r.URL.Path, "error", err.Error())

	WriteErrorResponse(w, r, s.logger, InternalServerError("Query failed"))
}
