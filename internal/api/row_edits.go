package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/linetrace-io/linetrace/internal/api/middleware"
	"github.com/linetrace-io/linetrace/internal/storage"
)

type applyEditRequest struct {
	Field    string `json:"field"`
	NewValue string `json:"new_value"`
}

// handleApplyEdit applies one inline field edit to a committed record.
// The change lands in the record's row_data payload and the audit trail
// in a single transaction; lifted search columns are not editable.
func (s *Server) handleApplyEdit(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	var req applyEditRequest

	if problem := decodeJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	req.Field = strings.TrimSpace(req.Field)
	if req.Field == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("field is required"))

		return
	}

	edit := &storage.RowEdit{
		TenantID:  tenantID,
		TableCode: r.PathValue("table_code"),
		RecordID:  r.PathValue("record_id"),
		Field:     req.Field,
		NewValue:  req.NewValue,
		EditedBy:  editActor(r),
	}

	if err := s.deps.Edits.ApplyRowEdit(r.Context(), edit); err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidEditTable):
			WriteErrorResponse(w, r, s.logger, BadRequest("table_code must be P1, P2, or P3"))
		case errors.Is(err, storage.ErrRecordNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound("Record not found"))
		default:
			s.logger.Error("row edit failed",
				"record_id", edit.RecordID,
				"field", edit.Field,
				"error", err.Error(),
			)

			WriteErrorResponse(w, r, s.logger, InternalServerError("Row edit failed"))
		}

		return
	}

	s.writeJSON(w, r, http.StatusCreated, edit)
}

// handleListEdits returns a record's edit history, oldest first.
func (s *Server) handleListEdits(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	edits, err := s.deps.Edits.ListRowEdits(r.Context(), tenantID, r.PathValue("record_id"))
	if err != nil {
		s.logger.Error("failed to list row edits",
			"record_id", r.PathValue("record_id"),
			"error", err.Error(),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list row edits"))

		return
	}

	if edits == nil {
		edits = []*storage.RowEdit{}
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"edits": edits})
}

// editActor identifies who made the edit: the API key identity when
// authenticated, otherwise anonymous.
func editActor(r *http.Request) string {
	tenantCtx, ok := middleware.GetTenantContext(r.Context())
	if !ok {
		return "anonymous"
	}

	if tenantCtx.Label != "" {
		return tenantCtx.Label
	}

	if tenantCtx.KeyID != "" {
		return tenantCtx.KeyID
	}

	return "anonymous"
}
