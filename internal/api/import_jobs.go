package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/linetrace-io/linetrace/internal/ingestion"
)

// multipartMemoryLimit bounds the in-memory portion of multipart
// parsing; larger parts spill to temp files.
const multipartMemoryLimit = 8 << 20

// jobListResponse is the paginated job list envelope.
type jobListResponse struct {
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Jobs     []*ingestion.Job `json:"jobs"`
}

// jobErrorListResponse is the paginated row-error envelope.
type jobErrorListResponse struct {
	Total    int                      `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
	Errors   []*ingestion.JobRowError `json:"errors"`
}

// handleCreateJob accepts a multipart upload (table_code,
// allow_duplicate, files) and starts an import job.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request body must be multipart/form-data"))

		return
	}

	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	tableCode := strings.TrimSpace(r.FormValue("table_code"))
	allowDuplicate := parseFormBool(r.FormValue("allow_duplicate"))

	files, problem := s.collectUploads(r.MultipartForm)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	job, err := s.deps.Imports.CreateJob(r.Context(), ingestion.CreateJobRequest{
		TenantID:       tenantID,
		TableCode:      tableCode,
		Files:          files,
		AllowDuplicate: allowDuplicate,
	})
	if err != nil {
		s.writeJobError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusCreated, job)
}

// collectUploads reads every uploaded file part, enforcing the per-file
// size cap. A file exactly at the cap is accepted; one byte over is
// rejected.
func (s *Server) collectUploads(form *multipart.Form) ([]ingestion.FileUpload, *ProblemDetail) {
	if form == nil {
		return nil, BadRequest("Request body must be multipart/form-data")
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}

	if len(headers) == 0 {
		return nil, BadRequest("At least one file is required under the files field")
	}

	maxBytes := s.config.MaxUploadBytes()
	uploads := make([]ingestion.FileUpload, 0, len(headers))

	for _, header := range headers {
		if header.Size > maxBytes {
			return nil, PayloadTooLarge(fmt.Sprintf(
				"File %q is %d bytes; the limit is %d MB",
				header.Filename, header.Size, s.config.MaxUploadSizeMB,
			)).WithErrorCode("E_FILE_TOO_LARGE")
		}

		content, problem := readUpload(header, maxBytes)
		if problem != nil {
			return nil, problem
		}

		uploads = append(uploads, ingestion.FileUpload{
			Filename: header.Filename,
			Content:  content,
		})
	}

	return uploads, nil
}

func readUpload(header *multipart.FileHeader, maxBytes int64) ([]byte, *ProblemDetail) {
	file, err := header.Open()
	if err != nil {
		return nil, BadRequest(fmt.Sprintf("Failed to open uploaded file %q", header.Filename))
	}

	defer func() { _ = file.Close() }()

	// Read one byte past the cap so an over-limit part with an
	// understated Content-Length header still gets caught.
	content, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, BadRequest(fmt.Sprintf("Failed to read uploaded file %q", header.Filename))
	}

	if int64(len(content)) > maxBytes {
		return nil, PayloadTooLarge(fmt.Sprintf(
			"File %q exceeds the %d byte limit", header.Filename, maxBytes,
		)).WithErrorCode("E_FILE_TOO_LARGE")
	}

	return content, nil
}

// handleListJobs returns the tenant's jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	page, pageSize := pageParams(r)

	jobs, total, err := s.deps.Imports.ListJobs(r.Context(), tenantID, page, pageSize)
	if err != nil {
		s.writeJobError(w, r, err)

		return
	}

	if jobs == nil {
		jobs = []*ingestion.Job{}
	}

	s.writeJSON(w, r, http.StatusOK, jobListResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Jobs:     jobs,
	})
}

// handleGetJob returns a single job with live progress.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	job, err := s.deps.Imports.GetJob(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		s.writeJobError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, job)
}

// handleListJobErrors returns a job's row-level validation errors.
func (s *Server) handleListJobErrors(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	page, pageSize := pageParams(r)

	rowErrors, total, err := s.deps.Imports.ListErrors(r.Context(), tenantID, r.PathValue("id"), page, pageSize)
	if err != nil {
		s.writeJobError(w, r, err)

		return
	}

	if rowErrors == nil {
		rowErrors = []*ingestion.JobRowError{}
	}

	s.writeJSON(w, r, http.StatusOK, jobErrorListResponse{
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Errors:   rowErrors,
	})
}

// handleCancelJob cancels a job that has not started committing.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	jobID := r.PathValue("id")

	if err := s.deps.Imports.Cancel(r.Context(), tenantID, jobID); err != nil {
		s.writeJobError(w, r, err)

		return
	}

	job, err := s.deps.Imports.GetJob(r.Context(), tenantID, jobID)
	if err != nil {
		s.writeJobError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, job)
}

// handleCommitJob promotes a READY job's staged rows into the
// production tables. force=true overrides lineage-only errors.
func (s *Server) handleCommitJob(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.requireTenant(w, r)
	if !ok {
		return
	}

	force := queryBool(r, "force")

	job, err := s.deps.Imports.Commit(r.Context(), tenantID, r.PathValue("id"), force)
	if err != nil {
		s.writeJobError(w, r, err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, job)
}

// writeJobError maps ingestion errors onto RFC 7807 responses.
func (s *Server) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	var problem *ProblemDetail

	switch {
	case errors.Is(err, ingestion.ErrJobNotFound):
		problem = NotFound("Import job not found")
	case errors.Is(err, ingestion.ErrJobNotCancellable):
		problem = Conflict("Job can no longer be cancelled").WithErrorCode("E_NOT_CANCELLABLE")
	case errors.Is(err, ingestion.ErrJobNotReady):
		problem = Conflict("Job is not in the READY state").WithErrorCode("E_NOT_READY")
	case errors.Is(err, ingestion.ErrStatusConflict):
		problem = Conflict("Job status changed concurrently; retry")
	case errors.Is(err, ingestion.ErrJobHasErrors):
		problem = UnprocessableEntity("Job has validation errors; fix the file or commit with force").
			WithErrorCode("E_HAS_ERRORS")
	case errors.Is(err, ingestion.ErrForceNotAllowed):
		problem = UnprocessableEntity("Force commit only overrides lineage errors").
			WithErrorCode("E_FORCE_NOT_ALLOWED")
	case errors.Is(err, ingestion.ErrInvalidTableCode):
		problem = BadRequest("Unknown table_code; expected P1, P2, or P3")
	case errors.Is(err, ingestion.ErrNoFiles):
		problem = BadRequest("At least one file is required")
	case errors.Is(err, ingestion.ErrFileTooLarge):
		problem = PayloadTooLarge("An uploaded file exceeds the size limit").
			WithErrorCode("E_FILE_TOO_LARGE")
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		problem = BadRequest("Unsupported file format; expected .csv or .xlsx")
	default:
		s.logger.Error("import operation failed", "path", r.URL.Path, "error", err.Error())

		problem = InternalServerError("Import operation failed")
	}

	WriteErrorResponse(w, r, s.logger, problem)
}

func parseFormBool(raw string) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))

	return raw == "true" || raw == "1" || raw == "yes"
}
