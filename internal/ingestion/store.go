package ingestion

import (
	"context"
	"errors"
)

var (
	// ErrStatusConflict indicates a compare-and-swap status update lost to
	// a concurrent writer. The state machine in the job store is the
	// authority under concurrency; callers reload the job and re-decide.
	ErrStatusConflict = errors.New("job status changed concurrently")

	// ErrJobNotFound indicates the job does not exist for the tenant.
	ErrJobNotFound = errors.New("job not found")
)

type (
	// JobStore persists jobs, their files, and their staging rows.
	// Implemented by storage.JobStore (PostgreSQL).
	JobStore interface {
		CreateJob(ctx context.Context, job *Job, files []*File) error
		ListJobFiles(ctx context.Context, jobID string) ([]*File, error)
		GetJob(ctx context.Context, tenantID, jobID string) (*Job, error)
		ListJobs(ctx context.Context, tenantID string, page, pageSize int) ([]*Job, int, error)

		// TransitionJob compare-and-swaps the job status from → to.
		// Returns ErrStatusConflict when the stored status is not `from`.
		TransitionJob(ctx context.Context, jobID string, from, to JobStatus) error

		// UpdateJobCounters refreshes progress, total_rows, and error_count
		// without touching the status.
		UpdateJobCounters(ctx context.Context, jobID string, progress, totalRows, errorCount int) error

		// SetJobResult records a terminal outcome: status, error tally, and
		// the error_summary payload (nil outside FAILED and batch rejects).
		SetJobResult(ctx context.Context, jobID string, status JobStatus, errorCount int, summary map[string]any) error

		InsertStagingRows(ctx context.Context, rows []*StagingRow) error
		ListStagingRows(ctx context.Context, jobID string) ([]*StagingRow, error)
		UpdateStagingErrors(ctx context.Context, rows []*StagingRow) error

		// ListRowErrors pages through {row_index, field, error_code, message}
		// for staging rows whose errors_json is non-null.
		ListRowErrors(ctx context.Context, jobID string, page, pageSize int) ([]*JobRowError, int, error)

		// CommittedFileExists reports whether a file with this digest was
		// already part of a COMPLETED job for (tenant, table).
		CommittedFileExists(ctx context.Context, tenantID string, tableCode TableCode, sha256 string) (bool, error)
	}

	// RecordWriter persists a CommitSet in a single transaction. A unique
	// constraint hit surfaces as *UniqueViolationError; any failure rolls
	// back the whole set.
	RecordWriter interface {
		CommitRecords(ctx context.Context, set *CommitSet) error
	}

	// TenantSettings exposes per-tenant validation toggles.
	TenantSettings interface {
		// LineageChecksEnabled reports whether the advisory cross-table
		// parent checks run for the tenant during validation.
		LineageChecksEnabled(ctx context.Context, tenantID string) (bool, error)
	}

	// BlobStore holds uploaded file bytes between upload and parsing.
	BlobStore interface {
		Put(ctx context.Context, ref string, data []byte) error
		Get(ctx context.Context, ref string) ([]byte, error)
		Delete(ctx context.Context, ref string) error
	}

	// JobRowError is one line of the paged per-row error report.
	JobRowError struct {
		RowIndex int       `json:"row_index"`
		Field    string    `json:"field"`
		Code     ErrorCode `json:"error_code"`
		Message  string    `json:"message"`
		Value    string    `json:"value,omitempty"`
	}
)
