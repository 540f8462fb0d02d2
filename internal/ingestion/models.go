// Package ingestion provides the batch import domain: job lifecycle,
// file parsing, row validation, and the commit pipeline.
//
// A job moves through a strict state machine:
//
//	UPLOADED → PARSING → VALIDATING → (FAILED | READY) → COMMITTING → (COMPLETED | FAILED)
//
// CANCELLED is reachable from any pre-COMMITTING state. COMPLETED,
// FAILED, and CANCELLED are terminal. The state machine is enforced in
// the application (client-friendly errors) and by a compare-and-swap
// status update in the job store (authority under concurrency).
package ingestion

import (
	"errors"
	"fmt"
	"time"
)

type (
	// TableCode identifies which record kind a file carries.
	TableCode string

	// FileFormat identifies the physical file format of an upload.
	FileFormat string

	// JobStatus is a state in the import job lifecycle.
	JobStatus string

	// ErrorCode is a value from the closed row/job error vocabulary.
	ErrorCode string
)

// Table codes for the three correlated record kinds.
const (
	TableP1 TableCode = "P1" // extruder run, one row per lot
	TableP2 TableCode = "P2" // slitting inspection, one row per winder
	TableP3 TableCode = "P3" // punching/finish inspection, multi-row per lot
)

// File formats accepted by the parser. Legacy .xls is rejected.
const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

// Job lifecycle states.
const (
	StatusUploaded   JobStatus = "UPLOADED"
	StatusParsing    JobStatus = "PARSING"
	StatusValidating JobStatus = "VALIDATING"
	StatusReady      JobStatus = "READY"
	StatusCommitting JobStatus = "COMMITTING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
)

// The closed error code vocabulary. Codes attach either to a staging row
// (errors_json) or to the job (error_summary).
const (
	CodeRequired         ErrorCode = "E_REQUIRED"
	CodeType             ErrorCode = "E_TYPE"
	CodeRange            ErrorCode = "E_RANGE"
	CodeEnum             ErrorCode = "E_ENUM"
	CodeRegex            ErrorCode = "E_REGEX"
	CodeLotFormat        ErrorCode = "E_LOT_FORMAT"
	CodeDateFormat       ErrorCode = "E_DATE_FORMAT"
	CodeHeaderMismatch   ErrorCode = "E_HEADER_MISMATCH"
	CodeUniqueInFile     ErrorCode = "E_UNIQUE_IN_FILE"
	CodeUniqueInDB       ErrorCode = "E_UNIQUE_IN_DB"
	CodeFKMissing        ErrorCode = "E_FK_MISSING"
	CodeBatchMixedFormat ErrorCode = "E_BATCH_MIXED_FORMAT"
	CodeBatchMixedSchema ErrorCode = "E_BATCH_MIXED_SCHEMA"
	CodeBatchMixedTenant ErrorCode = "E_BATCH_MIXED_TENANT"
	CodeFileDuplicate    ErrorCode = "E_FILE_DUPLICATE"
	CodeResultTooLarge   ErrorCode = "E_RESULT_TOO_LARGE"
	CodeInternal         ErrorCode = "E_INTERNAL"
)

// Sentinel errors for lifecycle violations.
var (
	// ErrInvalidTransition indicates a state transition outside the machine.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobNotCancellable indicates cancel was requested at or past COMMITTING.
	ErrJobNotCancellable = errors.New("job is not cancellable")

	// ErrJobNotReady indicates commit was requested on a job not in READY.
	ErrJobNotReady = errors.New("job is not ready for commit")

	// ErrJobHasErrors indicates commit was refused because staging rows
	// carry validation errors.
	ErrJobHasErrors = errors.New("job has validation errors")

	// ErrInvalidTableCode indicates an unknown table code.
	ErrInvalidTableCode = errors.New("invalid table code")
)

type (
	// Job is one import job: a batch of uniform files moving through the
	// lifecycle together.
	Job struct {
		ID                string         `json:"id"`
		TenantID          string         `json:"tenant_id"`
		TableCode         TableCode      `json:"table_code"`
		Status            JobStatus      `json:"status"`
		TotalRows         int            `json:"total_rows"`
		ErrorCount        int            `json:"error_count"`
		Progress          int            `json:"progress"` // 0..100
		HeaderFingerprint string         `json:"header_fingerprint,omitempty"`
		SchemaVersionID   string         `json:"schema_version_id,omitempty"`
		ErrorSummary      map[string]any `json:"error_summary,omitempty"` // nil unless FAILED or batch-rejected
		CreatedAt         time.Time      `json:"created_at"`
		UpdatedAt         time.Time      `json:"updated_at"`
	}

	// File is one uploaded file inside a job.
	File struct {
		ID        string
		JobID     string
		Filename  string
		SHA256    string
		SizeBytes int64
		Format    FileFormat
		BlobRef   string
	}

	// RowErrors is the errors_json payload of a staging row.
	RowErrors []RowError

	// StagingRow carries the parsed cells of one source row plus any
	// validation errors accumulated against it. Rows with nil Errors are
	// committable.
	StagingRow struct {
		ID        string
		JobID     string
		FileID    string
		RowIndex  int // 1-based within the source file, blank lines skipped
		Parsed    map[string]string
		Errors    RowErrors // nil when valid
		CreatedAt time.Time
	}

	// RowError is one validation finding against one field of one row.
	RowError struct {
		Field   string    `json:"field"`
		Code    ErrorCode `json:"error_code"`
		Message string    `json:"message"`
		Value   string    `json:"value,omitempty"`
	}
)

// ParseTableCode validates and converts a raw table code.
func ParseTableCode(raw string) (TableCode, error) {
	switch TableCode(raw) {
	case TableP1, TableP2, TableP3:
		return TableCode(raw), nil
	default:
		return "", fmt.Errorf("%w: %q (valid: P1, P2, P3)", ErrInvalidTableCode, raw)
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsCancellable reports whether cancel(job) is allowed in this status.
// COMMITTING runs a single database transaction and cannot be cancelled.
func (s JobStatus) IsCancellable() bool {
	switch s {
	case StatusUploaded, StatusParsing, StatusValidating, StatusReady:
		return true
	default:
		return false
	}
}

// validTransitions is the job state machine.
var validTransitions = map[JobStatus][]JobStatus{
	StatusUploaded:   {StatusParsing, StatusFailed, StatusCancelled},
	StatusParsing:    {StatusValidating, StatusFailed, StatusCancelled},
	StatusValidating: {StatusReady, StatusFailed, StatusCancelled},
	StatusReady:      {StatusCommitting, StatusCancelled},
	StatusCommitting: {StatusCompleted, StatusFailed},
}

// ValidateTransition checks a single lifecycle transition.
func ValidateTransition(from, to JobStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}

// StageProgress maps lifecycle stages onto the 0..100 progress scale:
// parsing fills 0→40, validating 40→90, READY pins 100.
func StageProgress(status JobStatus, done, total int) int {
	fraction := 0.0
	if total > 0 {
		fraction = float64(done) / float64(total)

		if fraction > 1 {
			fraction = 1
		}
	}

	switch status {
	case StatusParsing:
		return int(40 * fraction)
	case StatusValidating:
		return 40 + int(50*fraction)
	case StatusReady, StatusCompleted:
		return 100
	case StatusCommitting:
		return 90 + int(10*fraction)
	default:
		return 0
	}
}

// HasErrors reports whether any error has been recorded for the row.
func (r *StagingRow) HasErrors() bool {
	return len(r.Errors) > 0
}

// AddError appends a validation finding to the row.
func (r *StagingRow) AddError(field string, code ErrorCode, message, value string) {
	r.Errors = append(r.Errors, RowError{Field: field, Code: code, Message: message, Value: value})
}
