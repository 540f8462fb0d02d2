package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linetrace-io/linetrace/internal/ingestion"
)

const (
	stagingInsertChunk   = 500
	sweepInterval        = time.Hour
	defaultErrorPageSize = 100
)

// JobStore persists import jobs, their files, and their staging rows.
// Implements ingestion.JobStore.
type JobStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewJobStore creates a JobStore on the shared connection.
func NewJobStore(conn *Connection, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &JobStore{conn: conn, logger: logger}
}

// CreateJob inserts a job and its file manifest in one transaction.
func (s *JobStore) CreateJob(ctx context.Context, job *ingestion.Job, files []*ingestion.File) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	summaryJSON, err := marshalNullable(job.ErrorSummary)
	if err != nil {
		return fmt.Errorf("failed to serialize error summary: %w", err)
	}

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	jobQuery := `
		INSERT INTO import_jobs (
			id, tenant_id, table_code, status, total_rows, error_count, progress,
			header_fingerprint, schema_version_id, error_summary, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = tx.ExecContext(ctx, jobQuery,
		job.ID, job.TenantID, job.TableCode, job.Status, job.TotalRows, job.ErrorCount,
		job.Progress, job.HeaderFingerprint, nullableString(job.SchemaVersionID),
		summaryJSON, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	fileQuery := `
		INSERT INTO import_files (id, job_id, filename, sha256, size_bytes, format, blob_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	for _, file := range files {
		if file.ID == "" {
			file.ID = uuid.NewString()
		}

		_, err = tx.ExecContext(ctx, fileQuery,
			file.ID, job.ID, file.Filename, file.SHA256, file.SizeBytes, file.Format, file.BlobRef)
		if err != nil {
			return fmt.Errorf("failed to insert job file %s: %w", file.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job creation: %w", err)
	}

	return nil
}

// ListJobFiles returns the job's file manifest in upload order.
func (s *JobStore) ListJobFiles(ctx context.Context, jobID string) ([]*ingestion.File, error) {
	query := `
		SELECT id, job_id, filename, sha256, size_bytes, format, blob_ref
		FROM import_files
		WHERE job_id = $1
		ORDER BY filename
	`

	rows, err := s.conn.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query job files: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	files := []*ingestion.File{}

	for rows.Next() {
		var file ingestion.File

		err := rows.Scan(&file.ID, &file.JobID, &file.Filename, &file.SHA256,
			&file.SizeBytes, &file.Format, &file.BlobRef)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job file: %w", err)
		}

		files = append(files, &file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job files: %w", err)
	}

	return files, nil
}

const jobColumns = `
	id, tenant_id, table_code, status, total_rows, error_count, progress,
	header_fingerprint, schema_version_id, error_summary, created_at, updated_at
`

// GetJob loads a job scoped to the tenant, or ingestion.ErrJobNotFound.
func (s *JobStore) GetJob(ctx context.Context, tenantID, jobID string) (*ingestion.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM import_jobs WHERE tenant_id = $1 AND id = $2`

	job, err := scanJob(s.conn.QueryRowContext(ctx, query, tenantID, jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ingestion.ErrJobNotFound
		}

		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	return job, nil
}

// ListJobs pages through the tenant's jobs, newest first. Returns the
// page and the total count.
func (s *JobStore) ListJobs(ctx context.Context, tenantID string, page, pageSize int) ([]*ingestion.Job, int, error) {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = defaultErrorPageSize
	}

	var total int

	countQuery := `SELECT COUNT(*) FROM import_jobs WHERE tenant_id = $1`

	if err := s.conn.QueryRowContext(ctx, countQuery, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `
		SELECT ` + jobColumns + `
		FROM import_jobs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.conn.QueryContext(ctx, query, tenantID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query jobs: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	jobs := []*ingestion.Job{}

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}

		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, total, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*ingestion.Job, error) {
	var (
		job             ingestion.Job
		schemaVersionID sql.NullString
		summaryJSON     []byte
	)

	err := row.Scan(&job.ID, &job.TenantID, &job.TableCode, &job.Status,
		&job.TotalRows, &job.ErrorCount, &job.Progress,
		&job.HeaderFingerprint, &schemaVersionID, &summaryJSON,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}

	job.SchemaVersionID = schemaVersionID.String

	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &job.ErrorSummary); err != nil {
			return nil, fmt.Errorf("job %s error_summary is corrupt: %w", job.ID, err)
		}
	}

	return &job, nil
}

// TransitionJob compare-and-swaps the status. The WHERE clause on the
// current status makes the database the authority under concurrency.
func (s *JobStore) TransitionJob(ctx context.Context, jobID string, from, to ingestion.JobStatus) error {
	if err := ingestion.ValidateTransition(from, to); err != nil {
		return err
	}

	query := `
		UPDATE import_jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := s.conn.ExecContext(ctx, query, to, jobID, from)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return ingestion.ErrStatusConflict
	}

	return nil
}

// UpdateJobCounters refreshes progress and tallies without touching status.
func (s *JobStore) UpdateJobCounters(ctx context.Context, jobID string, progress, totalRows, errorCount int) error {
	query := `
		UPDATE import_jobs
		SET progress = $1, total_rows = $2, error_count = $3, updated_at = NOW()
		WHERE id = $4
	`

	if _, err := s.conn.ExecContext(ctx, query, progress, totalRows, errorCount, jobID); err != nil {
		return fmt.Errorf("failed to update job counters: %w", err)
	}

	return nil
}

// SetJobResult records a terminal outcome in one update.
func (s *JobStore) SetJobResult(
	ctx context.Context,
	jobID string,
	status ingestion.JobStatus,
	errorCount int,
	summary map[string]any,
) error {
	summaryJSON, err := marshalNullable(summary)
	if err != nil {
		return fmt.Errorf("failed to serialize error summary: %w", err)
	}

	query := `
		UPDATE import_jobs
		SET status = $1, error_count = $2, error_summary = $3,
		    progress = CASE WHEN $1 = 'COMPLETED' THEN 100 ELSE progress END,
		    updated_at = NOW()
		WHERE id = $4
	`

	if _, err := s.conn.ExecContext(ctx, query, status, errorCount, summaryJSON, jobID); err != nil {
		return fmt.Errorf("failed to set job result: %w", err)
	}

	return nil
}

// InsertStagingRows bulk-inserts staging rows in chunks using multi-row
// VALUES statements.
func (s *JobStore) InsertStagingRows(ctx context.Context, rows []*ingestion.StagingRow) error {
	for start := 0; start < len(rows); start += stagingInsertChunk {
		end := start + stagingInsertChunk
		if end > len(rows) {
			end = len(rows)
		}

		if err := s.insertStagingChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (s *JobStore) insertStagingChunk(ctx context.Context, rows []*ingestion.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}

	var (
		builder strings.Builder
		args    []any
	)

	builder.WriteString(`
		INSERT INTO staging_rows (id, job_id, file_id, row_index, parsed, errors_json, created_at)
		VALUES `)

	now := time.Now().UTC()

	for i, row := range rows {
		parsedJSON, err := json.Marshal(row.Parsed)
		if err != nil {
			return fmt.Errorf("failed to serialize staging row %d: %w", row.RowIndex, err)
		}

		errorsJSON, err := marshalNullable(row.Errors)
		if err != nil {
			return fmt.Errorf("failed to serialize staging row errors: %w", err)
		}

		if i > 0 {
			builder.WriteString(", ")
		}

		base := i * 7
		fmt.Fprintf(&builder, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)

		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}

		args = append(args, row.ID, row.JobID, row.FileID, row.RowIndex, parsedJSON, errorsJSON, row.CreatedAt)
	}

	if _, err := s.conn.ExecContext(ctx, builder.String(), args...); err != nil {
		return fmt.Errorf("failed to insert staging rows: %w", err)
	}

	return nil
}

// ListStagingRows returns a job's staging rows ordered by file and row index.
func (s *JobStore) ListStagingRows(ctx context.Context, jobID string) ([]*ingestion.StagingRow, error) {
	query := `
		SELECT id, job_id, file_id, row_index, parsed, errors_json, created_at
		FROM staging_rows
		WHERE job_id = $1
		ORDER BY file_id, row_index
	`

	rows, err := s.conn.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query staging rows: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	staged := []*ingestion.StagingRow{}

	for rows.Next() {
		var (
			row        ingestion.StagingRow
			parsedJSON []byte
			errorsJSON []byte
		)

		err := rows.Scan(&row.ID, &row.JobID, &row.FileID, &row.RowIndex,
			&parsedJSON, &errorsJSON, &row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan staging row: %w", err)
		}

		if err := json.Unmarshal(parsedJSON, &row.Parsed); err != nil {
			return nil, fmt.Errorf("staging row %s parsed cells are corrupt: %w", row.ID, err)
		}

		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &row.Errors); err != nil {
				return nil, fmt.Errorf("staging row %s errors are corrupt: %w", row.ID, err)
			}
		}

		staged = append(staged, &row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating staging rows: %w", err)
	}

	return staged, nil
}

// UpdateStagingErrors writes errors_json for the given rows.
func (s *JobStore) UpdateStagingErrors(ctx context.Context, rows []*ingestion.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE staging_rows SET errors_json = $1 WHERE id = $2`

	for _, row := range rows {
		errorsJSON, err := marshalNullable(row.Errors)
		if err != nil {
			return fmt.Errorf("failed to serialize staging row errors: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query, errorsJSON, row.ID); err != nil {
			return fmt.Errorf("failed to update staging row %s: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit staging errors: %w", err)
	}

	return nil
}

// ListRowErrors pages through per-row validation findings, flattened to
// one line per (row, field, code). Ordered by row index.
func (s *JobStore) ListRowErrors(ctx context.Context, jobID string, page, pageSize int) ([]*ingestion.JobRowError, int, error) {
	if page < 1 {
		page = 1
	}

	if pageSize < 1 {
		pageSize = defaultErrorPageSize
	}

	// jsonb_array_elements flattens errors_json in the database so pagination
	// counts findings, not rows.
	countQuery := `
		SELECT COUNT(*)
		FROM staging_rows r, jsonb_array_elements(r.errors_json) e
		WHERE r.job_id = $1 AND r.errors_json IS NOT NULL
	`

	var total int

	if err := s.conn.QueryRowContext(ctx, countQuery, jobID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count row errors: %w", err)
	}

	query := `
		SELECT r.row_index,
		       e->>'field',
		       e->>'error_code',
		       e->>'message',
		       COALESCE(e->>'value', '')
		FROM staging_rows r, jsonb_array_elements(r.errors_json) e
		WHERE r.job_id = $1 AND r.errors_json IS NOT NULL
		ORDER BY r.row_index, e->>'field'
		LIMIT $2 OFFSET $3
	`

	rows, err := s.conn.QueryContext(ctx, query, jobID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query row errors: %w", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	findings := []*ingestion.JobRowError{}

	for rows.Next() {
		var finding ingestion.JobRowError

		err := rows.Scan(&finding.RowIndex, &finding.Field, &finding.Code,
			&finding.Message, &finding.Value)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan row error: %w", err)
		}

		findings = append(findings, &finding)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating row errors: %w", err)
	}

	return findings, total, nil
}

// CommittedFileExists reports whether the digest already belongs to a
// COMPLETED job of the same tenant and table.
func (s *JobStore) CommittedFileExists(
	ctx context.Context,
	tenantID string,
	tableCode ingestion.TableCode,
	sha256 string,
) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM import_files f
			JOIN import_jobs j ON j.id = f.job_id
			WHERE j.tenant_id = $1 AND j.table_code = $2 AND j.status = 'COMPLETED' AND f.sha256 = $3
		)
	`

	var exists bool

	if err := s.conn.QueryRowContext(ctx, query, tenantID, tableCode, sha256).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check committed files: %w", err)
	}

	return exists, nil
}

// StartSweeper launches the staging retention loop: staging rows of jobs
// that reached a terminal state more than cfg.StagingTTL ago are purged
// hourly. Stops when ctx is cancelled.
func (s *JobStore) StartSweeper(ctx context.Context, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepStaging(ctx, ttl)
			}
		}
	}()
}

func (s *JobStore) sweepStaging(ctx context.Context, ttl time.Duration) {
	query := `
		DELETE FROM staging_rows
		WHERE job_id IN (
			SELECT id FROM import_jobs
			WHERE status IN ('COMPLETED', 'FAILED', 'CANCELLED')
			  AND updated_at < NOW() - $1::interval
		)
	`

	result, err := s.conn.ExecContext(ctx, query, fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		s.logger.ErrorContext(ctx, "staging sweep failed", slog.String("error", err.Error()))

		return
	}

	if purged, err := result.RowsAffected(); err == nil && purged > 0 {
		s.logger.InfoContext(ctx, "staging rows purged", slog.Int64("rows", purged))
	}
}

// marshalNullable serializes to JSON, mapping empty values to SQL NULL.
func marshalNullable(value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
	case ingestion.RowErrors:
		if len(v) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return data, nil
}
