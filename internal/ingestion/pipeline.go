package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linetrace-io/linetrace/internal/schema"
)

// Pipeline defaults; overridable through PipelineConfig.
const (
	DefaultChunkSize    = 500
	DefaultStageTimeout = 10 * time.Minute
)

var (
	// ErrNoFiles indicates create_job was called with an empty batch.
	ErrNoFiles = errors.New("job requires at least one file")

	// ErrForceNotAllowed indicates the force flag cannot override the
	// job's validation errors. Only advisory lineage misses are overridable.
	ErrForceNotAllowed = errors.New("force commit only overrides lineage errors")
)

type (
	// FileUpload is one file of a create_job batch.
	FileUpload struct {
		Filename string
		Content  []byte
		TenantID string // optional override, must match the job tenant
	}

	// CreateJobRequest is the create_job contract.
	CreateJobRequest struct {
		TenantID       string
		TableCode      string
		Files          []FileUpload
		AllowDuplicate bool
	}

	// PipelineConfig wires the pipeline's dependencies.
	PipelineConfig struct {
		Jobs     JobStore
		Records  RecordWriter
		Blobs    BlobStore
		Registry *schema.Registry
		Lineage  LineageStore
		Tenants  TenantSettings
		Parser   *Parser
		Logger   *slog.Logger

		ChunkSize    int           // staging write/update batch size
		StageTimeout time.Duration // per-job budget for the background stages
	}

	// Pipeline orchestrates the import job lifecycle: batch admission,
	// the background parse and validate stages, cancel, and commit.
	//
	// Each admitted job gets one background goroutine running its stages
	// in order; no two stages of the same job ever run concurrently.
	Pipeline struct {
		jobs     JobStore
		records  RecordWriter
		blobs    BlobStore
		registry *schema.Registry
		lineage  LineageStore
		tenants  TenantSettings
		parser   *Parser
		logger   *slog.Logger

		chunkSize    int
		stageTimeout time.Duration

		wg sync.WaitGroup
	}
)

// NewPipeline creates a Pipeline. Lineage may be nil when no tenant
// enables cross-table checks.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	stageTimeout := cfg.StageTimeout
	if stageTimeout <= 0 {
		stageTimeout = DefaultStageTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		jobs:         cfg.Jobs,
		records:      cfg.Records,
		blobs:        cfg.Blobs,
		registry:     cfg.Registry,
		lineage:      cfg.Lineage,
		tenants:      cfg.Tenants,
		parser:       cfg.Parser,
		logger:       logger,
		chunkSize:    chunkSize,
		stageTimeout: stageTimeout,
	}
}

// Shutdown waits for in-flight background stages to finish, or for the
// context to expire.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline shutdown: %w", ctx.Err())
	}
}

// CreateJob admits a batch of files as one import job.
//
// Batch uniformity (table code, format, header fingerprint, tenant) and
// file-level duplicate checks run synchronously. A uniformity failure
// still creates the job, in FAILED with the batch error recorded, so the
// client has a durable error report; no staging happens for such jobs.
// Admitted jobs start their background stages immediately.
func (p *Pipeline) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	tableCode, err := ParseTableCode(req.TableCode)
	if err != nil {
		return nil, err
	}

	if len(req.Files) == 0 {
		return nil, ErrNoFiles
	}

	job := &Job{
		ID:        uuid.NewString(),
		TenantID:  req.TenantID,
		TableCode: tableCode,
		Status:    StatusUploaded,
	}

	files, batchErr := p.admitFiles(ctx, job, req)
	if batchErr != nil {
		return p.rejectJob(ctx, job, files, batchErr)
	}

	if err := p.jobs.CreateJob(ctx, job, files); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		p.runStages(job.ID, job.TenantID, tableCode)
	}()

	return job, nil
}

// batchError is a batch-admission failure: one job-level error code plus
// the detail that goes into error_summary.
type batchError struct {
	code   ErrorCode
	detail string
}

func (e *batchError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.detail)
}

// admitFiles checks batch uniformity and duplicates, persists blobs, and
// resolves the schema version onto the job.
func (p *Pipeline) admitFiles(ctx context.Context, job *Job, req CreateJobRequest) ([]*File, *batchError) {
	var (
		files       []*File
		format      FileFormat
		fingerprint string
	)

	for i, upload := range req.Files {
		if upload.TenantID != "" && upload.TenantID != req.TenantID {
			return files, &batchError{CodeBatchMixedTenant,
				fmt.Sprintf("file %q belongs to a different tenant", upload.Filename)}
		}

		fileFormat, err := DetectFormat(upload.Filename)
		if err != nil {
			return files, &batchError{CodeInternal, err.Error()}
		}

		if i == 0 {
			format = fileFormat
		} else if fileFormat != format {
			return files, &batchError{CodeBatchMixedFormat,
				fmt.Sprintf("file %q is %s, batch is %s", upload.Filename, fileFormat, format)}
		}

		parsed, err := p.parser.Parse(bytes.NewReader(upload.Content), fileFormat)
		if err != nil {
			return files, &batchError{CodeInternal,
				fmt.Sprintf("file %q: %s", upload.Filename, err)}
		}

		fileFingerprint := schema.Fingerprint(parsed.Header)

		if i == 0 {
			fingerprint = fileFingerprint
		} else if fileFingerprint != fingerprint {
			return files, &batchError{CodeBatchMixedSchema,
				fmt.Sprintf("file %q has a different header than the batch", upload.Filename)}
		}

		duplicate, err := p.jobs.CommittedFileExists(ctx, req.TenantID, job.TableCode, parsed.SHA256)
		if err != nil {
			return files, &batchError{CodeInternal, err.Error()}
		}

		if duplicate && !req.AllowDuplicate {
			return files, &batchError{CodeFileDuplicate,
				fmt.Sprintf("file %q was already committed for this table", upload.Filename)}
		}

		file := &File{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Filename:  upload.Filename,
			SHA256:    parsed.SHA256,
			SizeBytes: parsed.SizeBytes,
			Format:    fileFormat,
			BlobRef:   job.ID + "/" + upload.Filename,
		}

		if err := p.blobs.Put(ctx, file.BlobRef, upload.Content); err != nil {
			return files, &batchError{CodeInternal, err.Error()}
		}

		files = append(files, file)
	}

	version, err := p.registry.ResolveFingerprint(ctx, req.TenantID, string(job.TableCode), fingerprint)
	if err != nil {
		if errors.Is(err, schema.ErrHeaderMismatch) {
			return files, &batchError{CodeHeaderMismatch, "no schema registered for this header"}
		}

		return files, &batchError{CodeInternal, err.Error()}
	}

	job.HeaderFingerprint = fingerprint
	job.SchemaVersionID = version.ID

	return files, nil
}

// rejectJob persists a batch-rejected job as FAILED with the error in
// error_summary. The job itself is returned so callers can report it.
func (p *Pipeline) rejectJob(ctx context.Context, job *Job, files []*File, batchErr *batchError) (*Job, error) {
	job.Status = StatusFailed
	job.ErrorSummary = map[string]any{
		"stage":      "upload",
		"error_code": string(batchErr.code),
		"error":      batchErr.detail,
	}

	if err := p.jobs.CreateJob(ctx, job, files); err != nil {
		return nil, fmt.Errorf("failed to create rejected job: %w", err)
	}

	p.logger.WarnContext(ctx, "import batch rejected",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"error_code", string(batchErr.code),
	)

	return job, nil
}

// GetJob returns the job, or ErrJobNotFound.
func (p *Pipeline) GetJob(ctx context.Context, tenantID, jobID string) (*Job, error) {
	job, err := p.jobs.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}

	if job == nil {
		return nil, ErrJobNotFound
	}

	return job, nil
}

// ListJobs pages through a tenant's jobs, newest first.
func (p *Pipeline) ListJobs(ctx context.Context, tenantID string, page, pageSize int) ([]*Job, int, error) {
	jobs, total, err := p.jobs.ListJobs(ctx, tenantID, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, total, nil
}

// ListErrors pages through the job's per-row error report.
func (p *Pipeline) ListErrors(ctx context.Context, tenantID, jobID string, page, pageSize int) ([]*JobRowError, int, error) {
	if _, err := p.GetJob(ctx, tenantID, jobID); err != nil {
		return nil, 0, err
	}

	rows, total, err := p.jobs.ListRowErrors(ctx, jobID, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list job errors: %w", err)
	}

	return rows, total, nil
}

// Cancel requests cancellation. Allowed in UPLOADED, PARSING, VALIDATING,
// and READY; the background worker observes the status flip and stops.
// Cancelling an already-CANCELLED job is a no-op.
func (p *Pipeline) Cancel(ctx context.Context, tenantID, jobID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		job, err := p.GetJob(ctx, tenantID, jobID)
		if err != nil {
			return err
		}

		if job.Status == StatusCancelled {
			return nil
		}

		if !job.Status.IsCancellable() {
			return fmt.Errorf("%w: status is %s", ErrJobNotCancellable, job.Status)
		}

		err = p.jobs.TransitionJob(ctx, jobID, job.Status, StatusCancelled)
		if err == nil {
			p.logger.InfoContext(ctx, "import job cancelled", "job_id", jobID, "tenant_id", tenantID)

			return nil
		}

		if !errors.Is(err, ErrStatusConflict) {
			return fmt.Errorf("failed to cancel job: %w", err)
		}
		// Lost the race to a stage transition; reload and retry once.
	}

	return fmt.Errorf("%w: job is changing state", ErrJobNotCancellable)
}

// Commit transitions READY → COMMITTING and writes the job's rows in one
// transaction.
//
// Commit is idempotent on terminal jobs: COMPLETED returns the existing
// result, FAILED returns the recorded failure. A job with validation
// errors is refused unless force is set AND every error is an advisory
// lineage miss.
func (p *Pipeline) Commit(ctx context.Context, tenantID, jobID string, force bool) (*Job, error) {
	job, err := p.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case StatusCompleted, StatusFailed:
		return job, nil
	case StatusReady:
		// Proceed.
	default:
		return nil, fmt.Errorf("%w: status is %s", ErrJobNotReady, job.Status)
	}

	rows, err := p.jobs.ListStagingRows(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staging rows: %w", err)
	}

	if job.ErrorCount > 0 {
		if !force {
			return nil, fmt.Errorf("%w: %d rows invalid", ErrJobHasErrors, job.ErrorCount)
		}

		if !onlyLineageErrors(rows) {
			return nil, ErrForceNotAllowed
		}
	}

	if err := p.jobs.TransitionJob(ctx, jobID, StatusReady, StatusCommitting); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, fmt.Errorf("%w: commit already in progress", ErrJobNotReady)
		}

		return nil, fmt.Errorf("failed to start commit: %w", err)
	}

	set, err := BuildCommitSet(tenantID, job.TableCode, DefaultBindings(job.TableCode), committableRows(rows, force))
	if err != nil {
		return nil, p.failJob(ctx, job, "commit", CodeInternal, err.Error())
	}

	if err := p.records.CommitRecords(ctx, set); err != nil {
		var violation *UniqueViolationError
		if errors.As(err, &violation) {
			p.markUniqueViolation(ctx, rows, violation)

			return nil, p.failJob(ctx, job, "commit", CodeUniqueInDB, violation.Error())
		}

		return nil, p.failJob(ctx, job, "commit", CodeInternal, err.Error())
	}

	if err := p.jobs.SetJobResult(ctx, jobID, StatusCompleted, job.ErrorCount, nil); err != nil {
		return nil, fmt.Errorf("failed to finalize job: %w", err)
	}

	p.logger.InfoContext(ctx, "import job committed",
		"job_id", jobID,
		"tenant_id", tenantID,
		"table_code", string(job.TableCode),
		"rows", len(rows),
	)

	return p.GetJob(ctx, tenantID, jobID)
}

// onlyLineageErrors reports whether every recorded row error is E_FK_MISSING.
func onlyLineageErrors(rows []*StagingRow) bool {
	for _, row := range rows {
		for _, rowErr := range row.Errors {
			if rowErr.Code != CodeFKMissing {
				return false
			}
		}
	}

	return true
}

// committableRows selects the rows the commit writes: error-free rows,
// plus lineage-flagged rows when force is set.
func committableRows(rows []*StagingRow, force bool) []*StagingRow {
	out := make([]*StagingRow, 0, len(rows))

	for _, row := range rows {
		if !row.HasErrors() || force {
			out = append(out, row)
		}
	}

	return out
}

// markUniqueViolation attaches E_UNIQUE_IN_DB to the row the database
// rejected. Best-effort: the job fails either way.
func (p *Pipeline) markUniqueViolation(ctx context.Context, rows []*StagingRow, violation *UniqueViolationError) {
	for _, row := range rows {
		if row.ID != violation.RowID {
			continue
		}

		row.AddError(violation.Field, CodeUniqueInDB, "value already exists in the database", violation.Value)

		if err := p.jobs.UpdateStagingErrors(ctx, []*StagingRow{row}); err != nil {
			p.logger.ErrorContext(ctx, "failed to record unique violation on staging row",
				"job_id", row.JobID, "row_id", row.ID, "error", err)
		}

		return
	}
}

// failJob records a terminal failure with an error_summary and returns an
// error describing it.
func (p *Pipeline) failJob(ctx context.Context, job *Job, stage string, code ErrorCode, detail string) error {
	summary := map[string]any{
		"stage":      stage,
		"error_code": string(code),
		"error":      detail,
	}

	if err := p.jobs.SetJobResult(ctx, job.ID, StatusFailed, job.ErrorCount, summary); err != nil {
		p.logger.ErrorContext(ctx, "failed to record job failure",
			"job_id", job.ID, "stage", stage, "error", err)
	}

	p.logger.WarnContext(ctx, "import job failed",
		"job_id", job.ID,
		"tenant_id", job.TenantID,
		"stage", stage,
		"error_code", string(code),
	)

	return fmt.Errorf("job %s failed during %s: %s", job.ID, stage, detail)
}

// runStages drives the background parse and validate stages for one job.
// Runs detached from the admitting request with its own deadline.
func (p *Pipeline) runStages(jobID, tenantID string, tableCode TableCode) {
	ctx, cancel := context.WithTimeout(context.Background(), p.stageTimeout)
	defer cancel()

	rows, err := p.runParsing(ctx, jobID, tenantID)
	if err != nil {
		p.handleStageError(ctx, jobID, tenantID, "parse", err)

		return
	}

	if rows == nil { // cancelled
		return
	}

	if err := p.runValidating(ctx, jobID, tenantID, tableCode, rows); err != nil {
		p.handleStageError(ctx, jobID, tenantID, "validate", err)
	}
}

func (p *Pipeline) handleStageError(ctx context.Context, jobID, tenantID, stage string, err error) {
	if errors.Is(err, ErrStatusConflict) {
		// Cancelled underneath the worker; nothing to record.
		return
	}

	job := &Job{ID: jobID, TenantID: tenantID}
	_ = p.failJob(ctx, job, stage, CodeInternal, err.Error())
}

// runParsing streams the job's files into staging rows, chunked. Returns
// (nil, nil) when the job was cancelled mid-stage.
func (p *Pipeline) runParsing(ctx context.Context, jobID, tenantID string) ([]*StagingRow, error) {
	if err := p.jobs.TransitionJob(ctx, jobID, StatusUploaded, StatusParsing); err != nil {
		return nil, err
	}

	job, err := p.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	files, err := p.jobFiles(ctx, job)
	if err != nil {
		return nil, err
	}

	var staged []*StagingRow

	for _, file := range files {
		content, err := p.blobs.Get(ctx, file.BlobRef)
		if err != nil {
			return nil, fmt.Errorf("failed to read blob %s: %w", file.BlobRef, err)
		}

		parsed, err := p.parser.Parse(bytes.NewReader(content), file.Format)
		if err != nil {
			return nil, fmt.Errorf("file %q: %w", file.Filename, err)
		}

		for _, row := range parsed.Rows {
			staged = append(staged, &StagingRow{
				ID:       uuid.NewString(),
				JobID:    jobID,
				FileID:   file.ID,
				RowIndex: row.RowIndex,
				Parsed:   row.Cells,
			})
		}
	}

	for start := 0; start < len(staged); start += p.chunkSize {
		cancelled, err := p.jobCancelled(ctx, tenantID, jobID)
		if err != nil {
			return nil, err
		}

		if cancelled {
			return nil, nil
		}

		end := start + p.chunkSize
		if end > len(staged) {
			end = len(staged)
		}

		if err := p.jobs.InsertStagingRows(ctx, staged[start:end]); err != nil {
			return nil, fmt.Errorf("failed to stage rows: %w", err)
		}

		progress := StageProgress(StatusParsing, end, len(staged))
		if err := p.jobs.UpdateJobCounters(ctx, jobID, progress, len(staged), 0); err != nil {
			return nil, err
		}
	}

	if err := p.jobs.UpdateJobCounters(ctx, jobID, StageProgress(StatusParsing, 1, 1), len(staged), 0); err != nil {
		return nil, err
	}

	return staged, nil
}

// runValidating applies the rule layers and lands the job in READY.
func (p *Pipeline) runValidating(
	ctx context.Context,
	jobID, tenantID string,
	tableCode TableCode,
	rows []*StagingRow,
) error {
	if err := p.jobs.TransitionJob(ctx, jobID, StatusParsing, StatusValidating); err != nil {
		return err
	}

	job, err := p.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return err
	}

	version, err := p.registry.ResolveFingerprint(ctx, tenantID, string(tableCode), job.HeaderFingerprint)
	if err != nil {
		return err
	}

	lineage, err := p.lineageFor(ctx, tenantID)
	if err != nil {
		return err
	}

	validator, err := NewValidator(tenantID, tableCode, version.Definition, DefaultBindings(tableCode), lineage)
	if err != nil {
		return err
	}

	errorCount, err := validator.ValidateBatch(ctx, rows)
	if err != nil {
		return err
	}

	flagged := make([]*StagingRow, 0, errorCount)

	for _, row := range rows {
		if row.HasErrors() {
			flagged = append(flagged, row)
		}
	}

	for start := 0; start < len(flagged); start += p.chunkSize {
		cancelled, err := p.jobCancelled(ctx, tenantID, jobID)
		if err != nil {
			return err
		}

		if cancelled {
			return nil
		}

		end := start + p.chunkSize
		if end > len(flagged) {
			end = len(flagged)
		}

		if err := p.jobs.UpdateStagingErrors(ctx, flagged[start:end]); err != nil {
			return fmt.Errorf("failed to record row errors: %w", err)
		}

		progress := StageProgress(StatusValidating, end, len(flagged))
		if err := p.jobs.UpdateJobCounters(ctx, jobID, progress, len(rows), end); err != nil {
			return err
		}
	}

	if err := p.jobs.TransitionJob(ctx, jobID, StatusValidating, StatusReady); err != nil {
		return err
	}

	// READY even with errors: the job is ready for error inspection, and
	// commit refuses it while error_count > 0.
	if err := p.jobs.UpdateJobCounters(ctx, jobID, StageProgress(StatusReady, 1, 1), len(rows), errorCount); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "import job validated",
		"job_id", jobID,
		"tenant_id", tenantID,
		"rows", len(rows),
		"error_count", errorCount,
	)

	return nil
}

// lineageFor returns the lineage checker when the tenant enables
// cross-table checks, else nil.
func (p *Pipeline) lineageFor(ctx context.Context, tenantID string) (LineageStore, error) {
	if p.lineage == nil || p.tenants == nil {
		return nil, nil
	}

	enabled, err := p.tenants.LineageChecksEnabled(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant settings: %w", err)
	}

	if !enabled {
		return nil, nil
	}

	return p.lineage, nil
}

// jobCancelled polls the job status between chunks.
func (p *Pipeline) jobCancelled(ctx context.Context, tenantID, jobID string) (bool, error) {
	job, err := p.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return false, err
	}

	return job.Status == StatusCancelled, nil
}

// jobFiles loads the job's file list.
func (p *Pipeline) jobFiles(ctx context.Context, job *Job) ([]*File, error) {
	files, err := p.jobs.ListJobFiles(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job files: %w", err)
	}

	return files, nil
}
