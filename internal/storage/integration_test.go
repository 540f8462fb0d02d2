package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/linetrace-io/linetrace/internal/ingestion"
	"github.com/linetrace-io/linetrace/internal/schema"
	"github.com/linetrace-io/linetrace/migrations"
)

// setupTestDatabase creates a PostgreSQL testcontainer and applies the
// embedded migrations.
func setupTestDatabase(ctx context.Context, t *testing.T) (*pgcontainer.PostgresContainer, *Connection) {
	t.Helper()

	postgresContainer, err := pgcontainer.Run(ctx,
		"postgres:16-alpine",
		pgcontainer.WithDatabase("linetrace_test"),
		pgcontainer.WithUsername("test"),
		pgcontainer.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(120*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	config := &Config{
		databaseURL:     connStr,
		hmacSecret:      "integration-test-secret",
		PoolSize:        defaultPoolSize,
		MaxOverflow:     defaultMaxOverflow,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
		StagingTTL:      defaultStagingTTL,
	}

	conn, err := NewConnection(config)
	if err != nil {
		_ = postgresContainer.Terminate(ctx)

		t.Fatalf("failed to connect to test database: %v", err)
	}

	runner, err := migrations.NewRunnerWithDB(conn.DB())
	if err != nil {
		_ = conn.Close()
		_ = postgresContainer.Terminate(ctx)

		t.Fatalf("failed to create migration runner: %v", err)
	}

	if err := runner.Up(); err != nil {
		_ = conn.Close()
		_ = postgresContainer.Terminate(ctx)

		t.Fatalf("failed to run test migrations: %v", err)
	}

	return postgresContainer, conn
}

func createTestTenant(ctx context.Context, t *testing.T, conn *Connection, code string) *Tenant {
	t.Helper()

	tenant := &Tenant{
		Code:     code,
		Name:     "Tenant " + code,
		Settings: TenantSettings{LineageChecks: true},
	}

	if err := NewTenantStore(conn).Create(ctx, tenant); err != nil {
		t.Fatalf("failed to create test tenant: %v", err)
	}

	return tenant
}

func datePtr(year int, month time.Month, day int) *time.Time {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	return &d
}

func TestStorageIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, conn := setupTestDatabase(ctx, t)

	defer func() {
		_ = conn.Close()
		_ = container.Terminate(ctx)
	}()

	t.Run("TenantLifecycle", testTenantLifecycle(ctx, conn))
	t.Run("APIKeyLifecycle", testAPIKeyLifecycle(ctx, conn))
	t.Run("UserAuthentication", testUserAuthentication(ctx, conn))
	t.Run("SchemaVersionRoundTrip", testSchemaVersionRoundTrip(ctx, conn))
	t.Run("JobLifecycle", testJobLifecycle(ctx, conn))
	t.Run("RecordCommitAndLineage", testRecordCommitAndLineage(ctx, conn))
	t.Run("UniqueProductIDViolation", testUniqueProductIDViolation(ctx, conn))
	t.Run("RowEditAuditTrail", testRowEditAuditTrail(ctx, conn))
	t.Run("QuerySearchAndOptions", testQuerySearchAndOptions(ctx, conn))
}

func testTenantLifecycle(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		store := NewTenantStore(conn)
		tenant := createTestTenant(ctx, t, conn, "t-lifecycle")

		loaded, err := store.GetByCode(ctx, "t-lifecycle")
		if err != nil {
			t.Fatalf("GetByCode() error = %v", err)
		}

		if loaded.ID != tenant.ID || !loaded.Settings.LineageChecks {
			t.Errorf("GetByCode() = %+v, want id %s with lineage checks", loaded, tenant.ID)
		}

		duplicate := &Tenant{Code: "t-lifecycle", Name: "dup"}
		if err := store.Create(ctx, duplicate); !errors.Is(err, ErrTenantExists) {
			t.Errorf("Create() duplicate error = %v, want ErrTenantExists", err)
		}

		first := &Tenant{Code: "t-default-1", Name: "first default", IsDefault: true}
		if err := store.Create(ctx, first); err != nil {
			t.Fatalf("Create() default tenant error = %v", err)
		}

		second := &Tenant{Code: "t-default-2", Name: "second default", IsDefault: true}
		if err := store.Create(ctx, second); !errors.Is(err, ErrDefaultTenantExists) {
			t.Errorf("Create() second default error = %v, want ErrDefaultTenantExists", err)
		}

		if _, err := store.GetByCode(ctx, "no-such-tenant"); !errors.Is(err, ErrTenantNotFound) {
			t.Errorf("GetByCode() missing error = %v, want ErrTenantNotFound", err)
		}

		enabled, err := store.LineageChecksEnabled(ctx, tenant.ID)
		if err != nil {
			t.Fatalf("LineageChecksEnabled() error = %v", err)
		}

		if !enabled {
			t.Error("LineageChecksEnabled() = false, want true")
		}
	}
}

func testAPIKeyLifecycle(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-keys")
		store := NewKeyStore(conn, "integration-test-secret", nil)

		key, rawKey, err := store.Create(ctx, tenant.ID, "ci uploader")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if _, err := ParseAPIKey(rawKey); err != nil {
			t.Fatalf("Create() returned malformed key: %v", err)
		}

		found, ok := store.FindByKey(ctx, rawKey)
		if !ok {
			t.Fatal("FindByKey() did not find the created key")
		}

		if found.TenantID != tenant.ID {
			t.Errorf("FindByKey() tenant = %s, want %s", found.TenantID, tenant.ID)
		}

		store.TouchLastUsed(ctx, key.ID)

		keys, err := store.ListByTenant(ctx, tenant.ID)
		if err != nil {
			t.Fatalf("ListByTenant() error = %v", err)
		}

		if len(keys) != 1 || keys[0].LastUsedAt == nil {
			t.Errorf("ListByTenant() = %d keys, want 1 with last_used_at set", len(keys))
		}

		if err := store.Deactivate(ctx, key.ID); err != nil {
			t.Fatalf("Deactivate() error = %v", err)
		}

		if _, ok := store.FindByKey(ctx, rawKey); ok {
			t.Error("FindByKey() found a deactivated key")
		}

		if err := store.Deactivate(ctx, uuid.NewString()); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Deactivate() missing error = %v, want ErrKeyNotFound", err)
		}
	}
}

func testUserAuthentication(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-users")
		store := NewUserStore(conn)

		user, err := store.Create(ctx, tenant.ID, "operator", "correct horse")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		authed, err := store.Authenticate(ctx, "operator", "correct horse")
		if err != nil {
			t.Fatalf("Authenticate() error = %v", err)
		}

		if authed.ID != user.ID {
			t.Errorf("Authenticate() id = %s, want %s", authed.ID, user.ID)
		}

		if _, err := store.Authenticate(ctx, "operator", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authenticate() wrong password error = %v, want ErrInvalidCredentials", err)
		}

		if _, err := store.Authenticate(ctx, "nobody", "x"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Authenticate() unknown user error = %v, want ErrInvalidCredentials", err)
		}

		if _, err := store.Create(ctx, tenant.ID, "operator", "pw"); !errors.Is(err, ErrUserExists) {
			t.Errorf("Create() duplicate error = %v, want ErrUserExists", err)
		}
	}
}

func testSchemaVersionRoundTrip(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-schema")
		store := NewSchemaStore(conn)

		definition := &schema.Definition{
			Fields: []schema.FieldSpec{
				{Name: "Lot No", Type: schema.FieldTypeText, Required: true},
				{Name: "Production Date", Type: schema.FieldTypeDate, Required: true},
			},
		}

		registered, err := store.RegisterVersion(ctx, tenant.ID, "P1", "fp-123", definition)
		if err != nil {
			t.Fatalf("RegisterVersion() error = %v", err)
		}

		loaded, err := store.FindVersion(ctx, tenant.ID, "P1", "fp-123")
		if err != nil {
			t.Fatalf("FindVersion() error = %v", err)
		}

		if loaded == nil || loaded.ID != registered.ID {
			t.Fatalf("FindVersion() = %+v, want id %s", loaded, registered.ID)
		}

		if len(loaded.Definition.Fields) != 2 {
			t.Errorf("FindVersion() fields = %d, want 2", len(loaded.Definition.Fields))
		}

		missing, err := store.FindVersion(ctx, tenant.ID, "P1", "fp-unknown")
		if err != nil {
			t.Fatalf("FindVersion() miss error = %v", err)
		}

		if missing != nil {
			t.Errorf("FindVersion() miss = %+v, want nil", missing)
		}
	}
}

func testJobLifecycle(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-jobs")
		store := NewJobStore(conn, nil)

		job := &ingestion.Job{
			ID:        uuid.NewString(),
			TenantID:  tenant.ID,
			TableCode: ingestion.TableP1,
			Status:    ingestion.StatusUploaded,
		}
		file := &ingestion.File{
			Filename:  "P1.csv",
			SHA256:    "abc123",
			SizeBytes: 42,
			Format:    ingestion.FormatCSV,
			BlobRef:   job.ID + "/P1.csv",
		}

		if err := store.CreateJob(ctx, job, []*ingestion.File{file}); err != nil {
			t.Fatalf("CreateJob() error = %v", err)
		}

		files, err := store.ListJobFiles(ctx, job.ID)
		if err != nil || len(files) != 1 {
			t.Fatalf("ListJobFiles() = %d files, error = %v, want 1 file", len(files), err)
		}

		if err := store.TransitionJob(ctx, job.ID, ingestion.StatusUploaded, ingestion.StatusParsing); err != nil {
			t.Fatalf("TransitionJob() error = %v", err)
		}

		// The CAS guard rejects a stale transition.
		err = store.TransitionJob(ctx, job.ID, ingestion.StatusUploaded, ingestion.StatusParsing)
		if !errors.Is(err, ingestion.ErrStatusConflict) {
			t.Errorf("TransitionJob() stale error = %v, want ErrStatusConflict", err)
		}

		rows := []*ingestion.StagingRow{
			{ID: uuid.NewString(), JobID: job.ID, FileID: files[0].ID, RowIndex: 1,
				Parsed: map[string]string{"Lot No": "238-2_01"}},
			{ID: uuid.NewString(), JobID: job.ID, FileID: files[0].ID, RowIndex: 2,
				Parsed: map[string]string{"Lot No": "bad lot"}},
		}

		if err := store.InsertStagingRows(ctx, rows); err != nil {
			t.Fatalf("InsertStagingRows() error = %v", err)
		}

		rows[1].AddError("Lot No", ingestion.CodeLotFormat, "unrecognized lot format", "bad lot")

		if err := store.UpdateStagingErrors(ctx, rows[1:]); err != nil {
			t.Fatalf("UpdateStagingErrors() error = %v", err)
		}

		staged, err := store.ListStagingRows(ctx, job.ID)
		if err != nil {
			t.Fatalf("ListStagingRows() error = %v", err)
		}

		if len(staged) != 2 || staged[0].HasErrors() || !staged[1].HasErrors() {
			t.Errorf("ListStagingRows() = %d rows, errors on rows %v/%v; want errors only on row 2",
				len(staged), staged[0].HasErrors(), staged[1].HasErrors())
		}

		findings, total, err := store.ListRowErrors(ctx, job.ID, 1, 10)
		if err != nil {
			t.Fatalf("ListRowErrors() error = %v", err)
		}

		if total != 1 || len(findings) != 1 || findings[0].Code != ingestion.CodeLotFormat {
			t.Errorf("ListRowErrors() = %d/%d findings, want one E_LOT_FORMAT", len(findings), total)
		}

		if err := store.UpdateJobCounters(ctx, job.ID, 40, 2, 1); err != nil {
			t.Fatalf("UpdateJobCounters() error = %v", err)
		}

		if err := store.SetJobResult(ctx, job.ID, ingestion.StatusFailed, 1,
			map[string]any{"stage": "validate"}); err != nil {
			t.Fatalf("SetJobResult() error = %v", err)
		}

		loaded, err := store.GetJob(ctx, tenant.ID, job.ID)
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}

		if loaded.Status != ingestion.StatusFailed || loaded.ErrorCount != 1 {
			t.Errorf("GetJob() status = %s errors = %d, want FAILED with 1", loaded.Status, loaded.ErrorCount)
		}

		if loaded.ErrorSummary["stage"] != "validate" {
			t.Errorf("GetJob() error_summary = %v, want stage=validate", loaded.ErrorSummary)
		}

		// Tenant scoping: another tenant cannot see the job.
		other := createTestTenant(ctx, t, conn, "t-jobs-other")
		if _, err := store.GetJob(ctx, other.ID, job.ID); !errors.Is(err, ingestion.ErrJobNotFound) {
			t.Errorf("GetJob() cross-tenant error = %v, want ErrJobNotFound", err)
		}

		jobs, total, err := store.ListJobs(ctx, tenant.ID, 1, 10)
		if err != nil || total != 1 || len(jobs) != 1 {
			t.Errorf("ListJobs() = %d/%d, error = %v, want exactly one job", len(jobs), total, err)
		}
	}
}

func testRecordCommitAndLineage(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-records")
		store := NewRecordStore(conn, nil)

		set := &ingestion.CommitSet{
			TenantID:  tenant.ID,
			TableCode: ingestion.TableP2,
			P2: []ingestion.P2Commit{
				{
					LotNorm:        238201,
					LotCanonical:   "0238201_01",
					ProductionDate: datePtr(2025, time.September, 2),
					HeaderData:     map[string]string{"Lot No": "238-2_01"},
					Items: []ingestion.P2Item{
						{RowID: uuid.NewString(), RowIndex: 1, WinderNumber: 1,
							RowData: map[string]string{"winder_number": "1"}},
						{RowID: uuid.NewString(), RowIndex: 2, WinderNumber: 2,
							RowData: map[string]string{"winder_number": "2"}},
					},
				},
			},
		}

		if err := store.CommitRecords(ctx, set); err != nil {
			t.Fatalf("CommitRecords() error = %v", err)
		}

		exists, err := store.P2Exists(ctx, tenant.ID, 238201)
		if err != nil || !exists {
			t.Errorf("P2Exists() = %v, error = %v, want true", exists, err)
		}

		exists, err = store.P1Exists(ctx, tenant.ID, 238201)
		if err != nil || exists {
			t.Errorf("P1Exists() = %v, error = %v, want false", exists, err)
		}

		// Replace semantics: recommitting the lot replaces the winder set.
		set.P2[0].Items = set.P2[0].Items[:1]

		if err := store.CommitRecords(ctx, set); err != nil {
			t.Fatalf("CommitRecords() recommit error = %v", err)
		}

		bundle, err := store.FindByLot(ctx, tenant.ID, 238201)
		if err != nil {
			t.Fatalf("FindByLot() error = %v", err)
		}

		if bundle.P2 == nil || len(bundle.P2Items) != 1 {
			t.Errorf("FindByLot() P2 items = %d, want 1 after replace", len(bundle.P2Items))
		}

		if bundle.P1 != nil || bundle.P3 != nil {
			t.Errorf("FindByLot() returned P1/P3 layers that were never committed")
		}
	}
}

func testRowEditAuditTrail(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-edits")
		store := NewRecordStore(conn, nil)

		set := &ingestion.CommitSet{
			TenantID:  tenant.ID,
			TableCode: ingestion.TableP1,
			P1: []ingestion.P1Row{
				{
					RowID:          uuid.NewString(),
					RowIndex:       1,
					LotNorm:        555501,
					LotCanonical:   "0555501_01",
					ProductionDate: datePtr(2025, time.August, 20),
					RowData:        map[string]string{"remarks": "initial"},
				},
			},
		}

		if err := store.CommitRecords(ctx, set); err != nil {
			t.Fatalf("CommitRecords() error = %v", err)
		}

		bundle, err := store.FindByLot(ctx, tenant.ID, 555501)
		if err != nil || bundle.P1 == nil {
			t.Fatalf("FindByLot() = %+v, error = %v, want a P1 record", bundle, err)
		}

		edit := &RowEdit{
			TenantID:  tenant.ID,
			TableCode: "P1",
			RecordID:  bundle.P1.ID,
			Field:     "remarks",
			NewValue:  "rechecked",
			EditedBy:  "integration",
		}

		if err := store.ApplyRowEdit(ctx, edit); err != nil {
			t.Fatalf("ApplyRowEdit() error = %v", err)
		}

		if edit.OldValue != "initial" {
			t.Errorf("ApplyRowEdit() old_value = %q, want initial", edit.OldValue)
		}

		edited, err := store.FindByLot(ctx, tenant.ID, 555501)
		if err != nil {
			t.Fatalf("FindByLot() after edit error = %v", err)
		}

		if edited.P1.RowData["remarks"] != "rechecked" {
			t.Errorf("row_data remarks = %q, want rechecked", edited.P1.RowData["remarks"])
		}

		edits, err := store.ListRowEdits(ctx, tenant.ID, bundle.P1.ID)
		if err != nil {
			t.Fatalf("ListRowEdits() error = %v", err)
		}

		if len(edits) != 1 || edits[0].NewValue != "rechecked" || edits[0].EditedBy != "integration" {
			t.Errorf("ListRowEdits() = %+v, want one rechecked entry by integration", edits)
		}

		missing := &RowEdit{
			TenantID: tenant.ID, TableCode: "P1", RecordID: uuid.NewString(),
			Field: "remarks", NewValue: "x",
		}
		if err := store.ApplyRowEdit(ctx, missing); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("ApplyRowEdit() missing record error = %v, want ErrRecordNotFound", err)
		}

		badTable := &RowEdit{
			TenantID: tenant.ID, TableCode: "P9", RecordID: bundle.P1.ID,
			Field: "remarks", NewValue: "x",
		}
		if err := store.ApplyRowEdit(ctx, badTable); !errors.Is(err, ErrInvalidEditTable) {
			t.Errorf("ApplyRowEdit() bad table error = %v, want ErrInvalidEditTable", err)
		}
	}
}

func testUniqueProductIDViolation(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-unique")
		store := NewRecordStore(conn, nil)

		first := &ingestion.CommitSet{
			TenantID:  tenant.ID,
			TableCode: ingestion.TableP3,
			P3: []ingestion.P3Commit{
				{
					LotNorm:      100001,
					LotCanonical: "0100001_01",
					Items: []ingestion.P3Item{
						{RowID: uuid.NewString(), RowIndex: 1, RowNo: 1, ProductID: "PRD-001",
							RowData: map[string]string{"product_id": "PRD-001"}},
					},
				},
			},
		}

		if err := store.CommitRecords(ctx, first); err != nil {
			t.Fatalf("CommitRecords() error = %v", err)
		}

		conflictRowID := uuid.NewString()
		second := &ingestion.CommitSet{
			TenantID:  tenant.ID,
			TableCode: ingestion.TableP3,
			P3: []ingestion.P3Commit{
				{
					LotNorm:      100002,
					LotCanonical: "0100002_02",
					Items: []ingestion.P3Item{
						{RowID: conflictRowID, RowIndex: 7, RowNo: 1, ProductID: "PRD-001",
							RowData: map[string]string{"product_id": "PRD-001"}},
					},
				},
			},
		}

		err := store.CommitRecords(ctx, second)

		var violation *ingestion.UniqueViolationError
		if !errors.As(err, &violation) {
			t.Fatalf("CommitRecords() error = %v, want UniqueViolationError", err)
		}

		if violation.RowID != conflictRowID || violation.RowIndex != 7 || violation.Field != "product_id" {
			t.Errorf("UniqueViolationError = %+v, want row %s index 7 field product_id", violation, conflictRowID)
		}

		// The whole second set rolled back.
		bundle, err := store.FindByLot(ctx, tenant.ID, 100002)
		if err != nil {
			t.Fatalf("FindByLot() error = %v", err)
		}

		if bundle.P3 != nil {
			t.Error("FindByLot() found the rolled-back lot")
		}
	}
}

func testQuerySearchAndOptions(ctx context.Context, conn *Connection) func(*testing.T) {
	return func(t *testing.T) {
		tenant := createTestTenant(ctx, t, conn, "t-query")
		records := NewRecordStore(conn, nil)
		queries := NewQueryStore(conn)

		winder := 3
		set := &ingestion.CommitSet{
			TenantID:  tenant.ID,
			TableCode: ingestion.TableP3,
			P1: []ingestion.P1Row{
				{RowID: uuid.NewString(), RowIndex: 1, LotNorm: 250717302,
					LotCanonical: "2507173_02", ProductionDate: datePtr(2025, time.July, 17),
					RowData: map[string]string{"Lot No": "2507173-02"}},
			},
			P3: []ingestion.P3Commit{
				{
					LotNorm:      250717302,
					LotCanonical: "2507173_02",
					Items: []ingestion.P3Item{
						{RowID: uuid.NewString(), RowIndex: 1, RowNo: 1, ProductID: "PX-100",
							LotRaw:         "2507173_02_3",
							ProductionDate: datePtr(2025, time.July, 18),
							SourceWinder:   &winder,
							RowData: map[string]string{
								"machine_no": "M-7", "mold_no": "K-2",
								"specification": "8mm", "bottom_tape_lot": "BT-9",
							}},
					},
				},
			},
		}

		if err := records.CommitRecords(ctx, set); err != nil {
			t.Fatalf("CommitRecords() error = %v", err)
		}

		p1Hits, total, err := queries.SearchP1(ctx, tenant.ID, SearchFilters{LotPattern: "2507173"}, 10, 0)
		if err != nil || total != 1 || len(p1Hits) != 1 {
			t.Errorf("SearchP1() = %d/%d, error = %v, want one hit", len(p1Hits), total, err)
		}

		items, total, err := queries.SearchP3Items(ctx, tenant.ID, SearchFilters{MachineNo: "M-7"}, 10, 0)
		if err != nil || total != 1 || len(items) != 1 {
			t.Fatalf("SearchP3Items() = %d/%d, error = %v, want one hit", len(items), total, err)
		}

		if items[0].MachineNo != "M-7" || items[0].ProductID == nil || *items[0].ProductID != "PX-100" {
			t.Errorf("SearchP3Items() item = %+v, want machine M-7 product PX-100", items[0])
		}

		if _, total, err := queries.SearchP3Items(ctx, tenant.ID, SearchFilters{MachineNo: "M-9"}, 10, 0); err != nil || total != 0 {
			t.Errorf("SearchP3Items() no-match total = %d, error = %v, want 0", total, err)
		}

		options, err := queries.Options(ctx, tenant.ID, "machine_no")
		if err != nil || len(options) != 1 || options[0] != "M-7" {
			t.Errorf("Options(machine_no) = %v, error = %v, want [M-7]", options, err)
		}

		if _, err := queries.Options(ctx, tenant.ID, "not_a_field"); !errors.Is(err, ErrUnknownOptionField) {
			t.Errorf("Options() unknown field error = %v, want ErrUnknownOptionField", err)
		}

		suggestions, err := queries.LotSuggestions(ctx, tenant.ID, "2507173", 10)
		if err != nil || len(suggestions) != 1 || suggestions[0] != "2507173_02" {
			t.Errorf("LotSuggestions() = %v, error = %v, want [2507173_02]", suggestions, err)
		}

		// Cross-tenant isolation.
		other := createTestTenant(ctx, t, conn, "t-query-other")
		if _, total, err := queries.SearchP1(ctx, other.ID, SearchFilters{}, 10, 0); err != nil || total != 0 {
			t.Errorf("SearchP1() cross-tenant total = %d, error = %v, want 0", total, err)
		}
	}
}
