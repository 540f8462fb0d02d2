// Package main provides the LineTrace ingestion and traceability service.
//
// LineTrace receives manufacturing line exports (extruder runs, slitting
// inspections, punching inspections), validates them against registered
// schemas, and serves cross-process traceability queries.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/linetrace-io/linetrace/internal/api"
	"github.com/linetrace-io/linetrace/internal/api/middleware"
	"github.com/linetrace-io/linetrace/internal/audit"
	"github.com/linetrace-io/linetrace/internal/config"
	"github.com/linetrace-io/linetrace/internal/flatten"
	"github.com/linetrace-io/linetrace/internal/ingestion"
	"github.com/linetrace-io/linetrace/internal/query"
	"github.com/linetrace-io/linetrace/internal/schema"
	"github.com/linetrace-io/linetrace/internal/storage"
)

// Version information.
const (
	version = "1.0.0"
	name    = "linetrace"
)

const pipelineDrainTimeout = 30 * time.Second

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("starting LineTrace service",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Int("max_upload_size_mb", serverConfig.MaxUploadSizeMB),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	logger.Info("database connected",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("pool_size", storageConfig.PoolSize),
		slog.Int("max_overflow", storageConfig.MaxOverflow),
	)

	blobStore, err := storage.NewFileBlobStore(storageConfig.UploadTempDir)
	if err != nil {
		logger.Error("failed to prepare upload blob directory",
			slog.String("dir", storageConfig.UploadTempDir),
			slog.String("error", err.Error()),
		)

		_ = dbConn.Close()
		//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
		os.Exit(1)
	}

	tenantStore := storage.NewTenantStore(dbConn)
	schemaStore := storage.NewSchemaStore(dbConn)
	jobStore := storage.NewJobStore(dbConn, logger)
	recordStore := storage.NewRecordStore(dbConn, logger)
	queryStore := storage.NewQueryStore(dbConn)
	userStore := storage.NewUserStore(dbConn)
	keyStore := storage.NewKeyStore(dbConn, storageConfig.HMACSecret(), logger)

	// Staging rows of terminal jobs expire after the configured TTL.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()

	jobStore.StartSweeper(sweepCtx, storageConfig.StagingTTL)

	pipeline := ingestion.NewPipeline(ingestion.PipelineConfig{
		Jobs:     jobStore,
		Records:  recordStore,
		Blobs:    blobStore,
		Registry: schema.NewRegistry(schemaStore),
		Lineage:  recordStore,
		Tenants:  tenantStore,
		Parser:   ingestion.NewParser(serverConfig.MaxUploadBytes()),
		Logger:   logger,
	})

	var profiles []*flatten.OutputMap

	if dir := config.GetEnvStr("FLATTEN_PROFILES_DIR", ""); dir != "" {
		loaded, err := flatten.LoadProfileDir(dir)
		if err != nil {
			logger.Error("failed to load flatten profiles",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)

			_ = dbConn.Close()
			os.Exit(1)
		}

		logger.Info("flatten profiles loaded",
			slog.String("dir", dir),
			slog.Int("count", len(loaded)),
		)

		profiles = append(profiles, loaded...)
	}

	flattener := flatten.New(flatten.Config{
		Store:         recordStore,
		GzipThreshold: config.GetEnvInt("AUTO_GZIP_THRESHOLD", flatten.DefaultGzipThreshold),
		WarnThreshold: config.GetEnvInt("MAX_RECORDS_PER_REQUEST", flatten.ForcedGzipThreshold),
		Profiles:      profiles,
		Logger:        logger,
	})

	authConfig := middleware.LoadAuthConfig()
	if err := authConfig.Validate(); err != nil {
		logger.Error("invalid auth configuration", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	if authConfig.Mode == middleware.AuthModeAPIKey {
		logger.Info("API key authentication enabled",
			slog.String("header", authConfig.Header),
			slog.Any("protect_prefixes", authConfig.ProtectPrefixes),
		)
	} else {
		logger.Warn("authentication disabled",
			slog.String("note", "set AUTH_MODE=api_key to require tenant API keys"),
		)
	}

	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadRateLimitConfig())

	auditConfig := audit.LoadConfig()

	publisher, err := audit.NewPublisher(auditConfig, logger)
	if err != nil {
		logger.Error("invalid audit configuration", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	if auditConfig.Enabled {
		logger.Info("audit event publishing enabled",
			slog.String("topic", auditConfig.Topic),
			slog.Any("brokers", auditConfig.Brokers),
		)
	}

	server := api.NewServer(serverConfig, &api.Dependencies{
		Imports:     pipeline,
		Queries:     query.NewService(queryStore, recordStore, logger),
		Flatten:     flattener,
		Edits:       recordStore,
		Tenants:     tenantStore,
		Users:       userStore,
		Keys:        keyStore,
		Health:      dbConn,
		AuthConfig:  authConfig,
		KeyAuth:     keyStore,
		RateLimiter: rateLimiter,
		Audit:       publisher,
	})

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	// Let in-flight import stages finish before dropping the database
	// connection.
	drainCtx, cancel := context.WithTimeout(context.Background(), pipelineDrainTimeout)
	defer cancel()

	if err := pipeline.Shutdown(drainCtx); err != nil {
		logger.Warn("import pipeline drain incomplete", slog.String("error", err.Error()))
	}

	logger.Info("LineTrace service stopped")
}
