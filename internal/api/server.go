package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linetrace-io/linetrace/internal/api/middleware"
	"github.com/linetrace-io/linetrace/internal/audit"
	"github.com/linetrace-io/linetrace/internal/flatten"
	"github.com/linetrace-io/linetrace/internal/ingestion"
	"github.com/linetrace-io/linetrace/internal/query"
	"github.com/linetrace-io/linetrace/internal/storage"
)

const serviceVersion = "v1.0.0"

type (
	// ImportService is the job lifecycle surface. Implemented by
	// ingestion.Pipeline.
	ImportService interface {
		CreateJob(ctx context.Context, req ingestion.CreateJobRequest) (*ingestion.Job, error)
		GetJob(ctx context.Context, tenantID, jobID string) (*ingestion.Job, error)
		ListJobs(ctx context.Context, tenantID string, page, pageSize int) ([]*ingestion.Job, int, error)
		ListErrors(ctx context.Context, tenantID, jobID string, page, pageSize int) ([]*ingestion.JobRowError, int, error)
		Cancel(ctx context.Context, tenantID, jobID string) error
		Commit(ctx context.Context, tenantID, jobID string, force bool) (*ingestion.Job, error)
	}

	// QueryService is the read-side surface. Implemented by query.Service.
	QueryService interface {
		Search(ctx context.Context, tenantID string, req query.SearchRequest) (*query.SearchResult, error)
		Trace(ctx context.Context, tenantID, traceKey string) (*query.TraceDetail, error)
		Suggestions(ctx context.Context, tenantID, term string, limit int) ([]string, error)
		Options(ctx context.Context, tenantID, field string) ([]string, error)
	}

	// FlattenService is the traceability flattener surface. Implemented
	// by flatten.Flattener.
	FlattenService interface {
		ByProducts(ctx context.Context, tenantID, profile string, productIDs []string) (*flatten.Result, error)
		ByMonth(ctx context.Context, tenantID, profile string, year, month int) (*flatten.Result, error)
		Caps() flatten.Caps
	}

	// TenantDirectory is the tenant admin surface. Implemented by
	// storage.TenantStore.
	TenantDirectory interface {
		Create(ctx context.Context, tenant *storage.Tenant) error
		GetByID(ctx context.Context, tenantID string) (*storage.Tenant, error)
		List(ctx context.Context) ([]*storage.Tenant, error)
	}

	// UserDirectory is the login-user surface. Implemented by
	// storage.UserStore.
	UserDirectory interface {
		Create(ctx context.Context, tenantID, username, password string) (*storage.User, error)
		Authenticate(ctx context.Context, username, password string) (*storage.User, error)
	}

	// EditService applies inline record edits and serves their audit
	// trail. Implemented by storage.RecordStore.
	EditService interface {
		ApplyRowEdit(ctx context.Context, edit *storage.RowEdit) error
		ListRowEdits(ctx context.Context, tenantID, recordID string) ([]*storage.RowEdit, error)
	}

	// KeyIssuer mints tenant API keys. Implemented by storage.KeyStore.
	KeyIssuer interface {
		Create(ctx context.Context, tenantID, label string) (*storage.APIKey, string, error)
	}

	// HealthChecker verifies the storage backend. Implemented by
	// storage.Connection.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies bundles the runtime collaborators of the server.
	// Configuration (what) stays in ServerConfig; dependencies (how)
	// are injected here.
	Dependencies struct {
		Imports ImportService
		Queries QueryService
		Flatten FlattenService
		Edits   EditService
		Tenants TenantDirectory
		Users   UserDirectory
		Keys    KeyIssuer
		Health  HealthChecker

		AuthConfig  *middleware.AuthConfig
		KeyAuth     middleware.KeyAuthenticator
		RateLimiter middleware.RateLimiter
		Audit       *audit.Publisher
	}

	// Server is the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		deps       *Dependencies
		startTime  time.Time
	}
)

// NewServer creates the HTTP server with its middleware stack and routes.
func NewServer(cfg *ServerConfig, deps *Dependencies) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes(mux)

	if deps.KeyAuth == nil || deps.AuthConfig == nil || deps.AuthConfig.Mode == middleware.AuthModeOff {
		logger.Warn("API key authentication disabled")
	}

	if deps.RateLimiter == nil {
		logger.Warn("rate limiting disabled")
	}

	// Middleware executes top-to-bottom:
	//   correlation ID → recovery → auth → rate limit → audit →
	//   request logger → CORS.
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(deps.AuthConfig, deps.KeyAuth, logger),
		middleware.WithRateLimit(deps.RateLimiter, logger),
		middleware.WithAudit(deps.Audit),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown. Handles
// graceful shutdown on SIGINT and SIGTERM.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting LineTrace API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully drains the server and closes the closable
// dependencies.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if limiter, ok := s.deps.RateLimiter.(io.Closer); ok && limiter != nil {
		if err := limiter.Close(); err != nil {
			s.logger.Error("failed to close rate limiter", slog.String("error", err.Error()))
		}
	}

	if s.deps.Audit != nil {
		if err := s.deps.Audit.Close(); err != nil {
			s.logger.Error("failed to close audit publisher", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("server shutdown completed")

	return nil
}
