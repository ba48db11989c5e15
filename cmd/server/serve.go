package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/soaringjerry/surveyledger/internal/api"
	"github.com/soaringjerry/surveyledger/internal/config"
	"github.com/soaringjerry/surveyledger/internal/db"
	"github.com/soaringjerry/surveyledger/internal/middleware"
	"github.com/soaringjerry/surveyledger/internal/utils"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd, config.FromContext(cmd.Context()))
		},
	}
}

// openStore returns the configured backend. For the memory backend the
// returned flush func writes the snapshot back to disk.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (api.Store, func() error, error) {
	switch cfg.Storage {
	case config.StorageSQLite, config.StoragePostgres:
		dialect, target := db.DialectSQLite, cfg.SqlitePath
		if cfg.Storage == config.StoragePostgres {
			dialect, target = db.DialectPostgres, cfg.DatabaseURL
		}
		st, err := db.NewStore(ctx, dialect, target, cfg.MigrationsDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, func() error { return nil }, nil
	}
	st, err := api.NewMemoryStoreFromPath(cfg.SnapshotPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, err
	}
	if cfg.SnapshotPath == "" {
		logger.Warn("memory storage without snapshotPath; data is lost on exit", "component", programName)
	}
	return st, func() error { return api.SaveSnapshot(st, cfg.SnapshotPath) }, nil
}

func newHandler(cfg *config.Config, store api.Store, logger *slog.Logger) (http.Handler, error) {
	share, err := cfg.CommerceShare()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	api.NewRouter(store, api.RouterOptions{
		Limiter:          middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		Logger:           logger,
		PassPrice:        cfg.PassPrice,
		MinCommerceShare: share,
		BulkConcurrency:  cfg.BulkConcurrency,
		ConflictRetries:  cfg.ConflictRetries,
		Metrics:          cfg.MetricsEnabled,
		Commit:           utils.SafeEnv("SURVEYLEDGER_COMMIT", "dev"),
	}).Register(mux)

	def := "en"
	if len(cfg.Locales) > 0 {
		def = cfg.Locales[0]
	}
	var h http.Handler = mux
	h = middleware.Locale(cfg.Locales, def)(h)
	h = middleware.RequestLogger(logger)(h)
	h = middleware.NewAuth(cfg.JWTSecret).WithAuth(h)
	h = middleware.SecureHeaders(middleware.NoStore(h))
	h = middleware.CORS(cfg.CORSOrigins)(h)
	if cfg.TracingEnabled {
		h = otelhttp.NewHandler(h, programName)
	}
	return h, nil
}

func serveRun(cmd *cobra.Command, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("no config found in context")
	}
	logger := commonRun(cfg)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := setupTracing(ctx)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("tracer shutdown", "component", programName, "error", err)
			}
		}()
	}
	if cfg.JWTSecret == "" {
		logger.Warn("jwtSecret not set; using the development secret", "component", programName)
	}

	store, flush, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage, err)
	}
	if cfg.Storage != config.StorageMemory {
		if err := importSnapshotIfEmpty(ctx, cfg.SnapshotPath, store, logger); err != nil {
			_ = store.Close()
			return fmt.Errorf("import snapshot: %w", err)
		}
	}
	defer func() {
		if err := flush(); err != nil {
			logger.Error("snapshot save failed", "component", programName, "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Warn("store close", "component", programName, "error", err)
		}
	}()

	handler, err := newHandler(cfg, store, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ShutdownTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "component", programName, "addr", cfg.BindAddr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down", "component", programName)
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
