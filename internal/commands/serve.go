package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/frno10/ExpenseTracker-sub000/internal/config"
	"github.com/frno10/ExpenseTracker-sub000/internal/core"
	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
	"github.com/frno10/ExpenseTracker-sub000/internal/expense"
	"github.com/frno10/ExpenseTracker-sub000/internal/logging"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
	"github.com/frno10/ExpenseTracker-sub000/internal/store"
	"github.com/frno10/ExpenseTracker-sub000/internal/web"
)

func newServeCommand() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the import API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, envFile)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	return cmd
}

// expenseBackend is the expense-side store set for one backend.
type expenseBackend struct {
	expenses   core.ExpenseStore
	merchants  core.MerchantStore
	categories core.CategoryStore
	close      func()
}

func runServe(ctx context.Context, envFile string) error {
	// Overload overwrites existing env vars
	loaded, err := config.LoadDotEnv(envFile)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "dotenv", loaded, "config", cfg.String())

	parserCfg, err := config.LoadParserConfig(cfg.Parsers.File)
	if err != nil {
		return err
	}
	registry, err := parser.NewDefaultRegistry(parserCfg, parser.FitzExtractor{}, logger)
	if err != nil {
		return fmt.Errorf("build parser registry: %w", err)
	}
	logger.Info("parsers registered", "count", registry.Count(), "names", registry.Names())

	backend, err := openExpenseBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	sessions, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}()

	files, err := store.NewLocalStorage(cfg.Upload.Dir)
	if err != nil {
		return err
	}

	service, err := core.NewService(core.Deps{
		Registry:   registry,
		Detector:   detect.New(cfg.Upload.EncodingSampleSize),
		Sessions:   sessions,
		Files:      files,
		Expenses:   backend.expenses,
		Merchants:  backend.merchants,
		Categories: backend.categories,
		Limiter:    core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime, logger),
		Audit:      sessions,
	}, core.Options{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		UploadTTL:         cfg.Upload.TTL,
		RollbackRetention: cfg.Upload.RollbackRetention,
		AuditRetention:    cfg.Upload.AuditRetention,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	janitor, err := core.NewJanitor(service, cfg.Upload.CleanupSchedule)
	if err != nil {
		return err
	}
	janitor.Start()
	defer janitor.Stop()

	server := web.NewServer(service, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Wait for active parses and imports to complete (with timeout)
	if status := service.LimiterStatus(); status.Active > 0 {
		logger.Info("waiting for imports to complete", "active", status.Active, "stages", status.Stages)
		if err := service.Drain(shutdownCtx); err != nil {
			logger.Warn("imports did not complete in time", "error", err)
		} else {
			logger.Info("all imports completed")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

// openExpenseBackend connects the configured expense store. The postgres
// backend runs its migration before returning.
func openExpenseBackend(ctx context.Context, cfg *config.Config) (*expenseBackend, error) {
	if cfg.Store.Backend == config.BackendMemory {
		slog.Warn("using in-memory expense store; expenses are lost on restart")
		mem := expense.NewMemoryStore()
		return &expenseBackend{
			expenses:   mem,
			merchants:  mem.Merchants(),
			categories: mem.Categories(),
			close:      func() {},
		}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	pg := expense.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &expenseBackend{
		expenses:   pg,
		merchants:  pg.Merchants(),
		categories: pg.Categories(),
		close:      pool.Close,
	}, nil
}

