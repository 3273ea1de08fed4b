package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"payledger/internal/domain/payroll"
	"payledger/internal/platform/authz"
	"payledger/internal/platform/config"
	"payledger/internal/platform/db"
	"payledger/internal/platform/jobs"
	"payledger/internal/platform/logging"
	"payledger/internal/platform/metrics"
	"payledger/internal/storage/gormstore"
	"payledger/internal/storage/pgstore"
	"payledger/internal/transport/http/api"
	audithandler "payledger/internal/transport/http/handlers/audit"
	authhandler "payledger/internal/transport/http/handlers/auth"
	payrollhandler "payledger/internal/transport/http/handlers/payroll"
	"payledger/internal/transport/http/middleware"
)

type App struct {
	Config  config.Config
	Log     *zap.Logger
	DB      *pgxpool.Pool
	Store   payroll.Store
	Ledger  *payroll.Ledger
	Jobs    *jobs.Service
	Metrics *metrics.Collector
	Router  http.Handler

	closeStore func() error
}

// New wires the storage backend, the ledger and the HTTP router. The caller
// owns the returned App and must Close it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	app := &App{Config: cfg, Log: logger, Metrics: metrics.New()}

	if err := app.openStore(ctx); err != nil {
		_ = logger.Sync()
		return nil, err
	}

	mode, err := authz.ParseMode(cfg.AuthzMode, cfg.AuthzUnsafe)
	if err != nil {
		app.Close()
		return nil, err
	}
	authorizer, err := authz.New(cfg.AuthzModelPath, cfg.AuthzPolicyPath, mode, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	if mode != authz.ModeEnforce {
		logger.Warn("authorization is not enforced", zap.String("mode", string(mode)))
	}

	app.Ledger = payroll.NewLedger(app.Store, logger, payroll.WithMetrics(app.Metrics))
	app.Jobs = jobs.New(app.Ledger, cfg.ReconcileEvery, cfg.ReconcileRepair, logger)
	app.Router = app.routes(authorizer)
	return app, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.DBDriver {
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, a.Config)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		if a.Config.RunMigrations {
			applied, err := db.Migrate(ctx, pool, db.Migrations())
			if err != nil {
				pool.Close()
				return fmt.Errorf("migrations: %w", err)
			}
			if len(applied) > 0 {
				a.Log.Info("migrations applied", zap.Strings("versions", applied))
			}
		}
		a.DB = pool
		a.Store = pgstore.New(pool, a.Config.DBLockTimeout)
		a.closeStore = func() error { pool.Close(); return nil }
	case config.DriverSQLite:
		store, err := gormstore.Open(a.Config.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite open: %w", err)
		}
		a.Store = store
		a.closeStore = store.Close
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", a.Config.DBDriver)
	}
	a.Log.Info("storage ready", zap.String("driver", a.Config.DBDriver))
	return nil
}

func (a *App) routes(authorizer *authz.Authorizer) http.Handler {
	cfg := a.Config
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(a.Log))
	router.Use(middleware.Recoverer(a.Log))
	if cfg.MetricsEnabled {
		router.Use(middleware.Metrics(a.Metrics))
	}
	router.Use(middleware.SecureHeaders(cfg.Production()))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret, a.Log))
	router.Use(middleware.WriteRateLimit(cfg.WriteRateLimit, cfg.WriteRateWindow, a.Log))
	if cfg.RequestTimeout > 0 {
		router.Use(chimw.Timeout(cfg.RequestTimeout))
	}

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Store.Ping(ctx); err != nil {
			a.Log.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		authhandler.NewHandler(authorizer).RegisterRoutes(r)
		payrollhandler.NewHandler(a.Ledger, authorizer, a.Log).RegisterRoutes(r)
		audithandler.NewHandler(a.Ledger, authorizer, a.Log).RegisterRoutes(r)
	})

	return router
}

func (a *App) Close() {
	if a.closeStore != nil {
		if err := a.closeStore(); err != nil {
			a.Log.Warn("store close failed", zap.Error(err))
		}
		a.closeStore = nil
	}
	_ = a.Log.Sync()
}

// Run serves until ctx is cancelled, then drains in-flight requests for at
// most ShutdownTimeout.
func Run(ctx context.Context, cfg config.Config) error {
	app, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Jobs.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		app.Log.Info("payroll ledger listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	app.Log.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
