package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/agentflow/internal/api"
	"github.com/phrazzld/agentflow/internal/config"
	"github.com/phrazzld/agentflow/internal/events"
	"github.com/phrazzld/agentflow/internal/generation"
	"github.com/phrazzld/agentflow/internal/platform/filestore"
	"github.com/phrazzld/agentflow/internal/platform/gemini"
	"github.com/phrazzld/agentflow/internal/platform/logger"
	"github.com/phrazzld/agentflow/internal/platform/memory"
	"github.com/phrazzld/agentflow/internal/platform/metrics"
	"github.com/phrazzld/agentflow/internal/platform/sqlstore"
	"github.com/phrazzld/agentflow/internal/service"
	"github.com/phrazzld/agentflow/internal/service/auth"
	"github.com/phrazzld/agentflow/internal/session"
	"github.com/phrazzld/agentflow/internal/sharing"
	"github.com/phrazzld/agentflow/internal/store"
	"github.com/phrazzld/agentflow/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds HTTP shutdown and the coordinator drain.
const shutdownTimeout = 10 * time.Second

// application holds the wired components and releases them on cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	sessions    *session.Store
	sync        *sharing.Coordinator
	recorder    *service.OutcomeRecorder
	bus         *events.Bus
	registry    *prometheus.Registry
	coordinator *task.Coordinator
	tasks       *service.TaskService
	jwt         auth.JWTService
}

// newApplication wires every component from cfg. Logs go to logOut.
func newApplication(ctx context.Context, cfg *config.Config, logOut io.Writer) (*application, error) {
	log, err := logger.SetupWithWriter(cfg.Server, logOut)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	app := &application{config: cfg, logger: log}

	backend, db, err := buildBackend(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	app.db = db

	app.sessions = session.NewStore(backend, log)
	app.sync = sharing.NewCoordinator(app.sessions, log)
	app.sync.OnModeChange(func(mode sharing.Mode) {
		log.Info("session mode changed", "mode", mode)
	})
	if err := app.sync.Restore(ctx); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to restore sharing mode: %w", err)
	}
	app.recorder = service.NewOutcomeRecorder(app.sessions, app.sync, log)
	app.bus = events.NewBus(log, events.WithRecorder(app.recorder))

	generator, err := buildGenerator(ctx, cfg.LLM, log)
	if err != nil {
		app.cleanup()
		return nil, err
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := metrics.NewExporter(metrics.DefaultNamespace, app.registry, metrics.ExporterOptions{})
	if err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	app.coordinator = task.NewCoordinator(task.CoordinatorConfig{
		WorkerCount:   cfg.Coordinator.WorkerCount,
		MaxQueueDepth: cfg.Coordinator.MaxQueueDepth,
		HistorySize:   cfg.Coordinator.HistorySize,
	}, app.bus, exporter, log)

	app.tasks, err = service.NewTaskService(app.coordinator, app.bus, app.sync, generator, log)
	if err != nil {
		_ = app.shutdown(ctx)
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	if cfg.Auth.JWTSecret != "" {
		app.jwt, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			_ = app.shutdown(ctx)
			return nil, fmt.Errorf("failed to create JWT service: %w", err)
		}
	}

	log.Debug("application wired",
		"backend", cfg.Storage.Backend,
		"workers", cfg.Coordinator.WorkerCount,
		"generator_enabled", generator != nil,
		"auth_enabled", app.jwt != nil)
	return app, nil
}

// buildBackend opens the configured session backend. The returned database
// is nil for the memory and file backends.
func buildBackend(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (store.SessionBackend, *sql.DB, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewSessionBackend(), nil, nil

	case config.BackendFile:
		codec, err := filestore.CodecFor(cfg.Format)
		if err != nil {
			return nil, nil, err
		}
		backend, err := filestore.NewSessionBackend(cfg.Dir, codec, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session directory: %w", err)
		}
		return backend, nil, nil

	case config.BackendSQLite, config.BackendPostgres:
		dialect, dsn := sqlstore.DialectSQLite, cfg.SQLitePath
		if cfg.Backend == config.BackendPostgres {
			dialect, dsn = sqlstore.DialectPostgres, cfg.DatabaseURL
		}
		db, err := sqlstore.Open(ctx, dialect, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := sqlstore.Migrate(ctx, db, dialect, log); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return sqlstore.NewSessionBackend(db, dialect, log), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildGenerator returns nil without an API key; generation requests then
// fail with service.ErrGenerationUnavailable.
func buildGenerator(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (generation.Generator, error) {
	if cfg.GeminiAPIKey == "" {
		log.Info("no Gemini API key configured, generation disabled")
		return nil, nil
	}
	g, err := gemini.NewGenerator(ctx, log, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	return g, nil
}

// router builds the HTTP handler for the ops API.
func (app *application) router() http.Handler {
	return api.NewRouter(api.Dependencies{
		Sessions: app.sessions,
		Handles:  app.sync,
		Sync:     app.sync,
		Tasks:    app.tasks,
		Recorder: app.recorder,
		JWT:      app.jwt,
		Metrics:  promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		Logger:   app.logger,
	})
}

// shutdown drains the coordinator so every accepted task gets its outcome
// routed, then releases resources.
func (app *application) shutdown(ctx context.Context) error {
	var errs []error
	if app.coordinator != nil {
		if err := app.coordinator.Shutdown(ctx, true); err != nil {
			errs = append(errs, err)
		}
	}
	app.cleanup()
	return errors.Join(errs...)
}

// cleanup releases resources held by the application.
func (app *application) cleanup() {
	if app.db != nil {
		app.logger.Info("closing database connection")
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
		app.db = nil
	}
}

// close shuts the application down for short-lived commands.
func (app *application) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.shutdown(ctx); err != nil {
		app.logger.Error("shutdown failed", "error", err)
	}
}
