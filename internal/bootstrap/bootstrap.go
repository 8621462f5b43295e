package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/config"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/usecase"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/manifest/jsonfile"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/reference"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/repository/memory"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/repository/sqlstore"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/resilience"
	scanfs "github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/scanner/localfs"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/vetrecord-pipeline/internal/observability/metrics"
)

// stateBackend bundles the three views every backend offers over one store.
type stateBackend interface {
	ports.StateStore
	ports.AuditLog
	ports.EventReader
}

type sqlBackend struct {
	*sqlstore.StateRepository
	*sqlstore.AuditRepository
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	States    ports.StateStore
	Audit     ports.AuditLog
	Events    ports.EventReader
	Artifacts *localfs.ArtifactStore
	Manifests ports.ManifestStore
	Scanner   ports.ManifestScanner
	Metrics   *metrics.PipelineMetrics
	Executor  *resilience.Executor

	closeFns []func()
}

// Pipeline is the processing side of the app: the coordinator plus the factory
// that gives each worker its own OCR engine and PII detector.
type Pipeline struct {
	Runner    ports.BatchRunner
	Processor ports.DocumentProcessor
	Handles   ports.HandleFactory
}

// New wires configuration, storage and the state backend. Tool handles are
// built separately by Pipeline so read-only binaries never touch them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Manifests: jsonfile.NewStore(),
		Metrics:   metrics.NewPipelineMetrics("pipeline"),
		Executor:  resilience.NewExecutor(resilienceConfig(cfg), logger),
	}

	storage, err := localfs.New(cfg.OutputDir)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "init output storage", err)
	}
	app.Artifacts = localfs.NewArtifactStore(storage)

	backend, closeFn, err := openStateBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.onClose(closeFn)
	app.States = backend
	app.Audit = backend
	app.Events = backend

	pattern, err := cfg.SubjectPattern()
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Scanner = usecase.NewScanUseCase(scanfs.NewWalker(), usecase.ScanOptions{
		SubjectPattern:   pattern,
		RequireSubjectID: cfg.RequireSubjectID,
	}, logger)

	return app, nil
}

// Pipeline builds the stages and coordinator. It fails with a configuration
// error before any document is touched when a tool or reference table is
// unusable.
func (a *App) Pipeline(ctx context.Context) (*Pipeline, error) {
	cfg := a.Config

	policy, inlineDenylist, err := cfg.ScrubPolicy()
	if err != nil {
		return nil, err
	}
	denylist := inlineDenylist
	if cfg.DenylistPath != "" {
		terms, err := reference.LoadDenylist(cfg.DenylistPath, cfg.DenylistColumn)
		if err != nil {
			return nil, err
		}
		denylist = append(denylist, terms...)
	}

	tables, err := reference.NewLoader(a.Logger).LoadTables(cfg.VisitTablePath, cfg.ProfileTablePath)
	if err != nil {
		return nil, err
	}
	subjectPattern, err := cfg.SubjectPattern()
	if err != nil {
		return nil, err
	}
	earliest, err := cfg.EarliestDate()
	if err != nil {
		return nil, err
	}

	handles := newHandleFactory(cfg, policy, a.Executor, a.Logger)
	if err := handles.check(ctx); err != nil {
		return nil, err
	}

	scrub, err := usecase.NewScrubStage(a.Artifacts, usecase.ScrubOptions{
		Policy:   policy,
		Denylist: denylist,
		// The sidecar client enforces PII_TIMEOUT itself; the stage deadline
		// only catches a handle that stopped answering.
		Timeout: 2 * cfg.PIITimeout,
	})
	if err != nil {
		return nil, err
	}
	mine := usecase.NewMineStage(a.Artifacts, a.Audit, tables, usecase.MineOptions{
		Source:         cfg.MineSource,
		WindowDays:     cfg.VisitWindowDays,
		EarliestDate:   earliest,
		SubjectPattern: subjectPattern,
	})

	coordinator := usecase.NewCoordinator(usecase.CoordinatorDeps{
		States:    a.States,
		Audit:     a.Audit,
		Artifacts: a.Artifacts,
		Handles:   handles,
		OCR:       usecase.NewOCRStage(a.Artifacts, cfg.OCRTimeout, cfg.OCRMaxAttempts, a.Logger),
		Scrub:     scrub,
		Mine:      mine,
		Observer:  a.Metrics,
	}, cfg.Concurrency, a.Logger)

	a.Logger.Info("pipeline ready",
		"concurrency", cfg.Concurrency,
		"pii_detector", cfg.PIIDetector,
		"model_id", policy.ModelID,
		"denylist_terms", len(denylist),
		"reference_subjects", len(tables.Visits),
	)
	return &Pipeline{Runner: coordinator, Processor: coordinator, Handles: handles}, nil
}

// Preparer returns a coordinator without stages or handles. Only Prepare may
// be called on it; dispatchers use it to register documents before publishing.
func (a *App) Preparer() *usecase.Coordinator {
	return usecase.NewCoordinator(usecase.CoordinatorDeps{
		States:    a.States,
		Audit:     a.Audit,
		Artifacts: a.Artifacts,
	}, 1, a.Logger)
}

// ServeMetrics exposes pipeline metrics on METRICS_PORT until ctx is done.
// It is a no-op when the port is unset.
func (a *App) ServeMetrics(ctx context.Context) {
	if a.Config.MetricsPort == "" {
		return
	}
	server := &http.Server{
		Addr:              ":" + a.Config.MetricsPort,
		Handler:           a.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info("metrics listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// Queue connects to NATS and waits until the server answers.
func (a *App) Queue(ctx context.Context) (ports.DispatchQueue, error) {
	queue, err := nats.New(a.Config.NATSURL, a.Config.NATSSubject, nats.Options{
		ResilienceExecutor: a.Executor,
		Logger:             a.Logger,
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "init message queue", err)
	}
	if err := resilience.WaitReady(ctx, "nats", queue.Ready, a.readiness(), a.Logger); err != nil {
		queue.Close()
		return nil, domain.WrapError(domain.ErrConfiguration, "wait for nats", err)
	}
	a.onClose(queue.Close)
	return queue, nil
}

func (a *App) readiness() resilience.ReadinessConfig {
	return readinessConfig(a.Config)
}

func (a *App) onClose(fn func()) {
	if fn != nil {
		a.closeFns = append(a.closeFns, fn)
	}
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func openStateBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (stateBackend, func(), error) {
	switch cfg.StateBackend {
	case config.BackendMemory:
		return memory.NewStateStore(), nil, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, domain.WrapError(domain.ErrConfiguration, "create sqlite directory", err)
		}
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, domain.WrapError(domain.ErrConfiguration, "open sqlite", err)
		}
		return sqlBackend{
			StateRepository: sqlite.NewStateRepository(db),
			AuditRepository: sqlite.NewAuditRepository(db),
		}, closeDB(db), nil

	case config.BackendPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, domain.WrapError(domain.ErrConfiguration, "open postgres", err)
		}
		probe := func(ctx context.Context) error { return postgres.Ping(ctx, db) }
		if err := resilience.WaitReady(ctx, "postgres", probe, readinessConfig(cfg), logger); err != nil {
			_ = db.Close()
			return nil, nil, domain.WrapError(domain.ErrConfiguration, "wait for postgres", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, domain.WrapError(domain.ErrConfiguration, "ensure schema", err)
		}
		return sqlBackend{
			StateRepository: postgres.NewStateRepository(db),
			AuditRepository: postgres.NewAuditRepository(db),
		}, closeDB(db), nil
	}
	return nil, nil, domain.WrapError(domain.ErrConfiguration, "open state backend", fmt.Errorf("unknown backend %q", cfg.StateBackend))
}

func closeDB(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	return out
}

func readinessConfig(cfg config.Config) resilience.ReadinessConfig {
	out := resilience.DefaultReadinessConfig()
	if cfg.ReadinessTimeout > 0 {
		out.Timeout = cfg.ReadinessTimeout
	}
	return out
}
