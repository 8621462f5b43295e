package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/vetrecord-pipeline/internal/bootstrap"
	"github.com/kirillkom/vetrecord-pipeline/internal/config"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/usecase"
	"github.com/kirillkom/vetrecord-pipeline/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap error", "error", err)
		os.Exit(2)
	}
	defer app.Close()
	app.ServeMetrics(ctx)

	manifest, err := app.Manifests.Load(ctx, cfg.ManifestPath)
	if err != nil {
		logger.Error("load manifest", "path", cfg.ManifestPath, "error", err)
		os.Exit(2)
	}
	pipeline, err := app.Pipeline(ctx)
	if err != nil {
		logger.Error("pipeline setup", "error", err)
		os.Exit(2)
	}
	queue, err := app.Queue(ctx)
	if err != nil {
		logger.Error("queue setup", "error", err)
		os.Exit(2)
	}

	handles, err := pipeline.Handles.NewHandles(ctx, 0)
	if err != nil {
		logger.Error("create handles", "error", err)
		os.Exit(2)
	}
	defer func() { _ = handles.Close() }()

	runID := domain.NewRunID()
	logger.Info("worker subscribed", "subject", cfg.NATSSubject, "run_id", runID)

	// The subscription delivers messages one at a time, so handles are never
	// used concurrently.
	err = queue.SubscribeDocuments(ctx, func(msgCtx context.Context, documentID string) error {
		entry, ok := manifest.Entry(documentID)
		if !ok {
			return domain.WrapError(domain.ErrDocumentNotFound, "lookup manifest entry", errors.New(documentID))
		}
		outcome, err := pipeline.Processor.ProcessOne(msgCtx, handles, entry, runID)
		if err != nil {
			var abandoned *usecase.AbandonedCallError
			if errors.As(err, &abandoned) {
				handles = replaceHandles(msgCtx, pipeline.Handles, handles, abandoned, logger)
			}
			return err
		}
		logger.Info("document processed",
			"document_id", documentID,
			"stage", outcome.Stage,
			"status", outcome.Status,
			"duration_ms", outcome.DurationMillis,
		)
		return nil
	})
	if err != nil {
		logger.Error("worker subscribe error", "error", err)
		os.Exit(2)
	}
}

// replaceHandles retires handles held by an abandoned call and builds fresh
// ones. The old handles stay in use if the replacement cannot be built.
func replaceHandles(ctx context.Context, factory ports.HandleFactory, old *ports.WorkerHandles, abandoned *usecase.AbandonedCallError, logger *slog.Logger) *ports.WorkerHandles {
	fresh, err := factory.NewHandles(ctx, 0)
	if err != nil {
		logger.Error("replace handles", "error", err)
		return old
	}
	go func() {
		<-abandoned.Done
		_ = old.Close()
	}()
	return fresh
}
