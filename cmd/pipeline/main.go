package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/vetrecord-pipeline/internal/bootstrap"
	"github.com/kirillkom/vetrecord-pipeline/internal/config"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/observability/logging"
)

const (
	exitOK       = 0
	exitFailures = 1
	exitFatal    = 2
)

const usage = `usage: pipeline <command> [flags]

commands:
  scan      walk the source root and write the manifest
  run       process the manifest through ocr, scrub and mine
  dispatch  register the manifest and publish document ids to NATS workers
  status    print processing state counts, or one document with -document
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitFatal
	}

	cfg := config.Load()
	logger := logging.NewJSONLoggerTo(stderr, "pipeline", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	code := exitOK
	switch args[0] {
	case "scan":
		err = scanCmd(ctx, cfg, args[1:], stdout, logger)
	case "run":
		code, err = runCmd(ctx, cfg, args[1:], stdout, logger)
	case "dispatch":
		err = dispatchCmd(ctx, cfg, args[1:], stdout, logger)
	case "status":
		err = statusCmd(ctx, cfg, args[1:], stdout, logger)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return exitFatal
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		logger.Error("pipeline aborted", "command", args[0], "error", err, "kind", kindOf(err))
		return exitFatal
	}
	return code
}

func scanCmd(ctx context.Context, cfg config.Config, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	root := fs.String("root", cfg.SourceRoot, "source root to walk")
	manifestPath := fs.String("manifest", cfg.ManifestPath, "manifest output path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	manifest, err := app.Scanner.Scan(ctx, *root)
	if err != nil {
		return err
	}
	if err := app.Manifests.Save(ctx, *manifestPath, manifest); err != nil {
		return err
	}

	counts := map[domain.EntryStatus]int{}
	for _, entry := range manifest.Entries {
		counts[entry.Status]++
	}
	logger.Info("manifest written", "path", *manifestPath, "entries", len(manifest.Entries))
	return writeJSON(stdout, map[string]any{
		"manifest": *manifestPath,
		"entries":  len(manifest.Entries),
		"status":   counts,
	})
}

func runCmd(ctx context.Context, cfg config.Config, args []string, stdout io.Writer, logger *slog.Logger) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	manifestPath := fs.String("manifest", cfg.ManifestPath, "manifest path")
	runID := fs.String("run-id", "", "run identifier; generated when empty")
	stopAfter := fs.String("stop-after", "", "last stage to run: ocr_done, scrub_done, mined")
	rewind := fs.String("rewind", "", "rewind documents to this stage before running")
	retryFailed := fs.Bool("retry-failed", false, "retry failed documents from their failed stage")
	if err := fs.Parse(args); err != nil {
		return exitFatal, err
	}

	opts := domain.RunOptions{
		RunID:       *runID,
		StopAfter:   domain.Stage(*stopAfter),
		RetryFailed: *retryFailed,
		Rewind:      domain.Stage(*rewind),
	}
	if opts.Rewind != "" && !opts.Rewind.Valid() {
		return exitFatal, domain.WrapError(domain.ErrInvalidInput, "parse flags", fmt.Errorf("unknown stage %q", *rewind))
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return exitFatal, err
	}
	defer app.Close()
	app.ServeMetrics(ctx)

	manifest, err := app.Manifests.Load(ctx, *manifestPath)
	if err != nil {
		return exitFatal, err
	}
	pipeline, err := app.Pipeline(ctx)
	if err != nil {
		return exitFatal, err
	}

	report, err := pipeline.Runner.Run(ctx, manifest, opts)
	if err != nil {
		return exitFatal, err
	}
	logger.Info("batch finished",
		"run_id", report.RunID,
		"total", report.Total,
		"completed", report.Completed,
		"already_complete", report.AlreadyComplete,
		"failed", report.Failed,
		"incomplete", report.Incomplete,
	)

	summary := report
	summary.Documents = nil
	if err := writeJSON(stdout, summary); err != nil {
		return exitFatal, err
	}
	if report.HasFailures() {
		return exitFailures, nil
	}
	return exitOK, nil
}

func dispatchCmd(ctx context.Context, cfg config.Config, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	manifestPath := fs.String("manifest", cfg.ManifestPath, "manifest path")
	rewind := fs.String("rewind", "", "rewind documents to this stage before publishing")
	retryFailed := fs.Bool("retry-failed", false, "retry failed documents from their failed stage")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	manifest, err := app.Manifests.Load(ctx, *manifestPath)
	if err != nil {
		return err
	}
	queue, err := app.Queue(ctx)
	if err != nil {
		return err
	}

	opts := domain.RunOptions{
		RunID:       domain.NewRunID(),
		RetryFailed: *retryFailed,
		Rewind:      domain.Stage(*rewind),
	}
	if err := app.Preparer().Prepare(ctx, manifest, opts); err != nil {
		return err
	}

	published := 0
	for _, entry := range manifest.Processable() {
		state, err := app.States.Get(ctx, entry.DocumentID)
		if err != nil {
			return err
		}
		if state.Stage.Terminal() {
			continue
		}
		if err := queue.PublishDocument(ctx, entry.DocumentID); err != nil {
			return err
		}
		published++
	}
	logger.Info("documents dispatched", "subject", cfg.NATSSubject, "published", published)
	return writeJSON(stdout, map[string]any{"run_id": opts.RunID, "published": published})
}

func statusCmd(ctx context.Context, cfg config.Config, args []string, stdout io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	documentID := fs.String("document", "", "show one document with its events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if *documentID != "" {
		state, err := app.States.Get(ctx, *documentID)
		if err != nil {
			return err
		}
		events, err := app.Events.Events(ctx, *documentID)
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]any{"state": state, "events": events})
	}

	states, err := app.States.List(ctx)
	if err != nil {
		return err
	}
	byStage := map[domain.Stage]int{}
	reasons := map[domain.FailureReason]int{}
	for _, state := range states {
		byStage[state.Stage]++
		if state.FailureReason != "" {
			reasons[state.FailureReason]++
		}
	}
	return writeJSON(stdout, map[string]any{
		"total":           len(states),
		"stages":          byStage,
		"failure_reasons": reasons,
	})
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func kindOf(err error) string {
	for _, kind := range []error{
		domain.ErrConfiguration,
		domain.ErrInvalidInput,
		domain.ErrTemporary,
		domain.ErrStateConflict,
	} {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return "internal"
}
