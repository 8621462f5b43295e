package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

type Coordinator struct {
	states      ports.StateStore
	audit       ports.AuditLog
	artifacts   ports.ArtifactStore
	handles     ports.HandleFactory
	ocr         *OCRStage
	scrub       *ScrubStage
	mine        *MineStage
	observer    ports.PipelineObserver
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

type CoordinatorDeps struct {
	States    ports.StateStore
	Audit     ports.AuditLog
	Artifacts ports.ArtifactStore
	Handles   ports.HandleFactory
	OCR       *OCRStage
	Scrub     *ScrubStage
	Mine      *MineStage
	Observer  ports.PipelineObserver
}

func NewCoordinator(deps CoordinatorDeps, concurrency int, logger *slog.Logger) *Coordinator {
	if concurrency <= 0 {
		concurrency = 1
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		states:      deps.States,
		audit:       deps.Audit,
		artifacts:   deps.Artifacts,
		handles:     deps.Handles,
		ocr:         deps.OCR,
		scrub:       deps.Scrub,
		mine:        deps.Mine,
		observer:    deps.Observer,
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
	}
}

// Prepare registers every manifest entry in the state store, releases claims
// left by dead runs and applies the requested rewinds. Unreadable entries are
// failed immediately.
func (c *Coordinator) Prepare(ctx context.Context, manifest *domain.Manifest, opts domain.RunOptions) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	ids := make([]string, 0, len(manifest.Entries))
	for _, entry := range manifest.Entries {
		if entry.Status == domain.EntryUnsupported {
			continue
		}
		ids = append(ids, entry.DocumentID)
	}
	if err := c.states.Ensure(ctx, ids); err != nil {
		return fmt.Errorf("register documents: %w", err)
	}

	released, err := c.states.ReleaseStale(ctx, opts.RunID)
	if err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		c.logger.Info("released stale claims", "run_id", opts.RunID, "count", released)
	}

	for _, entry := range manifest.Entries {
		switch entry.Status {
		case domain.EntryUnreadable:
			c.failUnreadable(ctx, entry, opts.RunID)
		case domain.EntryOK:
			if err := c.rewind(ctx, entry.DocumentID, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Coordinator) rewind(ctx context.Context, documentID string, opts domain.RunOptions) error {
	if opts.Rewind != "" {
		if _, err := c.states.Rewind(ctx, documentID, opts.Rewind); err != nil && !domain.IsKind(err, domain.ErrStateConflict) {
			return fmt.Errorf("rewind %s: %w", documentID, err)
		}
	}
	if !opts.RetryFailed {
		return nil
	}
	state, err := c.states.Get(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load state %s: %w", documentID, err)
	}
	if state.Stage != domain.StageFailed || state.FailedStage == "" {
		return nil
	}
	if _, err := c.states.Rewind(ctx, documentID, state.FailedStage); err != nil && !domain.IsKind(err, domain.ErrStateConflict) {
		return fmt.Errorf("retry %s: %w", documentID, err)
	}
	return nil
}

func (c *Coordinator) failUnreadable(ctx context.Context, entry domain.ManifestEntry, runID string) {
	state, claimed, err := c.states.Claim(ctx, entry.DocumentID, runID)
	if err != nil || !claimed {
		return
	}
	detail := entry.Error
	if detail == "" {
		detail = "source file unreadable"
	}
	if err := c.states.Fail(ctx, entry.DocumentID, runID, state.Stage, domain.ReasonUnreadable, detail); err != nil {
		c.logger.Error("mark unreadable failed", "document_id", entry.DocumentID, "error", err)
		return
	}
	c.record(ctx, runID, entry.DocumentID, domain.StageFailed, domain.StatusFailed, detail)
}

// Run drives every processable entry towards complete with a bounded worker pool.
// Each worker owns its handles. A document failure never stops the batch.
func (c *Coordinator) Run(ctx context.Context, manifest *domain.Manifest, opts domain.RunOptions) (domain.BatchReport, error) {
	if opts.RunID == "" {
		opts.RunID = domain.NewRunID()
	}
	if opts.StopAfter != "" && !opts.StopAfter.Valid() {
		return domain.BatchReport{}, domain.WrapError(domain.ErrInvalidInput, "run batch", fmt.Errorf("unknown stage %q", opts.StopAfter))
	}
	startedAt := c.now().UTC()
	if err := c.Prepare(ctx, manifest, opts); err != nil {
		return domain.BatchReport{}, err
	}

	entries := manifest.Processable()
	outcomes := make([]domain.DocumentOutcome, len(entries))
	jobs := make(chan int)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range entries {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for workerID := 0; workerID < c.concurrency; workerID++ {
		g.Go(func() error {
			return c.work(gctx, workerID, opts, entries, outcomes, jobs)
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	report := c.buildReport(context.WithoutCancel(ctx), opts.RunID, startedAt, manifest, entries, outcomes)
	if err := c.artifacts.SaveReport(context.WithoutCancel(ctx), report); err != nil {
		return report, errors.Join(runErr, fmt.Errorf("save report: %w", err))
	}
	return report, runErr
}

func (c *Coordinator) work(ctx context.Context, workerID int, opts domain.RunOptions, entries []domain.ManifestEntry, outcomes []domain.DocumentOutcome, jobs <-chan int) error {
	handles, err := c.handles.NewHandles(ctx, workerID)
	if err != nil {
		return fmt.Errorf("create worker %d handles: %w", workerID, err)
	}
	defer func() {
		if handles != nil {
			_ = handles.Close()
		}
	}()

	for idx := range jobs {
		outcome, err := c.process(ctx, handles, entries[idx], opts)
		outcomes[idx] = outcome

		var abandoned *AbandonedCallError
		if errors.As(err, &abandoned) {
			c.retire(handles, abandoned)
			handles, err = c.handles.NewHandles(ctx, workerID)
			if err != nil {
				return fmt.Errorf("replace worker %d handles: %w", workerID, err)
			}
		}
	}
	return nil
}

// retire closes handles once the abandoned call that still holds them returns.
func (c *Coordinator) retire(handles *ports.WorkerHandles, abandoned *AbandonedCallError) {
	c.logger.Warn("discarding worker handles after timeout", "operation", abandoned.Operation, "timeout", abandoned.Timeout)
	go func() {
		<-abandoned.Done
		if err := handles.Close(); err != nil {
			c.logger.Warn("close abandoned handles", "error", err)
		}
	}()
}

// ProcessOne drives a single entry with caller-owned handles. The returned error
// is non-nil only when the handles must be discarded.
func (c *Coordinator) ProcessOne(ctx context.Context, handles *ports.WorkerHandles, entry domain.ManifestEntry, runID string) (domain.DocumentOutcome, error) {
	return c.process(ctx, handles, entry, domain.RunOptions{RunID: runID})
}

func (c *Coordinator) process(ctx context.Context, handles *ports.WorkerHandles, entry domain.ManifestEntry, opts domain.RunOptions) (domain.DocumentOutcome, error) {
	started := c.now()
	outcome := domain.DocumentOutcome{DocumentID: entry.DocumentID, SourcePath: entry.SourcePath}
	finish := func(stage domain.Stage, status domain.Status) domain.DocumentOutcome {
		outcome.Stage = stage
		outcome.Status = status
		outcome.DurationMillis = c.now().Sub(started).Milliseconds()
		return outcome
	}

	state, claimed, err := c.states.Claim(ctx, entry.DocumentID, opts.RunID)
	if err != nil {
		outcome.Error = err.Error()
		return finish(domain.StagePending, domain.StatusPending), nil
	}
	if !claimed {
		outcome.AlreadyComplete = state.Stage == domain.StageComplete
		outcome.FailedStage = state.FailedStage
		outcome.FailureReason = state.FailureReason
		return finish(state.Stage, state.Status), nil
	}

	stage := state.Stage
	for stage != domain.StageComplete {
		if opts.StopAfter != "" && stage.AtOrAfter(opts.StopAfter) {
			break
		}
		next, err := c.runStage(ctx, handles, entry, stage, &outcome)
		if err != nil {
			if ctx.Err() != nil {
				c.release(entry.DocumentID, opts.RunID)
				outcome.Error = ctx.Err().Error()
				return finish(stage, domain.StatusPending), nil
			}
			reason := domain.ReasonOf(err)
			if failErr := c.states.Fail(ctx, entry.DocumentID, opts.RunID, stage, reason, err.Error()); failErr != nil {
				c.logger.Error("mark failed", "document_id", entry.DocumentID, "error", failErr)
			}
			c.record(ctx, opts.RunID, entry.DocumentID, domain.StageFailed, domain.StatusFailed, err.Error())
			c.observer.DocumentFinished(string(domain.StatusFailed))
			c.logger.Warn("document failed", "document_id", entry.DocumentID, "stage", stage, "reason", reason, "error", err)
			outcome.FailedStage = stage
			outcome.FailureReason = reason
			outcome.Error = err.Error()
			var abandoned *AbandonedCallError
			if errors.As(err, &abandoned) {
				return finish(domain.StageFailed, domain.StatusFailed), abandoned
			}
			return finish(domain.StageFailed, domain.StatusFailed), nil
		}
		if err := c.states.Advance(ctx, entry.DocumentID, opts.RunID, stage, next); err != nil {
			c.logger.Error("advance state", "document_id", entry.DocumentID, "from", stage, "to", next, "error", err)
			outcome.Error = err.Error()
			return finish(stage, domain.StatusPending), nil
		}
		status := domain.StatusInProgress
		if next == domain.StageComplete {
			status = domain.StatusDone
		}
		c.record(ctx, opts.RunID, entry.DocumentID, next, status, "")
		stage = next
	}

	if stage != domain.StageComplete {
		c.release(entry.DocumentID, opts.RunID)
		return finish(stage, domain.StatusPending), nil
	}
	c.observer.DocumentFinished(string(domain.StageComplete))
	return finish(stage, domain.StatusDone), nil
}

func (c *Coordinator) runStage(ctx context.Context, handles *ports.WorkerHandles, entry domain.ManifestEntry, stage domain.Stage, outcome *domain.DocumentOutcome) (domain.Stage, error) {
	next, ok := stage.Next()
	if !ok {
		return "", domain.WrapError(domain.ErrStateConflict, "run stage", fmt.Errorf("no stage after %s", stage))
	}

	c.observer.StageStarted(next)
	started := c.now()
	var err error
	switch stage {
	case domain.StagePending:
		var result domain.OCRResult
		result, err = c.ocr.Run(ctx, handles.OCR, entry)
		if err == nil {
			outcome.Confidence = result.Confidence
			c.observer.ObserveOCRConfidence(result.Confidence)
		}
	case domain.StageOCRDone:
		var result domain.ScrubResult
		result, err = c.scrub.Run(ctx, handles.PII, entry.DocumentID)
		if err == nil {
			counts := map[string]int{}
			for _, span := range result.Spans {
				counts[span.Label]++
			}
			for label, n := range counts {
				c.observer.AddRedactions(label, n)
			}
		}
	case domain.StageScrubDone:
		_, err = c.mine.Run(ctx, entry)
	case domain.StageMined:
		err = c.verify(ctx, entry.DocumentID)
	}
	c.observer.StageFinished(next, c.now().Sub(started), err)
	return next, err
}

// verify checks that every stage output of a document exists and is well formed
// before the document is marked complete.
func (c *Coordinator) verify(ctx context.Context, documentID string) error {
	ocr, err := c.artifacts.LoadOCR(ctx, documentID)
	if err != nil {
		return fmt.Errorf("verify ocr output: %w", err)
	}
	scrubbed, err := c.artifacts.LoadScrub(ctx, documentID)
	if err != nil {
		return fmt.Errorf("verify scrub output: %w", err)
	}
	if err := domain.ValidateSpans(len(ocr.Text), scrubbed.Spans, c.scrub.Policy()); err != nil {
		return fmt.Errorf("verify scrub spans: %w", err)
	}
	if _, err := c.artifacts.LoadMined(ctx, documentID); err != nil {
		return fmt.Errorf("verify mined metadata: %w", err)
	}
	return nil
}

func (c *Coordinator) release(documentID, runID string) {
	if err := c.states.Release(context.Background(), documentID, runID); err != nil && !domain.IsKind(err, domain.ErrStateConflict) {
		c.logger.Error("release claim", "document_id", documentID, "error", err)
	}
}

func (c *Coordinator) record(ctx context.Context, runID, documentID string, stage domain.Stage, status domain.Status, detail string) {
	if c.audit == nil {
		return
	}
	event := domain.ProcessEvent{
		RunID:      runID,
		DocumentID: documentID,
		Stage:      stage,
		Status:     status,
		Detail:     detail,
		At:         c.now().UTC(),
	}
	if err := c.audit.RecordEvent(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("record process event", "document_id", documentID, "error", err)
	}
}

func (c *Coordinator) buildReport(ctx context.Context, runID string, startedAt time.Time, manifest *domain.Manifest, entries []domain.ManifestEntry, outcomes []domain.DocumentOutcome) domain.BatchReport {
	report := domain.BatchReport{
		RunID:          runID,
		StartedAt:      startedAt,
		Total:          len(manifest.Entries),
		FailureReasons: map[string]int{},
	}
	var confidences []float64
	byID := make(map[string]domain.DocumentOutcome, len(outcomes))
	for i, outcome := range outcomes {
		if outcome.DocumentID == "" {
			outcome = domain.DocumentOutcome{DocumentID: entries[i].DocumentID, SourcePath: entries[i].SourcePath}
		}
		byID[outcome.DocumentID] = outcome
	}

	for _, entry := range manifest.Entries {
		if entry.Status == domain.EntryUnsupported {
			report.Unsupported++
			report.Documents = append(report.Documents, domain.DocumentOutcome{
				DocumentID: entry.DocumentID,
				SourcePath: entry.SourcePath,
				Error:      "unsupported file type",
			})
			continue
		}
		outcome, ok := byID[entry.DocumentID]
		if !ok {
			outcome = domain.DocumentOutcome{DocumentID: entry.DocumentID, SourcePath: entry.SourcePath}
		}
		if state, err := c.states.Get(ctx, entry.DocumentID); err == nil {
			outcome.Stage = state.Stage
			outcome.Status = state.Status
			outcome.FailedStage = state.FailedStage
			outcome.FailureReason = state.FailureReason
			if outcome.Error == "" {
				outcome.Error = state.ErrorDetail
			}
		}
		if outcome.Confidence == 0 && outcome.Stage.AtOrAfter(domain.StageOCRDone) {
			if ocr, err := c.artifacts.LoadOCR(ctx, entry.DocumentID); err == nil {
				outcome.Confidence = ocr.Confidence
			}
		}

		switch outcome.Stage {
		case domain.StageComplete:
			report.Completed++
			if outcome.AlreadyComplete {
				report.AlreadyComplete++
			}
			confidences = append(confidences, outcome.Confidence)
		case domain.StageFailed:
			report.Failed++
			report.FailureReasons[string(outcome.FailureReason)]++
		default:
			report.Incomplete++
		}
		report.Documents = append(report.Documents, outcome)
	}
	report.ConfidenceBins = domain.BinConfidences(confidences)
	report.FinishedAt = c.now().UTC()
	return report
}

type noopObserver struct{}

func (noopObserver) StageStarted(domain.Stage)                        {}
func (noopObserver) StageFinished(domain.Stage, time.Duration, error) {}
func (noopObserver) ObserveOCRConfidence(float64)                     {}
func (noopObserver) AddRedactions(string, int)                        {}
func (noopObserver) DocumentFinished(string)                          {}
