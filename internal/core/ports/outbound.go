package ports

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// SourceWalker enumerates files below a root without following directory symlinks.
type SourceWalker interface {
	Walk(ctx context.Context, root string) ([]domain.SourceFile, error)
}

// ManifestStore persists manifests between scan and run.
type ManifestStore interface {
	Save(ctx context.Context, path string, manifest *domain.Manifest) error
	Load(ctx context.Context, path string) (*domain.Manifest, error)
}

// OCREngine extracts text from one source document.
type OCREngine interface {
	Extract(ctx context.Context, entry domain.ManifestEntry) (domain.OCRResult, error)
	Close() error
}

// PIIDetector proposes PII candidates over text using byte offsets.
type PIIDetector interface {
	Detect(ctx context.Context, text string) ([]domain.PIICandidate, error)
	Close() error
}

// WorkerHandles are the expensive per-worker resources. They are never shared
// between concurrent workers.
type WorkerHandles struct {
	OCR OCREngine
	PII PIIDetector
}

func (h *WorkerHandles) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	if h.OCR != nil {
		errs = append(errs, h.OCR.Close())
	}
	if h.PII != nil {
		errs = append(errs, h.PII.Close())
	}
	return errors.Join(errs...)
}

// HandleFactory builds worker-local handles.
type HandleFactory interface {
	NewHandles(ctx context.Context, workerID int) (*WorkerHandles, error)
}

// StateStore is the durable per-document state machine. Every mutation is a
// compare-and-set on the current stage and owner.
type StateStore interface {
	Ensure(ctx context.Context, documentIDs []string) error
	Get(ctx context.Context, documentID string) (*domain.ProcessingState, error)
	List(ctx context.Context) ([]domain.ProcessingState, error)
	Claim(ctx context.Context, documentID, owner string) (*domain.ProcessingState, bool, error)
	Advance(ctx context.Context, documentID, owner string, from, to domain.Stage) error
	Fail(ctx context.Context, documentID, owner string, from domain.Stage, reason domain.FailureReason, detail string) error
	Release(ctx context.Context, documentID, owner string) error
	ReleaseStale(ctx context.Context, owner string) (int, error)
	Rewind(ctx context.Context, documentID string, to domain.Stage) (bool, error)
}

// AuditLog records processing events and mined fields for later querying.
type AuditLog interface {
	RecordEvent(ctx context.Context, event domain.ProcessEvent) error
	SaveMinedFields(ctx context.Context, documentID string, fields []domain.MinedField) error
}

// ArtifactStore persists stage outputs. Writes are atomic per artifact.
type ArtifactStore interface {
	SaveOCR(ctx context.Context, result domain.OCRResult) error
	LoadOCR(ctx context.Context, documentID string) (domain.OCRResult, error)
	SaveScrub(ctx context.Context, result domain.ScrubResult) error
	LoadScrub(ctx context.Context, documentID string) (domain.ScrubResult, error)
	SaveMined(ctx context.Context, documentID string, fields []domain.MinedField) error
	LoadMined(ctx context.Context, documentID string) ([]domain.MinedField, error)
	SaveReport(ctx context.Context, report domain.BatchReport) error
	LatestReport(ctx context.Context) (domain.BatchReport, error)
}

// DispatchQueue distributes document ids to worker processes.
type DispatchQueue interface {
	PublishDocument(ctx context.Context, documentID string) error
	SubscribeDocuments(ctx context.Context, handler func(context.Context, string) error) error
}

// PipelineObserver receives stage telemetry.
type PipelineObserver interface {
	StageStarted(stage domain.Stage)
	StageFinished(stage domain.Stage, duration time.Duration, err error)
	ObserveOCRConfidence(confidence float64)
	AddRedactions(label string, count int)
	DocumentFinished(outcome string)
}
