package ports

import (
	"context"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// ManifestScanner is the inbound contract for building a manifest from a source tree.
type ManifestScanner interface {
	Scan(ctx context.Context, root string) (*domain.Manifest, error)
}

// BatchRunner is the inbound contract for driving a manifest through all stages.
type BatchRunner interface {
	Run(ctx context.Context, manifest *domain.Manifest, opts domain.RunOptions) (domain.BatchReport, error)
}

// DocumentProcessor processes a single manifest entry with caller-owned handles.
type DocumentProcessor interface {
	ProcessOne(ctx context.Context, handles *WorkerHandles, entry domain.ManifestEntry, runID string) (domain.DocumentOutcome, error)
}

// StateReader is the read model for per-document processing state.
type StateReader interface {
	Get(ctx context.Context, documentID string) (*domain.ProcessingState, error)
	List(ctx context.Context) ([]domain.ProcessingState, error)
}

// ResultReader exposes persisted stage outputs and batch reports.
type ResultReader interface {
	LoadMined(ctx context.Context, documentID string) ([]domain.MinedField, error)
	LatestReport(ctx context.Context) (domain.BatchReport, error)
}

// EventReader exposes the audit trail of one document.
type EventReader interface {
	Events(ctx context.Context, documentID string) ([]domain.ProcessEvent, error)
}
