package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func TestOCRStageRetriesToolFailureOnce(t *testing.T) {
	artifacts := newArtifactFake()
	engine := &ocrEngineFake{
		texts: map[string]string{"doc-1": "Patient seen"},
		errs:  []error{domain.WrapError(domain.ErrToolInvocation, "rasterize", errors.New("exit 99"))},
	}
	stage := NewOCRStage(artifacts, time.Second, 2, nil)

	result, err := stage.Run(context.Background(), engine, domain.ManifestEntry{DocumentID: "doc-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if engine.callCount("doc-1") != 2 {
		t.Fatalf("expected one retry, got %d calls", engine.callCount("doc-1"))
	}
	if _, err := artifacts.LoadOCR(context.Background(), "doc-1"); err != nil {
		t.Fatalf("expected persisted ocr output: %v", err)
	}
	if result.Confidence != 0.92 {
		t.Fatalf("unexpected confidence %v", result.Confidence)
	}
}

func TestOCRStageDoesNotRetryContentError(t *testing.T) {
	engine := &ocrEngineFake{errs: []error{domain.WrapError(domain.ErrContent, "validate pdf", errors.New("corrupt xref"))}}
	stage := NewOCRStage(newArtifactFake(), time.Second, 2, nil)

	_, err := stage.Run(context.Background(), engine, domain.ManifestEntry{DocumentID: "doc-1"})
	if !errors.Is(err, domain.ErrContent) {
		t.Fatalf("expected content error, got %v", err)
	}
	if engine.callCount("doc-1") != 1 {
		t.Fatalf("content errors must not be retried")
	}
}

func TestOCRStageRejectsEmptyText(t *testing.T) {
	engine := &ocrEngineFake{texts: map[string]string{"doc-1": "   "}}
	stage := NewOCRStage(newArtifactFake(), time.Second, 2, nil)
	if _, err := stage.Run(context.Background(), engine, domain.ManifestEntry{DocumentID: "doc-1"}); !errors.Is(err, domain.ErrContent) {
		t.Fatalf("expected content error for empty text, got %v", err)
	}
}

func TestOCRStageAbandonsSlowCall(t *testing.T) {
	engine := &ocrEngineFake{
		texts: map[string]string{"doc-1": "late"},
		delay: map[string]time.Duration{"doc-1": 200 * time.Millisecond},
	}
	stage := NewOCRStage(newArtifactFake(), 20*time.Millisecond, 2, nil)

	_, err := stage.Run(context.Background(), engine, domain.ManifestEntry{DocumentID: "doc-1"})
	var abandoned *AbandonedCallError
	if !errors.As(err, &abandoned) {
		t.Fatalf("expected abandoned call error, got %v", err)
	}
	if domain.ReasonOf(err) != domain.ReasonTimeout {
		t.Fatalf("expected timeout reason, got %s", domain.ReasonOf(err))
	}
	select {
	case <-abandoned.Done:
	case <-time.After(2 * time.Second):
		t.Fatalf("abandoned call never finished")
	}
	if engine.callCount("doc-1") != 1 {
		t.Fatalf("timeouts must not be retried")
	}
}
