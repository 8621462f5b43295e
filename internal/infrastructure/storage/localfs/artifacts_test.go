package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func newTestArtifactStore(t *testing.T) (*ArtifactStore, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := New(dir)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return NewArtifactStore(storage), dir
}

func TestArtifactStoreRoundTripsStageOutputs(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestArtifactStore(t)

	ocr := domain.NewOCRResult("doc-1", "tesseract", []domain.PageText{{Page: 1, Text: "Rex, 094-000001", Confidence: 0.9}})
	if err := store.SaveOCR(ctx, ocr); err != nil {
		t.Fatalf("save ocr: %v", err)
	}
	loaded, err := store.LoadOCR(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load ocr: %v", err)
	}
	if loaded.Text != ocr.Text || loaded.Confidence != ocr.Confidence || loaded.PageCount != 1 {
		t.Fatalf("unexpected ocr result %+v", loaded)
	}
	if _, err := os.Stat(filepath.Join(dir, "unstructured_text", "doc-1.txt")); err != nil {
		t.Fatalf("expected text artifact on disk: %v", err)
	}

	scrub := domain.ScrubResult{DocumentID: "doc-1", Text: "[PERSON], 094-000001"}
	if err := store.SaveScrub(ctx, scrub); err != nil {
		t.Fatalf("save scrub: %v", err)
	}
	loadedScrub, err := store.LoadScrub(ctx, "doc-1")
	if err != nil {
		t.Fatalf("load scrub: %v", err)
	}
	if loadedScrub.Text != scrub.Text || loadedScrub.Spans == nil {
		t.Fatalf("unexpected scrub result %+v", loadedScrub)
	}

	if err := store.SaveMined(ctx, "doc-1", nil); err != nil {
		t.Fatalf("save mined: %v", err)
	}
	fields, err := store.LoadMined(ctx, "doc-1")
	if err != nil || len(fields) != 0 {
		t.Fatalf("expected empty field list, got %+v err=%v", fields, err)
	}
}

func TestArtifactStoreMissingArtifact(t *testing.T) {
	store, _ := newTestArtifactStore(t)
	_, err := store.LoadScrub(context.Background(), "missing")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestArtifactStoreLatestReport(t *testing.T) {
	ctx := context.Background()
	store, dir := newTestArtifactStore(t)
	for _, runID := range []string{"run-1", "run-2"} {
		if err := store.SaveReport(ctx, domain.BatchReport{RunID: runID}); err != nil {
			t.Fatalf("save report: %v", err)
		}
	}
	report, err := store.LatestReport(ctx)
	if err != nil || report.RunID != "run-2" {
		t.Fatalf("expected latest report run-2, got %+v err=%v", report, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "reports", "run-1.json")); err != nil {
		t.Fatalf("expected per-run report: %v", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	storage, _ := New(dir)
	if err := storage.Save(context.Background(), "a/b.txt", bytesReader("hello")); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "a"))
	if len(entries) != 1 || entries[0].Name() != "b.txt" {
		t.Fatalf("unexpected directory contents %v", entries)
	}
}

func TestStorageRejectsKeysOutsideRoot(t *testing.T) {
	storage, _ := New(t.TempDir())
	for _, key := range []string{"../escape.txt", "/etc/passwd", "a/../../b", ""} {
		err := storage.Save(context.Background(), key, bytesReader("x"))
		if !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("key %q: expected invalid input, got %v", key, err)
		}
	}
}

func bytesReader(s string) *strings.Reader { return strings.NewReader(s) }
