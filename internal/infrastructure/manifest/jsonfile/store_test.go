package jsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func TestSaveAndLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "manifest.json")
	manifest := &domain.Manifest{
		Version:     domain.ManifestVersion,
		Root:        "/data",
		GeneratedAt: time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC),
		Entries: []domain.ManifestEntry{{
			DocumentID:       domain.DocumentIDFor("/data/094-000001/a.pdf"),
			SourcePath:       "/data/094-000001/a.pdf",
			FileType:         domain.FileTypePDF,
			SubjectID:        "094-000001",
			EnrollmentStatus: domain.EnrollmentUnknown,
			Status:           domain.EntryOK,
		}},
	}
	store := NewStore()
	if err := store.Save(context.Background(), path, manifest); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := store.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Entries) != 1 || loaded.Entries[0] != manifest.Entries[0] {
		t.Fatalf("unexpected manifest %+v", loaded)
	}
}

func TestLoadRejectsDuplicatePaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	payload := `{"version":1,"root":"/data","entries":[
		{"document_id":"a","source_path":"/data/x.pdf","file_type":"pdf","status":"ok"},
		{"document_id":"b","source_path":"/data/x.pdf","file_type":"pdf","status":"ok"}]}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore().Load(context.Background(), path); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLoadMissingManifest(t *testing.T) {
	_, err := NewStore().Load(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
