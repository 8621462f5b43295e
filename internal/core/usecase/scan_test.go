package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func TestScanDeduplicatesSymlinksAndClassifies(t *testing.T) {
	walker := &walkerFake{files: []domain.SourceFile{
		{Path: "/data/Enrolled Deceased/094-000001/visit.pdf", RealPath: "/data/Enrolled Deceased/094-000001/visit.pdf", Size: 10},
		{Path: "/data/a-link/visit.pdf", RealPath: "/data/Enrolled Deceased/094-000001/visit.pdf", Size: 10},
		{Path: "/data/094-000002/notes.txt", RealPath: "/data/094-000002/notes.txt", Size: 4},
		{Path: "/data/094-000002/scan.docx", RealPath: "/data/094-000002/scan.docx", Size: 4},
		{Path: "/data/094-000003/broken.png", Err: "permission denied"},
	}}
	uc := NewScanUseCase(walker, ScanOptions{}, nil)

	manifest, err := uc.Scan(context.Background(), "/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifest.Entries) != 4 {
		t.Fatalf("expected 4 entries after symlink dedupe, got %d", len(manifest.Entries))
	}

	byPath := map[string]domain.ManifestEntry{}
	for _, entry := range manifest.Entries {
		byPath[entry.SourcePath] = entry
	}
	if _, ok := byPath["/data/a-link/visit.pdf"]; ok {
		t.Fatalf("expected lexically later symlink path to be dropped")
	}
	kept, ok := byPath["/data/Enrolled Deceased/094-000001/visit.pdf"]
	if !ok {
		t.Fatalf("expected canonical path to be kept")
	}
	if kept.FileType != domain.FileTypePDF || kept.SubjectID != "094-000001" || kept.EnrollmentStatus != domain.EnrollmentDeceased {
		t.Fatalf("unexpected classification %+v", kept)
	}
	if byPath["/data/094-000002/scan.docx"].Status != domain.EntryUnsupported {
		t.Fatalf("expected docx to be unsupported")
	}
	broken := byPath["/data/094-000003/broken.png"]
	if broken.Status != domain.EntryUnreadable || broken.Error == "" {
		t.Fatalf("expected unreadable entry with reason, got %+v", broken)
	}
}

func TestScanIsDeterministic(t *testing.T) {
	walker := &walkerFake{files: []domain.SourceFile{
		{Path: "/data/b.txt", RealPath: "/data/b.txt"},
		{Path: "/data/a.txt", RealPath: "/data/a.txt"},
	}}
	uc := NewScanUseCase(walker, ScanOptions{}, nil)
	first, err := uc.Scan(context.Background(), "/data")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	second, err := uc.Scan(context.Background(), "/data")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for i := range first.Entries {
		if first.Entries[i].DocumentID != second.Entries[i].DocumentID {
			t.Fatalf("document ids must be stable across scans")
		}
	}
	if first.Entries[0].SourcePath != "/data/a.txt" {
		t.Fatalf("expected entries sorted by path")
	}
}

func TestScanRequireSubjectID(t *testing.T) {
	walker := &walkerFake{files: []domain.SourceFile{
		{Path: "/data/094-000001/a.txt", RealPath: "/data/094-000001/a.txt"},
		{Path: "/data/misc/b.txt", RealPath: "/data/misc/b.txt"},
	}}
	uc := NewScanUseCase(walker, ScanOptions{RequireSubjectID: true}, nil)
	manifest, err := uc.Scan(context.Background(), "/data")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(manifest.Entries) != 1 || manifest.Entries[0].SubjectID != "094-000001" {
		t.Fatalf("unexpected entries %+v", manifest.Entries)
	}
}

func TestScanWalkError(t *testing.T) {
	uc := NewScanUseCase(&walkerFake{err: domain.WrapError(domain.ErrConfiguration, "walk", errors.New("missing root"))}, ScanOptions{}, nil)
	if _, err := uc.Scan(context.Background(), "/missing"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
