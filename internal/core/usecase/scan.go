package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

type ScanOptions struct {
	SubjectPattern   *regexp.Regexp
	RequireSubjectID bool
}

type ScanUseCase struct {
	walker ports.SourceWalker
	opts   ScanOptions
	now    func() time.Time
	logger *slog.Logger
}

func NewScanUseCase(walker ports.SourceWalker, opts ScanOptions, logger *slog.Logger) *ScanUseCase {
	if opts.SubjectPattern == nil {
		opts.SubjectPattern = domain.DefaultSubjectIDPattern
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanUseCase{
		walker: walker,
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// Scan walks root and returns one manifest entry per distinct real file. When
// several paths resolve to the same file, the lexically first path wins.
func (uc *ScanUseCase) Scan(ctx context.Context, root string) (*domain.Manifest, error) {
	root = filepath.Clean(root)
	files, err := uc.walker.Walk(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("walk source root: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	seen := make(map[string]string, len(files))
	entries := make([]domain.ManifestEntry, 0, len(files))
	for _, file := range files {
		key := file.RealPath
		if key == "" {
			key = file.Path
		}
		if first, dup := seen[key]; dup {
			uc.logger.Info("skip duplicate path", "path", file.Path, "resolves_to", key, "kept", first)
			continue
		}
		seen[key] = file.Path

		entry := uc.classify(root, file, key)
		if uc.opts.RequireSubjectID && entry.SubjectID == "" {
			uc.logger.Info("skip file without subject id", "path", file.Path)
			continue
		}
		entries = append(entries, entry)
	}

	manifest := &domain.Manifest{
		Version:     domain.ManifestVersion,
		Root:        root,
		GeneratedAt: uc.now().UTC(),
		Entries:     entries,
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (uc *ScanUseCase) classify(root string, file domain.SourceFile, key string) domain.ManifestEntry {
	rel, err := filepath.Rel(root, file.Path)
	if err != nil {
		rel = file.Path
	}
	dir := filepath.Dir(rel)

	entry := domain.ManifestEntry{
		DocumentID:       domain.DocumentIDFor(key),
		SourcePath:       file.Path,
		RealPath:         file.RealPath,
		FileType:         domain.FileTypeForPath(file.Path),
		SizeBytes:        file.Size,
		SubjectID:        uc.opts.SubjectPattern.FindString(filepath.ToSlash(dir)),
		EnrollmentStatus: domain.EnrollmentStatusForPath(dir),
		Status:           domain.EntryOK,
	}
	switch {
	case file.Err != "":
		entry.Status = domain.EntryUnreadable
		entry.Error = file.Err
	case entry.FileType == domain.FileTypeUnsupported:
		entry.Status = domain.EntryUnsupported
	}
	return entry
}
