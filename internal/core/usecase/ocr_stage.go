package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

const defaultOCRAttempts = 2

type OCRStage struct {
	artifacts   ports.ArtifactStore
	timeout     time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewOCRStage(artifacts ports.ArtifactStore, timeout time.Duration, maxAttempts int, logger *slog.Logger) *OCRStage {
	if maxAttempts <= 0 || maxAttempts > defaultOCRAttempts {
		maxAttempts = defaultOCRAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRStage{
		artifacts:   artifacts,
		timeout:     timeout,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run extracts text for entry and persists it. Tool failures are retried once;
// content errors and timeouts are not.
func (s *OCRStage) Run(ctx context.Context, engine ports.OCREngine, entry domain.ManifestEntry) (domain.OCRResult, error) {
	result, err := s.extract(ctx, engine, entry)
	if err != nil {
		return domain.OCRResult{}, err
	}
	if err := s.artifacts.SaveOCR(ctx, result); err != nil {
		return domain.OCRResult{}, fmt.Errorf("save ocr output: %w", err)
	}
	return result, nil
}

func (s *OCRStage) extract(ctx context.Context, engine ports.OCREngine, entry domain.ManifestEntry) (domain.OCRResult, error) {
	var (
		result domain.OCRResult
		err    error
	)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, err = callWithTimeout(ctx, s.timeout, "ocr extract", func(callCtx context.Context) (domain.OCRResult, error) {
			return engine.Extract(callCtx, entry)
		})
		if err == nil || !domain.IsKind(err, domain.ErrToolInvocation) || attempt == s.maxAttempts {
			break
		}
		s.logger.Warn("ocr tool failed, retrying", "document_id", entry.DocumentID, "attempt", attempt, "error", err)
	}
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("extract text: %w", err)
	}

	result.DocumentID = entry.DocumentID
	if strings.TrimSpace(result.Text) == "" {
		return domain.OCRResult{}, domain.WrapError(domain.ErrContent, "extract text", errors.New("empty extracted text"))
	}
	return result, nil
}
