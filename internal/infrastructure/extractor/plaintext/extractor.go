package plaintext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

const EngineName = "plaintext"

// Extractor reads text sources directly. Their confidence is always 1.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, entry domain.ManifestEntry) (domain.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OCRResult{}, err
	}
	raw, err := os.ReadFile(entry.SourcePath)
	if err != nil {
		return domain.OCRResult{}, domain.WrapError(domain.ErrContent, "read source document", err)
	}
	raw = []byte(strings.TrimPrefix(string(raw), "\ufeff"))
	if !utf8.Valid(raw) {
		return domain.OCRResult{}, domain.WrapError(domain.ErrContent, "read source document", fmt.Errorf("not valid utf-8: %s", entry.SourcePath))
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return domain.OCRResult{}, domain.WrapError(domain.ErrContent, "read source document", errors.New("empty text file"))
	}
	return domain.NewOCRResult(entry.DocumentID, EngineName, []domain.PageText{{
		Page:       1,
		Text:       text,
		Confidence: 1,
		Source:     EngineName,
	}}), nil
}

func (e *Extractor) Close() error { return nil }
