package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/infrastructure/extractor/plaintext"
)

const (
	sourceTextLayer = "text_layer"
)

// PageRecognizer recognizes text on a single rendered page or image file.
// Confidence is reported on the unit interval.
type PageRecognizer interface {
	RecognizeFile(ctx context.Context, path string) (string, float64, error)
	Name() string
	Close() error
}

// BlockRecognizer is implemented by recognizers that can also report the
// text lines of a page with their own confidence.
type BlockRecognizer interface {
	RecognizeBlocks(ctx context.Context, path string) (domain.PageText, error)
}

type Options struct {
	Rasterizer      *Rasterizer
	PreferTextLayer bool
	// Granularity defaults to per-page reporting.
	Granularity domain.OCRGranularity
	WorkDir     string
	Logger      *slog.Logger
}

// Engine routes a manifest entry to the extractor for its file type. One Engine
// owns one recognizer and must not be shared between concurrent workers.
type Engine struct {
	recognizer      PageRecognizer
	text            *plaintext.Extractor
	rasterizer      *Rasterizer
	preferTextLayer bool
	granularity     domain.OCRGranularity
	workDir         string
	logger          *slog.Logger
}

func NewEngine(recognizer PageRecognizer, opts Options) *Engine {
	if opts.Rasterizer == nil {
		opts.Rasterizer = NewRasterizer("", 0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if !opts.Granularity.Valid() {
		opts.Granularity = domain.GranularityPage
	}
	return &Engine{
		recognizer:      recognizer,
		text:            plaintext.NewExtractor(),
		rasterizer:      opts.Rasterizer,
		preferTextLayer: opts.PreferTextLayer,
		granularity:     opts.Granularity,
		workDir:         opts.WorkDir,
		logger:          opts.Logger,
	}
}

func (e *Engine) Extract(ctx context.Context, entry domain.ManifestEntry) (domain.OCRResult, error) {
	var (
		result domain.OCRResult
		err    error
	)
	switch entry.FileType {
	case domain.FileTypeText:
		result, err = e.text.Extract(ctx, entry)
	case domain.FileTypeImage:
		result, err = e.extractImage(ctx, entry)
	case domain.FileTypePDF:
		result, err = e.extractPDF(ctx, entry)
	default:
		err = domain.WrapError(domain.ErrContent, "extract", fmt.Errorf("unsupported file type %q", entry.FileType))
	}
	if err != nil {
		return domain.OCRResult{}, err
	}
	if e.granularity == domain.GranularityDocument {
		result = result.Collapsed()
	}
	return result, nil
}

func (e *Engine) Close() error {
	if e.recognizer == nil {
		return nil
	}
	return e.recognizer.Close()
}

func (e *Engine) extractImage(ctx context.Context, entry domain.ManifestEntry) (domain.OCRResult, error) {
	page, err := e.recognizePage(ctx, 1, entry.SourcePath)
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("recognize image: %w", err)
	}
	return domain.NewOCRResult(entry.DocumentID, e.recognizer.Name(), []domain.PageText{page}), nil
}

// recognizePage OCRs one image, with text lines when block granularity is
// requested and the recognizer supports it.
func (e *Engine) recognizePage(ctx context.Context, number int, path string) (domain.PageText, error) {
	if blocks, ok := e.recognizer.(BlockRecognizer); ok && e.granularity == domain.GranularityBlock {
		page, err := blocks.RecognizeBlocks(ctx, path)
		if err != nil {
			return domain.PageText{}, err
		}
		page.Page = number
		page.Source = e.recognizer.Name()
		return page, nil
	}
	text, confidence, err := e.recognizer.RecognizeFile(ctx, path)
	if err != nil {
		return domain.PageText{}, err
	}
	return domain.PageText{Page: number, Text: text, Confidence: confidence, Source: e.recognizer.Name()}, nil
}

func (e *Engine) extractPDF(ctx context.Context, entry domain.ManifestEntry) (domain.OCRResult, error) {
	pageCount, err := inspectPDF(entry.SourcePath)
	if err != nil {
		return domain.OCRResult{}, err
	}

	layer := map[int]string{}
	if e.preferTextLayer {
		layer, err = readTextLayer(entry.SourcePath)
		if err != nil {
			e.logger.Warn("pdf text layer unreadable, falling back to ocr", "document_id", entry.DocumentID, "error", err)
			layer = map[int]string{}
		}
	}

	var images []string
	if len(layer) < pageCount {
		workDir, err := os.MkdirTemp(e.workDir, "ocr-*")
		if err != nil {
			return domain.OCRResult{}, fmt.Errorf("create work dir: %w", err)
		}
		defer os.RemoveAll(workDir)

		images, err = e.rasterizer.Rasterize(ctx, entry.SourcePath, workDir)
		if err != nil {
			return domain.OCRResult{}, err
		}
	}

	pages := make([]domain.PageText, 0, pageCount)
	for page := 1; page <= pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return domain.OCRResult{}, err
		}
		if text := layer[page]; strings.TrimSpace(text) != "" {
			pages = append(pages, domain.PageText{Page: page, Text: text, Confidence: 1, Source: sourceTextLayer})
			continue
		}
		if page > len(images) {
			pages = append(pages, domain.PageText{Page: page, Source: e.recognizer.Name()})
			continue
		}
		recognized, err := e.recognizePage(ctx, page, images[page-1])
		if err != nil {
			return domain.OCRResult{}, fmt.Errorf("recognize page %d: %w", page, err)
		}
		pages = append(pages, recognized)
	}
	return domain.NewOCRResult(entry.DocumentID, e.recognizer.Name(), pages), nil
}
