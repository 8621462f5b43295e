package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

type artifactFake struct {
	mu      sync.Mutex
	ocr     map[string]domain.OCRResult
	scrub   map[string]domain.ScrubResult
	mined   map[string][]domain.MinedField
	reports []domain.BatchReport
}

func newArtifactFake() *artifactFake {
	return &artifactFake{
		ocr:   map[string]domain.OCRResult{},
		scrub: map[string]domain.ScrubResult{},
		mined: map[string][]domain.MinedField{},
	}
}

func (f *artifactFake) SaveOCR(_ context.Context, result domain.OCRResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ocr[result.DocumentID] = result
	return nil
}

func (f *artifactFake) LoadOCR(_ context.Context, id string) (domain.OCRResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.ocr[id]
	if !ok {
		return domain.OCRResult{}, domain.WrapError(domain.ErrDocumentNotFound, "load ocr", fmt.Errorf("id=%s", id))
	}
	return result, nil
}

func (f *artifactFake) SaveScrub(_ context.Context, result domain.ScrubResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrub[result.DocumentID] = result
	return nil
}

func (f *artifactFake) LoadScrub(_ context.Context, id string) (domain.ScrubResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result, ok := f.scrub[id]
	if !ok {
		return domain.ScrubResult{}, domain.WrapError(domain.ErrDocumentNotFound, "load scrub", fmt.Errorf("id=%s", id))
	}
	return result, nil
}

func (f *artifactFake) SaveMined(_ context.Context, id string, fields []domain.MinedField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fields == nil {
		fields = []domain.MinedField{}
	}
	f.mined[id] = fields
	return nil
}

func (f *artifactFake) LoadMined(_ context.Context, id string) ([]domain.MinedField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fields, ok := f.mined[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "load mined", fmt.Errorf("id=%s", id))
	}
	return fields, nil
}

func (f *artifactFake) SaveReport(_ context.Context, report domain.BatchReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

func (f *artifactFake) LatestReport(context.Context) (domain.BatchReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reports) == 0 {
		return domain.BatchReport{}, domain.ErrDocumentNotFound
	}
	return f.reports[len(f.reports)-1], nil
}

type ocrEngineFake struct {
	mu     sync.Mutex
	texts  map[string]string
	errs   []error
	delay  map[string]time.Duration
	calls  map[string]int
	closed bool
}

func (f *ocrEngineFake) Extract(_ context.Context, entry domain.ManifestEntry) (domain.OCRResult, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[entry.DocumentID]++
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	delay := f.delay[entry.DocumentID]
	text := f.texts[entry.DocumentID]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return domain.OCRResult{}, err
	}
	return domain.NewOCRResult(entry.DocumentID, "fake", []domain.PageText{{Page: 1, Text: text, Confidence: 0.92}}), nil
}

func (f *ocrEngineFake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *ocrEngineFake) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// detectorFake returns candidates for each occurrence of a known phrase.
type detectorFake struct {
	phrases map[string]domain.PIICandidate
	err     error
	calls   int
}

func (f *detectorFake) Detect(_ context.Context, text string) ([]domain.PIICandidate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.PIICandidate
	for phrase, template := range f.phrases {
		offset := 0
		for {
			idx := strings.Index(text[offset:], phrase)
			if idx < 0 {
				break
			}
			idx += offset
			c := template
			c.Start, c.End = idx, idx+len(phrase)
			out = append(out, c)
			offset = idx + len(phrase)
		}
	}
	return out, nil
}

func (f *detectorFake) Close() error { return nil }

type handleFactoryFake struct {
	mu      sync.Mutex
	engine  *ocrEngineFake
	phrases map[string]domain.PIICandidate
	created int
}

func (f *handleFactoryFake) NewHandles(context.Context, int) (*ports.WorkerHandles, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &ports.WorkerHandles{OCR: f.engine, PII: &detectorFake{phrases: f.phrases}}, nil
}

func (f *handleFactoryFake) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type walkerFake struct {
	files []domain.SourceFile
	err   error
}

func (f *walkerFake) Walk(context.Context, string) ([]domain.SourceFile, error) {
	return f.files, f.err
}
