package localfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

const (
	unstructuredDir = "unstructured_text"
	scrubbedDir     = "scrubbed_text"
	confidenceDir   = "scrubbed_confidence"
	minedDir        = "mined_metadata"
	reportsDir      = "reports"
	latestReport    = "latest.json"
)

// ArtifactStore lays stage outputs out under the output root, one file per
// document and artifact kind.
type ArtifactStore struct {
	storage *Storage
}

func NewArtifactStore(storage *Storage) *ArtifactStore {
	return &ArtifactStore{storage: storage}
}

func (a *ArtifactStore) SaveOCR(ctx context.Context, result domain.OCRResult) error {
	meta := result
	meta.Pages = make([]domain.PageText, len(result.Pages))
	for i, page := range result.Pages {
		page.Text = ""
		meta.Pages[i] = page
	}
	if err := a.saveJSON(ctx, path.Join(unstructuredDir, result.DocumentID+".json"), meta); err != nil {
		return err
	}
	return a.saveText(ctx, path.Join(unstructuredDir, result.DocumentID+".txt"), result.Text)
}

func (a *ArtifactStore) LoadOCR(ctx context.Context, documentID string) (domain.OCRResult, error) {
	var result domain.OCRResult
	if err := a.loadJSON(ctx, path.Join(unstructuredDir, documentID+".json"), &result); err != nil {
		return domain.OCRResult{}, err
	}
	text, err := a.loadText(ctx, path.Join(unstructuredDir, documentID+".txt"))
	if err != nil {
		return domain.OCRResult{}, err
	}
	result.Text = text
	return result, nil
}

func (a *ArtifactStore) SaveScrub(ctx context.Context, result domain.ScrubResult) error {
	if result.Spans == nil {
		result.Spans = []domain.PIISpan{}
	}
	if err := a.saveJSON(ctx, path.Join(confidenceDir, result.DocumentID+".json"), result); err != nil {
		return err
	}
	return a.saveText(ctx, path.Join(scrubbedDir, result.DocumentID+".txt"), result.Text)
}

func (a *ArtifactStore) LoadScrub(ctx context.Context, documentID string) (domain.ScrubResult, error) {
	var result domain.ScrubResult
	if err := a.loadJSON(ctx, path.Join(confidenceDir, documentID+".json"), &result); err != nil {
		return domain.ScrubResult{}, err
	}
	text, err := a.loadText(ctx, path.Join(scrubbedDir, documentID+".txt"))
	if err != nil {
		return domain.ScrubResult{}, err
	}
	result.Text = text
	return result, nil
}

func (a *ArtifactStore) SaveMined(ctx context.Context, documentID string, fields []domain.MinedField) error {
	if fields == nil {
		fields = []domain.MinedField{}
	}
	return a.saveJSON(ctx, path.Join(minedDir, documentID+".json"), fields)
}

func (a *ArtifactStore) LoadMined(ctx context.Context, documentID string) ([]domain.MinedField, error) {
	var fields []domain.MinedField
	if err := a.loadJSON(ctx, path.Join(minedDir, documentID+".json"), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, domain.WrapError(domain.ErrContent, "load mined metadata", fmt.Errorf("id=%s: not a field list", documentID))
	}
	return fields, nil
}

func (a *ArtifactStore) SaveReport(ctx context.Context, report domain.BatchReport) error {
	if err := a.saveJSON(ctx, path.Join(reportsDir, report.RunID+".json"), report); err != nil {
		return err
	}
	return a.saveJSON(ctx, path.Join(reportsDir, latestReport), report)
}

func (a *ArtifactStore) LatestReport(ctx context.Context) (domain.BatchReport, error) {
	var report domain.BatchReport
	if err := a.loadJSON(ctx, path.Join(reportsDir, latestReport), &report); err != nil {
		return domain.BatchReport{}, err
	}
	return report, nil
}

func (a *ArtifactStore) saveJSON(ctx context.Context, key string, value any) error {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return a.storage.Save(ctx, key, bytes.NewReader(payload))
}

func (a *ArtifactStore) saveText(ctx context.Context, key, text string) error {
	return a.storage.Save(ctx, key, strings.NewReader(text))
}

func (a *ArtifactStore) loadJSON(ctx context.Context, key string, target any) error {
	reader, err := a.storage.Open(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	defer reader.Close()
	if err := json.NewDecoder(reader).Decode(target); err != nil {
		return domain.WrapError(domain.ErrContent, "decode "+key, err)
	}
	return nil
}

func (a *ArtifactStore) loadText(ctx context.Context, key string) (string, error) {
	reader, err := a.storage.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", key, err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(raw), nil
}
