package domain

import "strings"

// OCRGranularity selects how finely confidence is reported in the OCR
// metadata: one entry per document, per page, or per text block on each page.
type OCRGranularity string

const (
	GranularityDocument OCRGranularity = "doc"
	GranularityPage     OCRGranularity = "page"
	GranularityBlock    OCRGranularity = "block"
)

func (g OCRGranularity) Valid() bool {
	switch g {
	case GranularityDocument, GranularityPage, GranularityBlock:
		return true
	default:
		return false
	}
}

// TextBlock is one recognized text line on a page, numbered from 1 in
// reading order.
type TextBlock struct {
	Block      int     `json:"block"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type PageText struct {
	Page       int         `json:"page"`
	Text       string      `json:"text,omitempty"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source"`
	Blocks     []TextBlock `json:"blocks,omitempty"`
}

type OCRResult struct {
	DocumentID string     `json:"document_id"`
	Text       string     `json:"-"`
	Confidence float64    `json:"confidence"`
	PageCount  int        `json:"page_count"`
	Engine     string     `json:"engine"`
	Pages      []PageText `json:"pages"`
}

// NewOCRResult joins page texts and computes the document confidence as the mean
// over pages that produced text with a positive confidence.
func NewOCRResult(documentID, engine string, pages []PageText) OCRResult {
	var (
		b       strings.Builder
		sum     float64
		counted int
	)
	for i, page := range pages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(page.Text)
		if strings.TrimSpace(page.Text) != "" && page.Confidence > 0 {
			sum += clampUnit(page.Confidence)
			counted++
		}
	}
	confidence := 0.0
	if counted > 0 {
		confidence = sum / float64(counted)
	}
	return OCRResult{
		DocumentID: documentID,
		Text:       b.String(),
		Confidence: confidence,
		PageCount:  len(pages),
		Engine:     engine,
		Pages:      pages,
	}
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Collapsed reports the result as a single document-level entry, keeping the
// page count.
func (r OCRResult) Collapsed() OCRResult {
	r.Pages = []PageText{{Page: 1, Text: r.Text, Confidence: r.Confidence, Source: r.Engine}}
	return r
}
