package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestConfidenceBinLabel(t *testing.T) {
	cases := map[float64]string{
		0:     "0",
		0.01:  "0",
		0.5:   "1-60",
		0.65:  "60-70",
		0.84:  "80-85",
		0.875: "85-90",
		0.93:  "90-95",
		0.99:  "95+",
		1:     "95+",
	}
	for value, want := range cases {
		if got := ConfidenceBinLabel(value); got != want {
			t.Fatalf("ConfidenceBinLabel(%v) = %q, want %q", value, got, want)
		}
	}
	bins := BinConfidences([]float64{0.99, 0.97, 0.5})
	if len(bins) != 8 || bins[7].Count != 2 || bins[1].Count != 1 {
		t.Fatalf("unexpected bins %+v", bins)
	}
}

func TestNewOCRResultConfidenceIgnoresEmptyPages(t *testing.T) {
	result := NewOCRResult("doc", "tesseract", []PageText{
		{Page: 1, Text: "hello", Confidence: 0.9},
		{Page: 2, Text: "  ", Confidence: 0.1},
		{Page: 3, Text: "world", Confidence: 0.7},
	})
	if result.PageCount != 3 {
		t.Fatalf("expected 3 pages, got %d", result.PageCount)
	}
	if result.Confidence < 0.79 || result.Confidence > 0.81 {
		t.Fatalf("expected mean confidence 0.8, got %v", result.Confidence)
	}
}

func TestCollapsedKeepsPageCount(t *testing.T) {
	result := NewOCRResult("doc", "tesseract", []PageText{
		{Page: 1, Text: "hello", Confidence: 0.9},
		{Page: 2, Text: "world", Confidence: 0.7},
	}).Collapsed()
	if result.PageCount != 2 || len(result.Pages) != 1 {
		t.Fatalf("expected one entry over 2 pages, got %+v", result)
	}
	if result.Pages[0].Confidence != result.Confidence || result.Pages[0].Text != "hello\nworld" {
		t.Fatalf("unexpected document entry %+v", result.Pages[0])
	}
	if !GranularityBlock.Valid() || OCRGranularity("line").Valid() {
		t.Fatalf("unexpected granularity validation")
	}
}

func TestReasonOf(t *testing.T) {
	cases := []struct {
		err  error
		want FailureReason
	}{
		{WrapError(ErrTimeout, "ocr", errors.New("slow")), ReasonTimeout},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), ReasonTimeout},
		{WrapError(ErrContent, "ocr", errors.New("corrupt")), ReasonContent},
		{WrapError(ErrToolInvocation, "ocr", errors.New("exit 99")), ReasonTool},
		{WrapError(ErrConfiguration, "ocr", errors.New("missing")), ReasonConfiguration},
		{errors.New("boom"), ReasonInternal},
	}
	for _, tc := range cases {
		if got := ReasonOf(tc.err); got != tc.want {
			t.Fatalf("ReasonOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
