package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	DefaultScrubThreshold = 0.45
	DenylistLabel         = "DENYLIST"
)

// PIICandidate is a detector finding over the original text, in byte offsets.
type PIICandidate struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// PIISpan is an applied redaction. Start and End refer to the original text,
// RedactedStart and RedactedEnd to the placeholder in the scrubbed text.
type PIISpan struct {
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Label         string  `json:"label"`
	Score         float64 `json:"score"`
	Source        string  `json:"source,omitempty"`
	Text          string  `json:"text"`
	RedactedStart int     `json:"redacted_start"`
	RedactedEnd   int     `json:"redacted_end"`
}

type ScrubResult struct {
	DocumentID       string    `json:"document_id"`
	Text             string    `json:"-"`
	Spans            []PIISpan `json:"spans"`
	ModelID          string    `json:"model_id,omitempty"`
	DefaultThreshold float64   `json:"default_threshold"`
}

type ScrubPolicy struct {
	ModelID          string
	DefaultThreshold float64
	LabelThresholds  map[string]float64
	ExcludeLabels    []string
}

func DefaultScrubPolicy() ScrubPolicy {
	return ScrubPolicy{
		DefaultThreshold: DefaultScrubThreshold,
		LabelThresholds:  map[string]float64{},
		ExcludeLabels:    []string{"IN_PAN"},
	}
}

func (p ScrubPolicy) ThresholdFor(label string) float64 {
	if threshold, ok := p.LabelThresholds[NormalizeLabel(label)]; ok {
		return threshold
	}
	return p.DefaultThreshold
}

func (p ScrubPolicy) Excluded(label string) bool {
	normalized := NormalizeLabel(label)
	for _, excluded := range p.ExcludeLabels {
		if NormalizeLabel(excluded) == normalized {
			return true
		}
	}
	return false
}

func (p ScrubPolicy) Validate() error {
	if p.DefaultThreshold < 0 || p.DefaultThreshold > 1 {
		return WrapError(ErrConfiguration, "validate scrub policy", fmt.Errorf("default threshold %v outside [0,1]", p.DefaultThreshold))
	}
	for label, threshold := range p.LabelThresholds {
		if threshold < 0 || threshold > 1 {
			return WrapError(ErrConfiguration, "validate scrub policy", fmt.Errorf("threshold for %s %v outside [0,1]", label, threshold))
		}
	}
	return nil
}

// NormalizeLabel upper-cases a label and maps anything outside [A-Z0-9_] to '_'.
func NormalizeLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	label = strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")
	if label == "" {
		return "PII"
	}
	var b strings.Builder
	for _, r := range label {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func Placeholder(label string) string {
	return "[" + NormalizeLabel(label) + "]"
}

var placeholderPattern = regexp.MustCompile(`\[[A-Z0-9_]+\]`)

// PlaceholderRanges returns byte ranges of redaction placeholders already in text.
func PlaceholderRanges(text string) [][2]int {
	matches := placeholderPattern.FindAllStringIndex(text, -1)
	out := make([][2]int, 0, len(matches))
	for _, m := range matches {
		out = append(out, [2]int{m[0], m[1]})
	}
	return out
}

// ValidateSpans checks that applied spans are ordered, disjoint, within the
// original text and at or above the policy threshold for their label.
func ValidateSpans(originalLen int, spans []PIISpan, policy ScrubPolicy) error {
	sorted := append([]PIISpan(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	prevEnd := 0
	for i, span := range sorted {
		if span.Start < 0 || span.End > originalLen || span.Start >= span.End {
			return WrapError(ErrContent, "validate spans", fmt.Errorf("span %d [%d,%d) out of range", i, span.Start, span.End))
		}
		if span.Start < prevEnd {
			return WrapError(ErrContent, "validate spans", fmt.Errorf("span %d [%d,%d) overlaps previous", i, span.Start, span.End))
		}
		if span.Score < policy.ThresholdFor(span.Label) {
			return WrapError(ErrContent, "validate spans", fmt.Errorf("span %d score %v below threshold", i, span.Score))
		}
		prevEnd = span.End
	}
	return nil
}
