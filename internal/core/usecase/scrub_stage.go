package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

type ScrubOptions struct {
	Policy        domain.ScrubPolicy
	Denylist      []string
	DenylistLabel string
	Timeout       time.Duration
}

type ScrubStage struct {
	artifacts     ports.ArtifactStore
	policy        domain.ScrubPolicy
	denylist      *regexp.Regexp
	denylistLabel string
	timeout       time.Duration
}

func NewScrubStage(artifacts ports.ArtifactStore, opts ScrubOptions) (*ScrubStage, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.DenylistLabel == "" {
		opts.DenylistLabel = domain.DenylistLabel
	}
	denylist, err := compileDenylist(opts.Denylist)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "compile denylist", err)
	}
	return &ScrubStage{
		artifacts:     artifacts,
		policy:        opts.Policy,
		denylist:      denylist,
		denylistLabel: opts.DenylistLabel,
		timeout:       opts.Timeout,
	}, nil
}

func (s *ScrubStage) Policy() domain.ScrubPolicy {
	return s.policy
}

// Run loads the OCR output of a document, scrubs it and persists the result.
func (s *ScrubStage) Run(ctx context.Context, detector ports.PIIDetector, documentID string) (domain.ScrubResult, error) {
	ocr, err := s.artifacts.LoadOCR(ctx, documentID)
	if err != nil {
		return domain.ScrubResult{}, fmt.Errorf("load ocr output: %w", err)
	}
	result, err := s.Scrub(ctx, detector, documentID, ocr.Text)
	if err != nil {
		return domain.ScrubResult{}, err
	}
	if err := s.artifacts.SaveScrub(ctx, result); err != nil {
		return domain.ScrubResult{}, fmt.Errorf("save scrub output: %w", err)
	}
	return result, nil
}

// Scrub redacts text. Existing placeholders are never redacted again, so
// scrubbing already-scrubbed text with a deterministic detector is a no-op.
func (s *ScrubStage) Scrub(ctx context.Context, detector ports.PIIDetector, documentID, text string) (domain.ScrubResult, error) {
	candidates, err := callWithTimeout(ctx, s.timeout, "detect pii", func(callCtx context.Context) ([]domain.PIICandidate, error) {
		return detector.Detect(callCtx, text)
	})
	if err != nil {
		return domain.ScrubResult{}, fmt.Errorf("detect pii: %w", err)
	}
	candidates = append(candidates, s.denylistCandidates(text)...)

	spans := selectSpans(text, candidates, s.policy)
	scrubbed := redact(text, spans)
	return domain.ScrubResult{
		DocumentID:       documentID,
		Text:             scrubbed,
		Spans:            spans,
		ModelID:          s.policy.ModelID,
		DefaultThreshold: s.policy.DefaultThreshold,
	}, nil
}

func (s *ScrubStage) denylistCandidates(text string) []domain.PIICandidate {
	if s.denylist == nil {
		return nil
	}
	matches := s.denylist.FindAllStringIndex(text, -1)
	out := make([]domain.PIICandidate, 0, len(matches))
	for _, m := range matches {
		out = append(out, domain.PIICandidate{
			Start:  m[0],
			End:    m[1],
			Label:  s.denylistLabel,
			Score:  1,
			Source: "denylist",
		})
	}
	return out
}

func compileDenylist(terms []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		quoted = append(quoted, boundedTerm(term))
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	sort.Slice(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.Compile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
}

// boundedTerm quotes term and anchors it at word boundaries only on the sides
// where it starts or ends with a word character, so "Mrs." and "(Rex)" still
// match while "Rex" does not match inside "Rexford".
func boundedTerm(term string) string {
	quoted := regexp.QuoteMeta(term)
	first, _ := utf8.DecodeRuneInString(term)
	last, _ := utf8.DecodeLastRuneInString(term)
	if isWordRune(first) {
		quoted = `\b` + quoted
	}
	if isWordRune(last) {
		quoted += `\b`
	}
	return quoted
}

func isWordRune(r rune) bool {
	return r == '_' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
}

// selectSpans filters candidates by policy and resolves overlaps greedily by
// score, then length, then position. The result is ordered by start offset.
func selectSpans(text string, candidates []domain.PIICandidate, policy domain.ScrubPolicy) []domain.PIISpan {
	protected := domain.PlaceholderRanges(text)
	kept := make([]domain.PIISpan, 0, len(candidates))
	for _, c := range candidates {
		label := domain.NormalizeLabel(c.Label)
		if policy.Excluded(label) || c.Score < policy.ThresholdFor(label) {
			continue
		}
		start, end, ok := normalizeSpan(text, c.Start, c.End)
		if !ok || overlapsAny(protected, start, end) {
			continue
		}
		kept = append(kept, domain.PIISpan{
			Start:  start,
			End:    end,
			Label:  label,
			Score:  c.Score,
			Source: c.Source,
			Text:   text[start:end],
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Score != kept[j].Score {
			return kept[i].Score > kept[j].Score
		}
		li, lj := kept[i].End-kept[i].Start, kept[j].End-kept[j].Start
		if li != lj {
			return li > lj
		}
		return kept[i].Start < kept[j].Start
	})

	accepted := make([]domain.PIISpan, 0, len(kept))
	taken := make([][2]int, 0, len(kept))
	for _, span := range kept {
		if overlapsAny(taken, span.Start, span.End) {
			continue
		}
		accepted = append(accepted, span)
		taken = append(taken, [2]int{span.Start, span.End})
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}

// normalizeSpan clamps offsets to the text, snaps them to rune boundaries and
// trims surrounding whitespace.
func normalizeSpan(text string, start, end int) (int, int, bool) {
	end = min(max(end, 0), len(text))
	start = min(max(start, 0), end)
	for start < end && !utf8.RuneStart(text[start]) {
		start++
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for start < end {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end, start < end
}

func overlapsAny(ranges [][2]int, start, end int) bool {
	for _, r := range ranges {
		if start < r[1] && r[0] < end {
			return true
		}
	}
	return false
}

// redact replaces spans with placeholders and records placeholder offsets.
func redact(text string, spans []domain.PIISpan) string {
	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for i := range spans {
		b.WriteString(text[prev:spans[i].Start])
		spans[i].RedactedStart = b.Len()
		b.WriteString(domain.Placeholder(spans[i].Label))
		spans[i].RedactedEnd = b.Len()
		prev = spans[i].End
	}
	b.WriteString(text[prev:])
	return b.String()
}
