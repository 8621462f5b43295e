package pattern

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

// Rule proposes a candidate for every match of Expr.
type Rule struct {
	Label string
	Expr  *regexp.Regexp
	Score float64
}

func DefaultRules() []Rule {
	return []Rule{
		{Label: "EMAIL_ADDRESS", Expr: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), Score: 0.95},
		{Label: "URL", Expr: regexp.MustCompile(`\bhttps?://[^\s<>"]+|\bwww\.[^\s<>"]+`), Score: 0.9},
		{Label: "PHONE_NUMBER", Expr: regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?\b\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`), Score: 0.85},
	}
}

// Detector is a deterministic regex detector. It needs no model and is safe
// for concurrent use.
type Detector struct {
	rules []Rule
}

func New(rules ...Rule) (*Detector, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	for _, rule := range rules {
		if rule.Expr == nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "pattern detector", fmt.Errorf("rule %q has no expression", rule.Label))
		}
	}
	return &Detector{rules: rules}, nil
}

func (d *Detector) Detect(ctx context.Context, text string) ([]domain.PIICandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.PIICandidate
	for _, rule := range d.rules {
		for _, loc := range rule.Expr.FindAllStringIndex(text, -1) {
			out = append(out, domain.PIICandidate{
				Start:  loc[0],
				End:    loc[1],
				Label:  rule.Label,
				Score:  rule.Score,
				Source: "pattern",
			})
		}
	}
	return out, nil
}

func (d *Detector) Close() error { return nil }

// Combine runs every detector over the same text and concatenates their
// candidates. Overlaps are left to span selection.
func Combine(detectors ...ports.PIIDetector) ports.PIIDetector {
	active := make([]ports.PIIDetector, 0, len(detectors))
	for _, d := range detectors {
		if d != nil {
			active = append(active, d)
		}
	}
	if len(active) == 1 {
		return active[0]
	}
	return combined(active)
}

type combined []ports.PIIDetector

func (c combined) Detect(ctx context.Context, text string) ([]domain.PIICandidate, error) {
	var out []domain.PIICandidate
	for _, d := range c {
		found, err := d.Detect(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (c combined) Close() error {
	var errs []error
	for _, d := range c {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
