package pattern

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func TestDetectFindsContactDetails(t *testing.T) {
	d, err := New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	text := "Owner: jane.doe@example.org, call (555) 123-4567 or see https://clinic.example.com/p/1"
	got, err := d.Detect(context.Background(), text)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	found := map[string]string{}
	for _, c := range got {
		found[c.Label] = text[c.Start:c.End]
	}
	if found["EMAIL_ADDRESS"] != "jane.doe@example.org" {
		t.Fatalf("unexpected email match %q", found["EMAIL_ADDRESS"])
	}
	if found["PHONE_NUMBER"] != "(555) 123-4567" {
		t.Fatalf("unexpected phone match %q", found["PHONE_NUMBER"])
	}
	if found["URL"] != "https://clinic.example.com/p/1" {
		t.Fatalf("unexpected url match %q", found["URL"])
	}
}

func TestDetectIgnoresSubjectIDs(t *testing.T) {
	d, _ := New()
	got, err := d.Detect(context.Background(), "Subject 094-123456 seen on 2015-03-02")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}

func TestNewRejectsRuleWithoutExpression(t *testing.T) {
	_, err := New(Rule{Label: "X"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

type failingDetector struct{ closed bool }

func (f *failingDetector) Detect(context.Context, string) ([]domain.PIICandidate, error) {
	return nil, domain.WrapError(domain.ErrToolInvocation, "detect", errors.New("down"))
}

func (f *failingDetector) Close() error {
	f.closed = true
	return nil
}

func TestCombinePropagatesErrorsAndCloses(t *testing.T) {
	d, _ := New()
	failing := &failingDetector{}
	c := Combine(d, nil, failing)

	if _, err := c.Detect(context.Background(), "a@b.io"); !errors.Is(err, domain.ErrToolInvocation) {
		t.Fatalf("expected tool error, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !failing.closed {
		t.Fatalf("expected wrapped detector to be closed")
	}
	if Combine(d) != d {
		t.Fatalf("expected single detector to be returned as is")
	}
}
