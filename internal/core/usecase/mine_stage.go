package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
	"github.com/kirillkom/vetrecord-pipeline/internal/core/ports"
)

const (
	MineSourceScrubbed = "scrubbed"
	MineSourceRaw      = "raw"

	defaultVisitWindowDays = 3
)

type MineOptions struct {
	Source         string
	WindowDays     int
	EarliestDate   time.Time
	SubjectPattern *regexp.Regexp
}

type MineStage struct {
	artifacts ports.ArtifactStore
	audit     ports.AuditLog
	tables    *domain.ReferenceTables
	opts      MineOptions
	now       func() time.Time
}

func NewMineStage(artifacts ports.ArtifactStore, audit ports.AuditLog, tables *domain.ReferenceTables, opts MineOptions) *MineStage {
	if opts.Source == "" {
		opts.Source = MineSourceScrubbed
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = defaultVisitWindowDays
	}
	if opts.EarliestDate.IsZero() {
		opts.EarliestDate = time.Date(2010, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	if opts.SubjectPattern == nil {
		opts.SubjectPattern = domain.DefaultSubjectIDPattern
	}
	if tables == nil {
		tables = domain.NewReferenceTables()
	}
	return &MineStage{
		artifacts: artifacts,
		audit:     audit,
		tables:    tables,
		opts:      opts,
		now:       time.Now,
	}
}

func (s *MineStage) Run(ctx context.Context, entry domain.ManifestEntry) ([]domain.MinedField, error) {
	text, err := s.loadText(ctx, entry.DocumentID)
	if err != nil {
		return nil, err
	}
	fields := s.Mine(entry.SubjectID, text)
	for i := range fields {
		fields[i].DocumentID = entry.DocumentID
	}
	if err := s.artifacts.SaveMined(ctx, entry.DocumentID, fields); err != nil {
		return nil, fmt.Errorf("save mined metadata: %w", err)
	}
	if s.audit != nil {
		if err := s.audit.SaveMinedFields(ctx, entry.DocumentID, fields); err != nil {
			return nil, fmt.Errorf("record mined metadata: %w", err)
		}
	}
	return fields, nil
}

func (s *MineStage) loadText(ctx context.Context, documentID string) (string, error) {
	if s.opts.Source == MineSourceRaw {
		ocr, err := s.artifacts.LoadOCR(ctx, documentID)
		if err != nil {
			return "", fmt.Errorf("load ocr output: %w", err)
		}
		return ocr.Text, nil
	}
	scrubbed, err := s.artifacts.LoadScrub(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("load scrub output: %w", err)
	}
	return scrubbed.Text, nil
}

// Mine extracts subject, visit date and study year fields from text.
func (s *MineStage) Mine(pathSubjectID, text string) []domain.MinedField {
	fields, subjects := s.mineSubjects(pathSubjectID, text)

	var visits []visitMatch
	for _, subjectID := range subjects {
		visits = append(visits, s.matchVisits(subjectID, text)...)
	}
	visits = dedupeVisits(visits)

	ambiguous := len(visits) > 1
	for _, v := range visits {
		span := &domain.TextSpan{Start: v.date.Start, End: v.date.End, Text: v.date.Text}
		fields = append(fields, domain.MinedField{
			Field:      domain.FieldVisitDate,
			Value:      v.visit.VisitDate.Format("2006-01-02"),
			Match:      v.kind,
			SourceSpan: span,
			Ambiguous:  ambiguous,
			Candidates: len(visits),
		})
		if v.visit.HasYear {
			fields = append(fields, domain.MinedField{
				Field:      domain.FieldYearInStudy,
				Value:      strconv.Itoa(v.visit.YearInStudy),
				Match:      v.kind,
				SourceSpan: span,
				Ambiguous:  ambiguous,
				Candidates: len(visits),
			})
		}
	}
	return fields
}

func (s *MineStage) mineSubjects(pathSubjectID, text string) ([]domain.MinedField, []string) {
	type found struct {
		value string
		kind  domain.MatchKind
		span  *domain.TextSpan
	}
	var candidates []found
	seen := map[string]bool{}
	if pathSubjectID != "" {
		candidates = append(candidates, found{value: pathSubjectID, kind: domain.MatchPath})
		seen[pathSubjectID] = true
	}
	for _, m := range s.opts.SubjectPattern.FindAllStringIndex(text, -1) {
		value := text[m[0]:m[1]]
		if seen[value] {
			continue
		}
		seen[value] = true
		kind := domain.MatchText
		if s.tables.Known(value) {
			kind = domain.MatchExact
		}
		candidates = append(candidates, found{
			value: value,
			kind:  kind,
			span:  &domain.TextSpan{Start: m[0], End: m[1], Text: value},
		})
	}

	fields := make([]domain.MinedField, 0, len(candidates))
	subjects := make([]string, 0, len(candidates))
	for _, c := range candidates {
		fields = append(fields, domain.MinedField{
			Field:      domain.FieldSubjectID,
			Value:      c.value,
			Match:      c.kind,
			SourceSpan: c.span,
			Ambiguous:  len(candidates) > 1,
			Candidates: len(candidates),
		})
		subjects = append(subjects, c.value)
	}
	if pathSubjectID != "" {
		subjects = []string{pathSubjectID}
	}
	return fields, subjects
}

type visitMatch struct {
	visit domain.VisitRecord
	date  domain.DateMatch
	kind  domain.MatchKind
}

// matchVisits pairs dates in text with the subject's known visits, preferring
// exact day matches and falling back to the nearest visit within the window.
func (s *MineStage) matchVisits(subjectID, text string) []visitMatch {
	visits := s.tables.VisitsFor(subjectID)
	if len(visits) == 0 {
		return nil
	}
	earliest, latest := s.opts.EarliestDate, s.now().UTC()
	if profile, ok := s.tables.Profile(subjectID); ok {
		if !profile.BirthDate.IsZero() {
			earliest = profile.BirthDate
		}
		if !profile.DeathDate.IsZero() {
			latest = profile.DeathDate
		}
	}
	dates := domain.FindDates(text, earliest, latest)

	var exact []visitMatch
	for _, date := range dates {
		for _, visit := range visits {
			if domain.SameDay(date.Date, visit.VisitDate) {
				exact = append(exact, visitMatch{visit: visit, date: date, kind: domain.MatchExact})
			}
		}
	}
	if len(exact) > 0 {
		return exact
	}

	var near []visitMatch
	for _, visit := range visits {
		for _, date := range dates {
			if domain.DaysBetween(date.Date, visit.VisitDate) <= s.opts.WindowDays {
				near = append(near, visitMatch{visit: visit, date: date, kind: domain.MatchNear})
				break
			}
		}
	}
	return near
}

func dedupeVisits(matches []visitMatch) []visitMatch {
	out := make([]visitMatch, 0, len(matches))
	seen := map[string]bool{}
	for _, m := range matches {
		key := m.visit.SubjectID + "|" + m.visit.VisitDate.Format("2006-01-02")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	return out
}
