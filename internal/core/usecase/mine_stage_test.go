package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func testTables() *domain.ReferenceTables {
	tables := domain.NewReferenceTables()
	tables.Visits["094-000001"] = []domain.VisitRecord{
		{SubjectID: "094-000001", VisitDate: time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC), YearInStudy: 3, HasYear: true},
		{SubjectID: "094-000001", VisitDate: time.Date(2020, time.March, 5, 0, 0, 0, 0, time.UTC), YearInStudy: 3, HasYear: true},
		{SubjectID: "094-000001", VisitDate: time.Date(2021, time.February, 10, 0, 0, 0, 0, time.UTC), YearInStudy: 4, HasYear: true},
	}
	tables.Profiles["094-000001"] = domain.SubjectProfile{
		SubjectID: "094-000001",
		BirthDate: time.Date(2014, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
	return tables
}

func fieldsByName(fields []domain.MinedField, name domain.FieldName) []domain.MinedField {
	var out []domain.MinedField
	for _, f := range fields {
		if f.Field == name {
			out = append(out, f)
		}
	}
	return out
}

func TestMinePrefersExactVisitMatch(t *testing.T) {
	stage := NewMineStage(newArtifactFake(), nil, testTables(), MineOptions{})
	fields := stage.Mine("094-000001", "Recheck on 02/10/2021, previous note dated 2021-02-12.")

	visits := fieldsByName(fields, domain.FieldVisitDate)
	if len(visits) != 1 {
		t.Fatalf("expected a single visit date, got %+v", visits)
	}
	if visits[0].Value != "2021-02-10" || visits[0].Match != domain.MatchExact || visits[0].Ambiguous {
		t.Fatalf("unexpected visit field %+v", visits[0])
	}
	years := fieldsByName(fields, domain.FieldYearInStudy)
	if len(years) != 1 || years[0].Value != "4" {
		t.Fatalf("unexpected year in study %+v", years)
	}
	subjects := fieldsByName(fields, domain.FieldSubjectID)
	if len(subjects) != 1 || subjects[0].Match != domain.MatchPath {
		t.Fatalf("unexpected subject fields %+v", subjects)
	}
}

func TestMineNearMatchWithinWindow(t *testing.T) {
	stage := NewMineStage(newArtifactFake(), nil, testTables(), MineOptions{WindowDays: 3})
	fields := stage.Mine("094-000001", "Lab results received 2021-02-12.")

	visits := fieldsByName(fields, domain.FieldVisitDate)
	if len(visits) != 1 || visits[0].Value != "2021-02-10" || visits[0].Match != domain.MatchNear {
		t.Fatalf("expected near match to 2021-02-10, got %+v", visits)
	}
	if visits[0].SourceSpan == nil || visits[0].SourceSpan.Text != "2021-02-12" {
		t.Fatalf("expected source span of the text date, got %+v", visits[0].SourceSpan)
	}
}

func TestMineEmitsAllCandidatesWhenAmbiguous(t *testing.T) {
	stage := NewMineStage(newArtifactFake(), nil, testTables(), MineOptions{})
	fields := stage.Mine("094-000001", "Visits: 2020-01-01 and 2020-03-05.")

	visits := fieldsByName(fields, domain.FieldVisitDate)
	if len(visits) != 2 {
		t.Fatalf("expected both candidate visit dates, got %+v", visits)
	}
	for _, v := range visits {
		if !v.Ambiguous || v.Candidates != 2 {
			t.Fatalf("expected ambiguous candidates, got %+v", v)
		}
	}
}

func TestMineIgnoresDatesOutsideLifetime(t *testing.T) {
	tables := testTables()
	tables.Visits["094-000001"] = append(tables.Visits["094-000001"], domain.VisitRecord{
		SubjectID: "094-000001",
		VisitDate: time.Date(2013, time.May, 1, 0, 0, 0, 0, time.UTC),
	})
	stage := NewMineStage(newArtifactFake(), nil, tables, MineOptions{})
	fields := stage.Mine("094-000001", "Old record 2013-05-01")
	if visits := fieldsByName(fields, domain.FieldVisitDate); len(visits) != 0 {
		t.Fatalf("dates before birth must be ignored, got %+v", visits)
	}
}

func TestMineSubjectFromTextWhenPathHasNone(t *testing.T) {
	stage := NewMineStage(newArtifactFake(), nil, testTables(), MineOptions{})
	fields := stage.Mine("", "Patient 094-000001 seen 2020-03-05; sibling 094-999999.")

	subjects := fieldsByName(fields, domain.FieldSubjectID)
	if len(subjects) != 2 {
		t.Fatalf("expected two subject candidates, got %+v", subjects)
	}
	if subjects[0].Match != domain.MatchExact || !subjects[0].Ambiguous {
		t.Fatalf("expected known subject flagged ambiguous, got %+v", subjects[0])
	}
	if subjects[1].Match != domain.MatchText {
		t.Fatalf("expected unknown subject from text, got %+v", subjects[1])
	}
	if visits := fieldsByName(fields, domain.FieldVisitDate); len(visits) != 1 {
		t.Fatalf("expected visit resolved through text subject, got %+v", visits)
	}
}

func TestMineRunPersistsFields(t *testing.T) {
	artifacts := newArtifactFake()
	_ = artifacts.SaveScrub(context.Background(), domain.ScrubResult{DocumentID: "doc-1", Text: "seen 2020-01-01"})
	stage := NewMineStage(artifacts, nil, testTables(), MineOptions{})

	if _, err := stage.Run(context.Background(), domain.ManifestEntry{DocumentID: "doc-1", SubjectID: "094-000001"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	fields, err := artifacts.LoadMined(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("load mined: %v", err)
	}
	if len(fieldsByName(fields, domain.FieldVisitDate)) != 1 {
		t.Fatalf("unexpected mined fields %+v", fields)
	}
	for _, f := range fields {
		if f.DocumentID != "doc-1" {
			t.Fatalf("field %s missing document id: %+v", f.Field, f)
		}
	}
}
