package reference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTablesFromDelimitedFiles(t *testing.T) {
	dir := t.TempDir()
	visits := writeFile(t, dir, "visits.tsv",
		"GRLS ID\tVisit Date\tYear In Study\n"+
			"094-000001\t2016-05-10\t2\n"+
			"094-000001\t2015-05-12\t1\n"+
			"094-000002\tnot a date\t1\n"+
			"\t\t\n")
	profiles := writeFile(t, dir, "profiles.csv",
		"subject_id,birth_date,death_date\n"+
			"094-000001,2013-01-04,\n"+
			"094-000002,3/2/2012,2019-11-30\n")

	tables, err := NewLoader(nil).LoadTables(visits, profiles)
	if err != nil {
		t.Fatalf("LoadTables() error = %v", err)
	}

	got := tables.VisitsFor("094-000001")
	if len(got) != 2 {
		t.Fatalf("expected 2 visits, got %d", len(got))
	}
	if !got[0].VisitDate.Equal(time.Date(2015, 5, 12, 0, 0, 0, 0, time.UTC)) || got[0].YearInStudy != 1 || !got[0].HasYear {
		t.Fatalf("expected visits sorted by date, got %+v", got)
	}
	if len(tables.VisitsFor("094-000002")) != 0 {
		t.Fatalf("expected unparsable visit row to be skipped")
	}

	profile, ok := tables.Profile("094-000002")
	if !ok {
		t.Fatalf("expected profile for 094-000002")
	}
	if !profile.BirthDate.Equal(time.Date(2012, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected birth date %v", profile.BirthDate)
	}
	if !profile.DeathDate.Equal(time.Date(2019, 11, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected death date %v", profile.DeathDate)
	}
	if p, _ := tables.Profile("094-000001"); !p.DeathDate.IsZero() {
		t.Fatalf("expected empty death date, got %v", p.DeathDate)
	}
}

func TestLoadTablesFromWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "visits.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"subject_id", "visit_date", "year_in_study"},
		{"094-000003", "2018-07-01", "4"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("SetSheetRow() error = %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error = %v", err)
	}
	_ = f.Close()

	tables, err := NewLoader(nil).LoadTables(path, "")
	if err != nil {
		t.Fatalf("LoadTables() error = %v", err)
	}
	got := tables.VisitsFor("094-000003")
	if len(got) != 1 || got[0].YearInStudy != 4 {
		t.Fatalf("unexpected visits %+v", got)
	}
}

func TestLoadTablesRejectsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	visits := writeFile(t, dir, "visits.csv", "name,visit_date\nRex,2015-01-01\n")

	_, err := NewLoader(nil).LoadTables(visits, "")
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	_, err = NewLoader(nil).LoadTables(filepath.Join(dir, "missing.csv"), "")
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing file, got %v", err)
	}

	_, err = LoadTable(writeFile(t, dir, "visits.json", "{}"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown format, got %v", err)
	}
}

func TestLoadDenylist(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "replace.csv", "\ufeffterm,note\nBuddy,dog name\nbuddy,dup\n  Dr. Hale ,vet\n,\n")

	terms, err := LoadDenylist(path, "")
	if err != nil {
		t.Fatalf("LoadDenylist() error = %v", err)
	}
	if len(terms) != 2 || terms[0] != "Buddy" || terms[1] != "Dr. Hale" {
		t.Fatalf("unexpected terms %q", terms)
	}

	if _, err := LoadDenylist(path, "missing"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
