package reference

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

var subjectColumns = []string{"grls_id", "subject_id", "dog_id"}

type Loader struct {
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// LoadTables builds the reference tables used for metadata mining. Either path
// may be empty; a missing visit table disables visit-date matching.
func (l *Loader) LoadTables(visitPath, profilePath string) (*domain.ReferenceTables, error) {
	tables := domain.NewReferenceTables()

	if strings.TrimSpace(visitPath) != "" {
		table, err := LoadTable(visitPath)
		if err != nil {
			return nil, err
		}
		if err := l.loadVisits(table, tables); err != nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "load visit table", fmt.Errorf("%s: %w", visitPath, err))
		}
	}
	if strings.TrimSpace(profilePath) != "" {
		table, err := LoadTable(profilePath)
		if err != nil {
			return nil, err
		}
		if err := l.loadProfiles(table, tables); err != nil {
			return nil, domain.WrapError(domain.ErrConfiguration, "load profile table", fmt.Errorf("%s: %w", profilePath, err))
		}
	}

	l.logger.Info("reference_tables_loaded",
		"subjects_with_visits", len(tables.Visits),
		"profiles", len(tables.Profiles),
	)
	return tables, nil
}

func (l *Loader) loadVisits(table *Table, tables *domain.ReferenceTables) error {
	idColumn, ok := subjectColumn(table)
	if !ok {
		return fmt.Errorf("no subject id column (want one of %s)", strings.Join(subjectColumns, ", "))
	}
	if !table.Has("visit_date") {
		return fmt.Errorf("no visit_date column")
	}

	skipped := 0
	for _, row := range table.Rows {
		subjectID := table.Value(row, idColumn)
		visitDate, err := domain.ParseDate(table.Value(row, "visit_date"))
		if subjectID == "" || err != nil {
			skipped++
			continue
		}
		record := domain.VisitRecord{SubjectID: subjectID, VisitDate: visitDate}
		if raw := table.Value(row, "year_in_study"); raw != "" {
			if year, err := strconv.Atoi(raw); err == nil {
				record.YearInStudy = year
				record.HasYear = true
			}
		}
		tables.Visits[subjectID] = append(tables.Visits[subjectID], record)
	}
	for id := range tables.Visits {
		visits := tables.Visits[id]
		sort.SliceStable(visits, func(i, j int) bool { return visits[i].VisitDate.Before(visits[j].VisitDate) })
	}
	if skipped > 0 {
		l.logger.Warn("visit_rows_skipped", "count", skipped)
	}
	return nil
}

func (l *Loader) loadProfiles(table *Table, tables *domain.ReferenceTables) error {
	idColumn, ok := subjectColumn(table)
	if !ok {
		return fmt.Errorf("no subject id column (want one of %s)", strings.Join(subjectColumns, ", "))
	}
	for _, row := range table.Rows {
		subjectID := table.Value(row, idColumn)
		if subjectID == "" {
			continue
		}
		profile := domain.SubjectProfile{SubjectID: subjectID}
		if birth, err := domain.ParseDate(firstValue(table, row, "birth_date", "date_of_birth")); err == nil {
			profile.BirthDate = birth
		}
		if death, err := domain.ParseDate(firstValue(table, row, "death_date", "date_of_death")); err == nil {
			profile.DeathDate = death
		}
		tables.Profiles[subjectID] = profile
	}
	return nil
}

// LoadDenylist reads one column of terms. An empty column name selects the first.
func LoadDenylist(path, column string) ([]string, error) {
	table, err := LoadTable(path)
	if err != nil {
		return nil, err
	}
	if column == "" && len(table.Header) > 0 {
		column = table.Header[0]
	}
	if !table.Has(column) {
		return nil, domain.WrapError(domain.ErrConfiguration, "load denylist", fmt.Errorf("%s: no column %q", path, column))
	}

	seen := map[string]struct{}{}
	var terms []string
	for _, row := range table.Rows {
		term := table.Value(row, column)
		key := strings.ToLower(term)
		if term == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}
	return terms, nil
}

func subjectColumn(table *Table) (string, bool) {
	for _, name := range subjectColumns {
		if table.Has(name) {
			return name, true
		}
	}
	return "", false
}

func firstValue(table *Table, row []string, columns ...string) string {
	for _, c := range columns {
		if v := table.Value(row, c); v != "" {
			return v
		}
	}
	return ""
}
