package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// Table is a header-addressed view over a delimited or spreadsheet file.
// Header names are lower-cased with spaces and dashes folded to underscores.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

func (t *Table) Has(column string) bool {
	_, ok := t.index[normalizeHeader(column)]
	return ok
}

// Value returns the trimmed cell of row for column, or "" when either is absent.
func (t *Table) Value(row []string, column string) string {
	i, ok := t.index[normalizeHeader(column)]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// LoadTable reads a .csv, .tsv or .xlsx file. The first row is the header.
func LoadTable(path string) (*Table, error) {
	records, err := readRecords(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "load reference table", fmt.Errorf("%s: %w", path, err))
	}
	if len(records) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "load reference table", fmt.Errorf("%s: no header row", path))
	}

	table := &Table{index: map[string]int{}}
	for i, name := range records[0] {
		key := normalizeHeader(name)
		table.Header = append(table.Header, key)
		if _, dup := table.index[key]; !dup && key != "" {
			table.index[key] = i
		}
	}
	for _, row := range records[1:] {
		if blankRow(row) {
			continue
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func readRecords(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readSpreadsheet(path)
	case ".tsv", ".tab":
		return readDelimited(path, '\t')
	case ".csv", ".txt":
		return readDelimited(path, ',')
	default:
		return nil, fmt.Errorf("unsupported table format %q", filepath.Ext(path))
	}
}

func readDelimited(path string, comma rune) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = comma != '\t'
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse delimited: %w", err)
		}
		records = append(records, record)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return records, nil
}

// readSpreadsheet reads the first sheet of a workbook.
func readSpreadsheet(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(name)
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
