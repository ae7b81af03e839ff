package mapper

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Augmented column headers appended by Table.Augment.
const (
	ColumnTactics    = "Mapped MITRE Tactic(s)"
	ColumnTechniques = "Mapped MITRE Technique(s)/Sub-techniques"
	ColumnReference  = "Reference Resource(s)"
)

// descriptionColumns are the accepted description headers, in priority order.
var descriptionColumns = []string{"Description", "description"}

var (
	// ErrNoDescriptionColumn is returned when neither accepted header exists.
	ErrNoDescriptionColumn = errors.New("the uploaded file must contain a 'Description' or 'description' column")
	// ErrEmptyTable is returned for files without a header row.
	ErrEmptyTable = errors.New("empty input file")
)

// Table is a delimited file held in memory. Rows may be ragged.
type Table struct {
	Header []string
	Rows   [][]string
}

// CommaFor picks the field delimiter from a file name.
func CommaFor(name string) rune {
	if strings.EqualFold(filepath.Ext(name), ".tsv") {
		return '\t'
	}
	return ','
}

// ReadTable parses delimited text. A zero comma means ','.
func ReadTable(r io.Reader, comma rune) (*Table, error) {
	reader := csv.NewReader(r)
	if comma != 0 {
		reader.Comma = comma
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyTable
	}
	// Header names match exactly; only a leading byte-order mark is removed.
	header := slices.Clone(rows[0])
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return &Table{Header: header, Rows: rows[1:]}, nil
}

// ReadTableFile opens path and parses it with the delimiter implied by its extension.
func ReadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	return ReadTable(f, CommaFor(path))
}

// DescriptionColumn returns the index of the description column. Only the
// exact spellings "Description" and "description" are accepted.
func (t *Table) DescriptionColumn() (int, error) {
	for _, name := range descriptionColumns {
		for i, col := range t.Header {
			if col == name {
				return i, nil
			}
		}
	}
	return -1, ErrNoDescriptionColumn
}

// Descriptions returns the description cell of every row. Short rows yield "".
func (t *Table) Descriptions() ([]string, error) {
	col, err := t.DescriptionColumn()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if col < len(row) {
			out[i] = cleanCell(row[col])
		}
	}
	return out, nil
}

// Augment returns a copy of the table with the three mapping columns appended.
// The receiver is left untouched.
func (t *Table) Augment(matches []Match) (*Table, error) {
	if len(matches) != len(t.Rows) {
		return nil, fmt.Errorf("augment: %d matches for %d rows", len(matches), len(t.Rows))
	}
	width := len(t.Header)
	header := make([]string, 0, width+3)
	header = append(header, t.Header...)
	header = append(header, ColumnTactics, ColumnTechniques, ColumnReference)

	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]string, width, width+3)
		copy(out, row)
		m := matches[i]
		rows[i] = append(out, m.Tactic, m.Technique, m.URL)
	}
	return &Table{Header: header, Rows: rows}, nil
}

// WriteCSV writes the header and rows as comma-separated values.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

func cleanCell(v string) string {
	v = strings.TrimPrefix(v, "\ufeff")
	return strings.TrimSpace(v)
}
