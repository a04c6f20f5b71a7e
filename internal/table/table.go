// Package table holds the tabular data model consumed and produced by the synthesizer:
// string-celled tables, column schemas and their CSV/metadata representations.
package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// Missing is the cell value used for a missing entry.
const Missing = ""

// Table is a row-major table of string cells. An empty cell is a missing value.
type Table struct {
	Header []string
	Rows   [][]string
}

// New creates an empty table with the given header.
func New(header []string) *Table {
	h := make([]string, len(header))
	copy(h, header)
	return &Table{Header: h}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column's cells.
func (t *Table) Column(name string) ([]string, bool) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out, true
}

// Append adds rows, copying each one. Rows must match the header width.
func (t *Table) Append(rows ...[]string) error {
	for _, row := range rows {
		if len(row) != len(t.Header) {
			return fmt.Errorf("row has %d cells, header has %d", len(row), len(t.Header))
		}
		r := make([]string, len(row))
		copy(r, row)
		t.Rows = append(t.Rows, r)
	}
	return nil
}

// Head returns a new table holding at most the first n rows.
func (t *Table) Head(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := New(t.Header)
	out.Rows = t.Rows[:n:n]
	return out
}

// ReadCSV reads a table from CSV; the first record is the header.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read csv: empty input")
	}
	t := New(records[0])
	t.Rows = records[1:]
	return t, nil
}

// ReadCSVFile reads a CSV table from path.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV writes the header followed by all rows.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}

// WriteCSVFile writes the table to path, truncating any existing file.
func WriteCSVFile(path string, t *Table) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
