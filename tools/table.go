// Package tools holds the deterministic helpers pipeline steps call:
// running SQL against SQLite, analysing tab-separated results, phrasing
// insights, building databases and checking generated reports.
package tools

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Table is a tab-separated result set. Cells are kept as text; numeric
// helpers parse on demand.
//
// Cells holding tabs, newlines or quotes are quoted the way encoding/csv
// quotes them, so any SQL text value survives a round trip.
type Table struct {
	Columns []string
	Rows    [][]string
}

func tsvReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

// ParseTSV reads a table whose first record holds the column names.
func ParseTSV(r io.Reader) (*Table, error) {
	cr := tsvReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 1 && strings.TrimSpace(header[0]) == "" {
		return nil, fmt.Errorf("missing header line")
	}

	t := &Table{Columns: header}
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(cells) != len(t.Columns) {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d fields, got %d", line, len(t.Columns), len(cells))
		}
		t.Rows = append(t.Rows, cells)
	}
	return t, nil
}

// ParseTSVString is ParseTSV over a string.
func ParseTSVString(s string) (*Table, error) {
	return ParseTSV(strings.NewReader(s))
}

// WriteTSV writes the header record followed by one record per row.
func (t *Table) WriteTSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// String renders the table as TSV.
func (t *Table) String() string {
	var sb strings.Builder
	_ = t.WriteTSV(&sb)
	return sb.String()
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of a column, or -1.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Has reports whether every named column is present.
func (t *Table) Has(columns ...string) bool {
	for _, c := range columns {
		if t.Index(c) < 0 {
			return false
		}
	}
	return true
}

// Floats parses a column as numbers. ok is false if any cell is not numeric.
func (t *Table) Floats(column string) (values []float64, ok bool) {
	i := t.Index(column)
	if i < 0 {
		return nil, false
	}
	values = make([]float64, 0, len(t.Rows))
	for _, row := range t.Rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

// Cell returns the value at row r of column, or "" if out of range.
func (t *Table) Cell(r int, column string) string {
	i := t.Index(column)
	if i < 0 || r < 0 || r >= len(t.Rows) {
		return ""
	}
	return t.Rows[r][i]
}

// FormatNumber renders whole numbers without a fraction and everything
// else rounded to two decimals.
func FormatNumber(v float64) string {
	v = math.Round(v*100) / 100
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
