// Package table loads raw delimited source files into an in-memory table with
// case-insensitive column lookup.
package table

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/fetcher"
)

// Table is a raw source table. Rows may be shorter than Header; missing
// trailing cells read as empty.
type Table struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

// New builds a Table from a header and rows.
func New(header []string, rows [][]string) *Table {
	t := &Table{Header: header, Rows: rows}
	t.index = mapColumns(header)
	return t
}

// mapColumns indexes header names lowercased. The first occurrence of a name wins.
func mapColumns(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := m[key]; !ok {
			m[key] = i
		}
	}
	return m
}

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// Has reports whether the table carries the named column.
func (t *Table) Has(name string) bool {
	_, ok := t.Index(name)
	return ok
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// Cell returns row[idx], or "" if the row is too short.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// Value returns the cell of the named column in row.
func (t *Table) Value(row []string, name string) string {
	i, ok := t.Index(name)
	if !ok {
		return ""
	}
	return Cell(row, i)
}

// ReadCSV reads a comma-separated table with a header row.
func ReadCSV(ctx context.Context, r io.Reader) (*Table, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader:       true,
		HeaderCh:        headerCh,
		LazyQuotes:      true,
		TrimSpace:       true,
		NormalizeHeader: true,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "table: read csv")
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
	}
	return New(header, rows), nil
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(ctx context.Context, path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "table: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	t, err := ReadCSV(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "table: %s", path)
	}
	return t, nil
}
