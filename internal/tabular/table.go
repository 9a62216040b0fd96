// Package tabular reads and writes the delimited files the pipeline consumes
// and produces: encoding and delimiter detection, header normalization,
// optional compression and atomic replacement.
package tabular

import (
	"sort"
)

// Row is one record keyed by column name.
type Row map[string]string

// Clone returns a copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of rows sharing a column list.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's columns.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// EnsureColumns appends any of cols not already present, keeping order.
func (t *Table) EnsureColumns(cols ...string) {
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		seen[c] = true
	}
	for _, c := range cols {
		if !seen[c] {
			t.Columns = append(t.Columns, c)
			seen[c] = true
		}
	}
}

// Append adds r, extending Columns with any keys it introduces. New keys are
// added in sorted order so output is deterministic.
func (t *Table) Append(r Row) {
	var extra []string
	for k := range r {
		if !t.HasColumn(k) {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		t.EnsureColumns(extra...)
	}
	t.Rows = append(t.Rows, r)
}

// Project returns a new table holding only cols, in that order. Rows keep
// only those keys; missing values are empty.
func (t *Table) Project(cols ...string) *Table {
	out := NewTable(cols...)
	for _, r := range t.Rows {
		nr := make(Row, len(cols))
		for _, c := range cols {
			nr[c] = r[c]
		}
		out.Rows = append(out.Rows, nr)
	}
	return out
}

// Record returns row i as a slice aligned with Columns.
func (t *Table) Record(i int) []string {
	rec := make([]string, len(t.Columns))
	for j, c := range t.Columns {
		rec[j] = t.Rows[i][c]
	}
	return rec
}
