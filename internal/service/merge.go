package service

import (
	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

// Merge concatenates existing and incoming and drops duplicates, keeping the
// last occurrence in its later position. Two rows are duplicates when they
// share an id or a normalized handle. Rows with neither are kept as-is.
// Columns are the union, existing order first. Neither input is modified.
func Merge(existing, incoming *tabular.Table) *tabular.Table {
	out := tabular.NewTable()
	all := make([]tabular.Row, 0, existing.Len()+incoming.Len())
	for _, t := range []*tabular.Table{existing, incoming} {
		if t == nil {
			continue
		}
		out.EnsureColumns(t.Columns...)
		all = append(all, t.Rows...)
	}

	seen := NewDedupIndex()
	keep := make([]bool, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		r := all[i]
		if !hasIdentity(r) {
			keep[i] = true
			continue
		}
		if seen.ContainsRow(r) {
			continue
		}
		keep[i] = true
		seen.AddRow(r)
	}

	for i, r := range all {
		if keep[i] {
			out.Append(r.Clone())
		}
	}
	return out
}

// DedupByID keeps the last row for each id. Rows without a parseable id are
// kept.
func DedupByID(t *tabular.Table) (*tabular.Table, int) {
	out := tabular.NewTable(t.Columns...)
	seen := make(map[int64]bool)
	keep := make([]bool, len(t.Rows))
	for i := len(t.Rows) - 1; i >= 0; i-- {
		id, ok := core.ParseID(t.Rows[i][core.ColID])
		if !ok {
			keep[i] = true
			continue
		}
		if !seen[id] {
			keep[i] = true
			seen[id] = true
		}
	}

	dropped := 0
	for i, r := range t.Rows {
		if keep[i] {
			out.Rows = append(out.Rows, r)
		} else {
			dropped++
		}
	}
	return out, dropped
}

func hasIdentity(r tabular.Row) bool {
	if _, ok := core.ParseID(r[core.ColID]); ok {
		return true
	}
	for _, col := range []string{core.ColUsername, core.ColActualUsername} {
		if core.ValidHandle(core.NormalizeHandle(r[col])) {
			return true
		}
	}
	return false
}
