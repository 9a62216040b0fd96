package service

import (
	"sort"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

// ColumnFill is how many rows have a non-empty value in a column.
type ColumnFill struct {
	Column string `json:"column"`
	Filled int    `json:"filled"`
}

// Analysis describes the content of an input or output table.
type Analysis struct {
	Rows          int            `json:"rows"`
	Columns       []ColumnFill   `json:"columns"`
	Identified    int            `json:"identified"`
	DuplicateIDs  int            `json:"duplicate_ids"`
	StatusCounts  map[string]int `json:"status_counts,omitempty"`
	CountSources  map[string]int `json:"count_sources,omitempty"`
	UnknownCounts int            `json:"unknown_member_counts"`
}

// Analyze computes row, fill, identifier and status statistics.
func Analyze(t *tabular.Table) Analysis {
	a := Analysis{Rows: t.Len()}
	fill := make(map[string]int, len(t.Columns))
	ids := make(map[int64]int)
	hasStatus := t.HasColumn(core.ColAccessStatus)

	for _, r := range t.Rows {
		for _, c := range t.Columns {
			if r[c] != "" {
				fill[c]++
			}
		}
		if _, ok := core.ResolveRecord(r); ok {
			a.Identified++
		}
		if id, ok := core.ParseID(r[core.ColID]); ok {
			ids[id]++
		}
		if hasStatus {
			if a.StatusCounts == nil {
				a.StatusCounts = make(map[string]int)
				a.CountSources = make(map[string]int)
			}
			a.StatusCounts[r[core.ColAccessStatus]]++
			if src := r[core.ColMembersCountSource]; src != "" {
				a.CountSources[src]++
			}
			if r[core.ColAccessStatus] == string(core.AccessSuccess) && r[core.ColMembersCount] == "" {
				a.UnknownCounts++
			}
		}
	}

	for _, c := range t.Columns {
		a.Columns = append(a.Columns, ColumnFill{Column: c, Filled: fill[c]})
	}
	for _, n := range ids {
		if n > 1 {
			a.DuplicateIDs += n - 1
		}
	}
	return a
}

// SortedStatuses returns the status names of a in a stable order.
func (a Analysis) SortedStatuses() []string {
	out := make([]string, 0, len(a.StatusCounts))
	for s := range a.StatusCounts {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CleanStats reports what Clean removed.
type CleanStats struct {
	Unidentified int `json:"unidentified"`
	Duplicates   int `json:"duplicates"`
}

// Clean drops rows without a usable identifier and merges duplicates,
// keeping the last occurrence.
func Clean(t *tabular.Table) (*tabular.Table, CleanStats) {
	var stats CleanStats
	kept := tabular.NewTable(t.Columns...)
	for _, r := range t.Rows {
		if _, ok := core.ResolveRecord(r); !ok {
			stats.Unidentified++
			continue
		}
		kept.Rows = append(kept.Rows, r)
	}
	out := Merge(nil, kept)
	stats.Duplicates = kept.Len() - out.Len()
	return out, stats
}
