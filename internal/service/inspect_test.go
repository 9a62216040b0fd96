package service

import (
	"testing"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

func TestAnalyze(t *testing.T) {
	cols := []string{core.ColID, core.ColUsername, core.ColMembersCount, core.ColMembersCountSource, core.ColAccessStatus}
	tbl := table(cols,
		[]string{"1", "", "10", "entity", "success"},
		[]string{"1", "", "", "", "success"},
		[]string{"", "alpha", "", "", "access_denied"},
		[]string{"", "bad name!", "", "", "error"},
	)

	a := Analyze(tbl)
	if a.Rows != 4 || a.Identified != 3 || a.DuplicateIDs != 1 {
		t.Errorf("Analyze() = rows %d identified %d duplicates %d; want 4, 3, 1", a.Rows, a.Identified, a.DuplicateIDs)
	}
	if a.StatusCounts["success"] != 2 || a.StatusCounts["error"] != 1 {
		t.Errorf("StatusCounts = %v", a.StatusCounts)
	}
	if a.UnknownCounts != 1 {
		t.Errorf("UnknownCounts = %d, want 1", a.UnknownCounts)
	}
	if a.Columns[0].Column != core.ColID || a.Columns[0].Filled != 2 {
		t.Errorf("Columns[0] = %+v", a.Columns[0])
	}
	if got := a.SortedStatuses(); len(got) != 3 || got[0] != "access_denied" {
		t.Errorf("SortedStatuses() = %v", got)
	}
}

func TestAnalyze_InputWithoutStatus(t *testing.T) {
	a := Analyze(table([]string{core.ColID}, []string{"1"}))
	if a.StatusCounts != nil {
		t.Errorf("StatusCounts = %v, want nil for input tables", a.StatusCounts)
	}
}

func TestClean(t *testing.T) {
	tbl := table([]string{core.ColID, core.ColUsername, core.ColTitle},
		[]string{"1", "", "a"},
		[]string{"", "", "orphan"},
		[]string{"1.0", "", "a again"},
		[]string{"", "@beta", "b"},
	)

	out, stats := Clean(tbl)
	if stats.Unidentified != 1 || stats.Duplicates != 1 {
		t.Errorf("stats = %+v, want 1 unidentified and 1 duplicate", stats)
	}
	want := []string{"a again", "b"}
	got := column(out, core.ColTitle)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("titles = %v, want %v", got, want)
	}
}
