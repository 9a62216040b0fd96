package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/testutil"
)

func TestRenderSummary(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &core.RunSummary{
		RunID:        "run-1",
		Total:        12,
		Successful:   7,
		Skipped:      2,
		AccessDenied: 2,
		Errors:       1,
		OutputPath:   "groups_enhanced.csv",
		StartedAt:    start,
		FinishedAt:   start.Add(90 * time.Second),
	}

	out := RenderSummary(s)
	for _, want := range []string{"Run summary", "Total", "12", "Successful", "Access denied", "groups_enhanced.csv", "run-1", "1m30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Aggregated") {
		t.Error("Aggregated should be omitted when zero")
	}
}

func TestRenderSummary_Scrubbed(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := &core.RunSummary{
		RunID:      "0b8f6a52-3c1e-4d7a-9f10-2e5b7c9d4a61",
		Total:      1,
		Successful: 1,
		OutputPath: "/tmp/work/groups_enhanced.csv",
		StartedAt:  start,
		FinishedAt: start.Add(42 * time.Second),
	}

	out := testutil.ScrubAll(RenderSummary(s), "/tmp/work")
	for _, want := range []string{"[UUID]", "[DURATION]", "[WORKDIR]/groups_enhanced.csv"} {
		testutil.AssertContains(t, out, want)
	}
	testutil.AssertNotContains(t, out, s.RunID)
}

func TestRenderSummary_Aborted(t *testing.T) {
	s := &core.RunSummary{
		Aborted:     true,
		AbortReason: "provider requires a 3h0m0s wait",
		Aggregated:  4,
	}

	out := RenderSummary(s)
	if !strings.Contains(out, "Run aborted") {
		t.Errorf("expected aborted title:\n%s", out)
	}
	if !strings.Contains(out, "3h0m0s") {
		t.Errorf("expected abort reason:\n%s", out)
	}
	if !strings.Contains(out, "Aggregated") {
		t.Errorf("expected aggregated row:\n%s", out)
	}
}

func TestRenderError(t *testing.T) {
	out := RenderError(errors.New("boom"))
	if !strings.Contains(out, "Error: boom") {
		t.Errorf("RenderError() = %q", out)
	}
}

func TestStatusStyle(t *testing.T) {
	tests := []struct {
		status string
		want   string
	}{
		{"completed", "completed"},
		{"aborted", "aborted"},
		{"failed", "failed"},
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got := StatusStyle(tt.status).Render(tt.status)
			if !strings.Contains(got, tt.want) {
				t.Errorf("StatusStyle(%q).Render() = %q", tt.status, got)
			}
		})
	}
}
