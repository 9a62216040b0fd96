package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/testutil"
)

type fakeLock struct {
	acquired, released int
	err                error
}

func (l *fakeLock) Acquire(context.Context) error {
	if l.err != nil {
		return l.err
	}
	l.acquired++
	return nil
}

func (l *fakeLock) Release() error {
	l.released++
	return nil
}

func (l *fakeLock) Holder() (*core.LockHolder, error) {
	return nil, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	attempts []*core.FetchRecord
	status   string
}

func (l *fakeLedger) StartRun(context.Context, string, string) (string, error) {
	return "run-1", nil
}

func (l *fakeLedger) RecordAttempt(_ context.Context, _ string, rec *core.FetchRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, rec)
	return nil
}

func (l *fakeLedger) FinishRun(_ context.Context, _, status string, _ core.RunSummary) error {
	l.status = status
	return nil
}

func (l *fakeLedger) ListRuns(context.Context, int) ([]core.RunInfo, error) { return nil, nil }
func (l *fakeLedger) Close() error                                          { return nil }

func newTestPipeline(p core.Provider, s Sleeper, opts ...PipelineOption) *Pipeline {
	base := []PipelineOption{
		WithPacing(PacerConfig{}),
		WithPipelineSleeper(s),
		WithPipelineClock(func() time.Time { return fixedNow }),
	}
	return NewPipeline(p, append(base, opts...)...)
}

func outputByID(t *testing.T, path string) map[string]tabular.Row {
	t.Helper()
	out, err := ReadOutput(path)
	if err != nil {
		t.Fatalf("ReadOutput() error = %v", err)
	}
	rows := make(map[string]tabular.Row, out.Len())
	for _, r := range out.Rows {
		rows[r[core.ColID]] = r
	}
	return rows
}

func TestPipeline_Run(t *testing.T) {
	dir := testutil.TempDir(t)
	input := testutil.TempFile(t, dir, "groups.csv", "id,username,title\n1,,one\n2,,two\n,bad name!,x\n3,,three\n1,,again\n")
	output := testutil.TempFile(t, dir, "groups_checked.csv", "id,access_status\n2,success\n")

	p := testutil.NewFakeProvider().WithChat(core.ChatIdentifier{ID: 1}, &core.Entity{ID: 1, Title: "One"})
	sink := &testutil.MemorySink{}
	ledger := &fakeLedger{}
	lock := &fakeLock{}

	summary, err := newTestPipeline(p, &testutil.RecordingSleeper{},
		WithRunLock(lock), WithLedger(ledger), WithResultSinks(sink),
	).Run(context.Background(), RunOptions{InputPath: input, OutputPath: output})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total != 5 || summary.Skipped != 3 || summary.Successful != 1 || summary.AccessDenied != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.RunID != "run-1" || summary.Aborted {
		t.Errorf("RunID = %q Aborted = %v", summary.RunID, summary.Aborted)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Errorf("lock acquired %d released %d", lock.acquired, lock.released)
	}
	if len(ledger.attempts) != 2 || ledger.status != core.RunStatusCompleted {
		t.Errorf("ledger attempts %d status %q", len(ledger.attempts), ledger.status)
	}
	if sink.Rows() != 2 || !sink.Closed() {
		t.Errorf("sink rows %d closed %v", sink.Rows(), sink.Closed())
	}
	if !p.Closed() {
		t.Error("provider not closed")
	}

	rows := outputByID(t, output)
	if len(rows) != 3 {
		t.Fatalf("output has %d rows, want 3", len(rows))
	}
	if rows["1"][core.ColAccessStatus] != "success" || rows["1"][core.ColActualTitle] != "One" || rows["1"][core.ColTitle] != "one" {
		t.Errorf("row 1 = %v", rows["1"])
	}
	if rows["3"][core.ColAccessStatus] != "access_denied" {
		t.Errorf("row 3 = %v", rows["3"])
	}
	if rows["2"][core.ColAccessStatus] != "success" {
		t.Errorf("prior row 2 lost: %v", rows["2"])
	}
}

func TestPipeline_RetriesErrorRows(t *testing.T) {
	dir := testutil.TempDir(t)
	input := testutil.TempFile(t, dir, "in.csv", "id\n5\n6\n")
	output := testutil.TempFile(t, dir, "out.csv", "id,access_status,error_message\n5,error,boom\n6,access_denied,private\n")

	p := testutil.NewFakeProvider().WithChat(core.ChatIdentifier{ID: 5}, &core.Entity{ID: 5, Title: "Five"})
	summary, err := newTestPipeline(p, &testutil.RecordingSleeper{}).
		Run(context.Background(), RunOptions{InputPath: input, OutputPath: output})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Successful != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if n := p.CallCount("ResolveEntity", "6"); n != 0 {
		t.Errorf("access_denied row fetched %d times", n)
	}

	rows := outputByID(t, output)
	if len(rows) != 2 || rows["5"][core.ColAccessStatus] != "success" || rows["5"][core.ColErrorMessage] != "" {
		t.Errorf("output = %v", rows)
	}
}

func TestPipeline_ThrottleAbortFlushes(t *testing.T) {
	dir := testutil.TempDir(t)
	input := testutil.TempFile(t, dir, "in.csv", "id\n1\n2\n3\n")
	output := filepath.Join(dir, "out.csv")

	p := testutil.NewFakeProvider().
		WithChat(core.ChatIdentifier{ID: 1}, &core.Entity{ID: 1, Title: "One"}).
		OnResolve(core.ChatIdentifier{ID: 2}, testutil.Outcome{Err: core.ThrottleFault(3*time.Hour, "flood wait")})
	ledger := &fakeLedger{}

	summary, err := newTestPipeline(p, &testutil.RecordingSleeper{}, WithLedger(ledger)).
		Run(context.Background(), RunOptions{InputPath: input, OutputPath: output})
	if !core.IsThrottleAbort(err) {
		t.Fatalf("Run() error = %v, want throttle abort", err)
	}
	if !summary.Aborted || summary.AbortReason == "" || ledger.status != core.RunStatusAborted {
		t.Errorf("summary = %+v ledger status %q", summary, ledger.status)
	}
	if n := p.CallCount("ResolveEntity", "3"); n != 0 {
		t.Errorf("identifier after the abort was fetched %d times", n)
	}

	rows := outputByID(t, output)
	if len(rows) != 1 || rows["1"][core.ColAccessStatus] != "success" {
		t.Errorf("output = %v, want only the success before the abort", rows)
	}
}

func TestPipeline_InterruptRecordsInFlight(t *testing.T) {
	dir := testutil.TempDir(t)
	input := testutil.TempFile(t, dir, "in.csv", "id\n1\n2\n3\n")
	output := filepath.Join(dir, "out.csv")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := testutil.NewFakeProvider().
		WithChat(core.ChatIdentifier{ID: 1}, &core.Entity{ID: 1}).
		WithChat(core.ChatIdentifier{ID: 2}, &core.Entity{ID: 2})
	s := &testutil.RecordingSleeper{CancelAfter: 2, Cancel: cancel}

	summary, err := newTestPipeline(p, s).Run(ctx, RunOptions{InputPath: input, OutputPath: output})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if !summary.Aborted || summary.Successful != 1 || summary.Errors != 1 {
		t.Errorf("summary = %+v", summary)
	}

	rows := outputByID(t, output)
	if len(rows) != 2 {
		t.Fatalf("output has %d rows, want 2", len(rows))
	}
	if rows["2"][core.ColAccessStatus] != "error" || rows["2"][core.ColErrorMessage] != InterruptedMessage {
		t.Errorf("row 2 = %v", rows["2"])
	}
}

func TestPipeline_Unauthorized(t *testing.T) {
	dir := testutil.TempDir(t)
	input := testutil.TempFile(t, dir, "in.csv", "id\n1\n")
	output := filepath.Join(dir, "out.csv")

	p := testutil.NewFakeProvider()
	p.Unauthorized = true
	lock := &fakeLock{}

	summary, err := newTestPipeline(p, &testutil.RecordingSleeper{}, WithRunLock(lock)).
		Run(context.Background(), RunOptions{InputPath: input, OutputPath: output})

	f := core.AsFault(err)
	if f == nil || f.Kind != core.FaultFatal || f.Reason != core.ReasonUnauthorized {
		t.Fatalf("Run() error = %v, want fatal unauthorized fault", err)
	}
	if !summary.Aborted {
		t.Error("unauthorized run should be reported as aborted")
	}
	if lock.released != 1 {
		t.Error("lock not released")
	}
	if p.CallCount("ResolveEntity") != 0 {
		t.Error("no identifier should be fetched")
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("output written: %v", err)
	}
}

func TestPipeline_DryRun(t *testing.T) {
	dir := testutil.TempDir(t)
	input := testutil.TempFile(t, dir, "in.csv", "username\n@alpha\n@beta\n@alpha\n")
	output := filepath.Join(dir, "out.csv")
	p := testutil.NewFakeProvider()
	lock := &fakeLock{}

	summary, err := newTestPipeline(p, &testutil.RecordingSleeper{}, WithRunLock(lock)).
		Run(context.Background(), RunOptions{InputPath: input, OutputPath: output, DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 3 || summary.Skipped != 1 || summary.RunID != "" {
		t.Errorf("summary = %+v", summary)
	}
	if len(p.Calls()) != 0 || lock.acquired != 0 {
		t.Errorf("dry run touched provider (%d calls) or lock (%d)", len(p.Calls()), lock.acquired)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("output written: %v", err)
	}
}

func TestPipeline_AggregateTakesInputLock(t *testing.T) {
	dir := testutil.TempDir(t)
	input := testutil.TempFile(t, dir, "in.csv", "id\n1\n")
	output := filepath.Join(dir, "out.csv")
	p := testutil.NewFakeProvider()
	runLock := &fakeLock{}
	inputLock := &fakeLock{err: &core.RunLockConflictError{Path: input, Holder: core.LockHolder{PID: 4242}}}

	_, err := newTestPipeline(p, &testutil.RecordingSleeper{}, WithRunLock(runLock), WithInputLock(inputLock)).
		Run(context.Background(), RunOptions{InputPath: input, OutputPath: output, Aggregate: true})

	var conflict *core.RunLockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Run() error = %v, want RunLockConflictError", err)
	}
	if runLock.acquired != 1 || runLock.released != 1 {
		t.Errorf("run lock acquired %d released %d, want 1/1", runLock.acquired, runLock.released)
	}
	if len(p.Calls()) != 0 {
		t.Errorf("provider called %d times", len(p.Calls()))
	}

	// Without aggregation the input lock is not needed.
	inputLock.err = nil
	if _, err := newTestPipeline(p, &testutil.RecordingSleeper{}, WithRunLock(&fakeLock{}), WithInputLock(inputLock)).
		Run(context.Background(), RunOptions{InputPath: input, OutputPath: output}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if inputLock.acquired != 0 {
		t.Errorf("input lock acquired %d times by a plain run", inputLock.acquired)
	}
}

func TestPipeline_MissingInput(t *testing.T) {
	dir := testutil.TempDir(t)
	_, err := newTestPipeline(testutil.NewFakeProvider(), &testutil.RecordingSleeper{}).
		Run(context.Background(), RunOptions{InputPath: filepath.Join(dir, "nope.csv"), OutputPath: filepath.Join(dir, "out.csv")})
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("Run() error = %v, want not found", err)
	}
}

func TestLegacyOutputPath(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"groups.csv", "groups_checked.csv"},
		{filepath.Join("data", "groups.csv.gz"), filepath.Join("data", "groups_checked.csv")},
		{"export.tsv", "export_checked.csv"},
		{"my.list", "my.list_checked.csv"},
	}
	for _, tt := range tests {
		if got := LegacyOutputPath(tt.input, "_checked"); got != tt.want {
			t.Errorf("LegacyOutputPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
