package service

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

// RunOptions selects the input and output of one run.
type RunOptions struct {
	InputPath  string
	OutputPath string
	// Aggregate folds the input directory into the canonical input first.
	Aggregate bool
	// DryRun plans the run without locking, connecting or writing.
	DryRun bool
}

// Pipeline coordinates aggregation, deduplication, fetching and
// checkpointing for one output file.
type Pipeline struct {
	provider   core.Provider
	counter    core.MemberCounter
	lock       core.RunLock
	inputLock  core.RunLock
	ledger     core.RunLedger
	aggregator *Aggregator
	sinks      []core.ResultSink

	pacing          PacerConfig
	policy          *RetryPolicy
	checkpointEvery int
	backup          tabular.Compression

	sleeper     Sleeper
	rng         *rand.Rand
	logger      *logging.Logger
	metrics     *Metrics
	metricsPath string
	now         func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRunLock guards the output with lock.
func WithRunLock(lock core.RunLock) PipelineOption {
	return func(p *Pipeline) {
		p.lock = lock
	}
}

// WithInputLock guards the canonical input while an aggregating run folds
// sources into it and reads it back.
func WithInputLock(lock core.RunLock) PipelineOption {
	return func(p *Pipeline) {
		p.inputLock = lock
	}
}

// WithLedger records runs and attempts in l.
func WithLedger(l core.RunLedger) PipelineOption {
	return func(p *Pipeline) {
		p.ledger = l
	}
}

// WithAggregator enables RunOptions.Aggregate.
func WithAggregator(a *Aggregator) PipelineOption {
	return func(p *Pipeline) {
		p.aggregator = a
	}
}

// WithResultSinks mirrors checkpoints to sinks and closes them at the end.
func WithResultSinks(sinks ...core.ResultSink) PipelineOption {
	return func(p *Pipeline) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithCounter sets the secondary member-count lookup.
func WithCounter(c core.MemberCounter) PipelineOption {
	return func(p *Pipeline) {
		p.counter = c
	}
}

// WithPacing sets the pacing configuration.
func WithPacing(cfg PacerConfig) PipelineOption {
	return func(p *Pipeline) {
		p.pacing = cfg
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(policy *RetryPolicy) PipelineOption {
	return func(p *Pipeline) {
		p.policy = policy
	}
}

// WithCheckpointEvery sets the flush interval in records.
func WithCheckpointEvery(n int) PipelineOption {
	return func(p *Pipeline) {
		p.checkpointEvery = n
	}
}

// WithBackup keeps a compressed copy of the output before each overwrite.
func WithBackup(c tabular.Compression) PipelineOption {
	return func(p *Pipeline) {
		p.backup = c
	}
}

// WithPipelineSleeper replaces every real sleep.
func WithPipelineSleeper(s Sleeper) PipelineOption {
	return func(p *Pipeline) {
		p.sleeper = s
	}
}

// WithPipelineRand sets the random source for pacing and throttle jitter.
func WithPipelineRand(r *rand.Rand) PipelineOption {
	return func(p *Pipeline) {
		p.rng = r
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *logging.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithPipelineMetrics records metrics in m and, if textfile is set, exports
// them there when the run ends.
func WithPipelineMetrics(m *Metrics, textfile string) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
		p.metricsPath = textfile
	}
}

// WithPipelineClock overrides time.Now.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a pipeline around provider.
func NewPipeline(provider core.Provider, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		provider:        provider,
		pacing:          DefaultPacerConfig(),
		policy:          DefaultRetryPolicy(),
		checkpointEvery: 10,
		backup:          tabular.CompressionNone,
		sleeper:         TimerSleeper{},
		logger:          logging.NewNop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(p.now().UnixNano()))
	}
	return p
}

type job struct {
	id  core.ChatIdentifier
	row tabular.Row
}

// Run processes every unresolved identifier of the input. The returned
// summary is valid even when err is not nil. Buffered records are flushed
// before Run returns, including after cancellation or an abort.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*core.RunSummary, error) {
	summary := &core.RunSummary{OutputPath: opts.OutputPath, StartedAt: p.now()}

	if !opts.DryRun {
		release, err := p.acquire(ctx, p.lock)
		if err != nil {
			return summary, err
		}
		defer release("run lock")
	}
	if opts.Aggregate && !opts.DryRun {
		release, err := p.acquire(ctx, p.inputLock)
		if err != nil {
			return summary, err
		}
		defer release("input lock")
	}

	if opts.Aggregate && p.aggregator != nil && !opts.DryRun {
		res, err := p.aggregator.Aggregate(ctx)
		if err != nil {
			return summary, err
		}
		summary.Aggregated = res.Added
	}

	input, err := readInput(opts.InputPath)
	if err != nil {
		return summary, err
	}
	existing, err := ReadOutput(opts.OutputPath)
	if err != nil {
		return summary, err
	}

	jobs := p.plan(input, SeedDedupIndex(existing, true), summary)
	p.logger.Info("run planned",
		"input", opts.InputPath,
		"output", opts.OutputPath,
		"rows", summary.Total,
		"pending", len(jobs),
		"skipped", summary.Skipped,
	)
	if opts.DryRun {
		summary.FinishedAt = p.now()
		return summary, nil
	}

	runID, err := p.startRun(ctx, opts)
	if err != nil {
		return summary, err
	}
	summary.RunID = runID
	ctx = logging.ContextWithRunID(ctx, runID)
	log := p.logger.WithRun(runID)

	runErr := p.execute(ctx, log, jobs, input.Columns, opts, summary)

	summary.FinishedAt = p.now()
	status := core.RunStatusCompleted
	if runErr != nil {
		status = core.RunStatusFailed
		if isAbort(runErr) {
			status = core.RunStatusAborted
			summary.Aborted = true
			summary.AbortReason = runErr.Error()
		}
	}
	if p.ledger != nil {
		if err := p.ledger.FinishRun(context.WithoutCancel(ctx), runID, status, *summary); err != nil {
			log.Warn("recording run end", "error", err)
		}
	}
	p.metrics.MarkRunFinished(summary.FinishedAt)
	if err := p.metrics.WriteTextfile(p.metricsPath); err != nil {
		log.Warn("exporting metrics", "error", err)
	}

	log.Info("run finished",
		"status", status,
		"successful", summary.Successful,
		"access_denied", summary.AccessDenied,
		"errors", summary.Errors,
		"skipped", summary.Skipped,
	)
	return summary, runErr
}

// acquire takes lock and returns its release. A nil lock is a no-op.
func (p *Pipeline) acquire(ctx context.Context, lock core.RunLock) (func(name string), error) {
	if lock == nil {
		return func(string) {}, nil
	}
	if err := lock.Acquire(ctx); err != nil {
		return nil, err
	}
	return func(name string) {
		if err := lock.Release(); err != nil {
			p.logger.Warn("releasing "+name, "error", err)
		}
	}, nil
}

// plan resolves input rows and drops those already handled, including
// repeats within the input itself.
func (p *Pipeline) plan(input *tabular.Table, index *DedupIndex, summary *core.RunSummary) []job {
	summary.Total = input.Len()
	var jobs []job
	for _, r := range input.Rows {
		id, ok := core.ResolveRecord(r)
		if !ok {
			summary.Skipped++
			p.logger.Debug("no usable identifier", "id", r[core.ColID], "username", r[core.ColUsername])
			continue
		}
		if index.ContainsRow(r) || index.Contains(id) {
			summary.Skipped++
			continue
		}
		index.Add(id)
		index.AddRow(r)
		jobs = append(jobs, job{id: id, row: r})
	}
	return jobs
}

func (p *Pipeline) startRun(ctx context.Context, opts RunOptions) (string, error) {
	if p.ledger == nil {
		return uuid.NewString(), nil
	}
	id, err := p.ledger.StartRun(ctx, opts.InputPath, opts.OutputPath)
	if err != nil {
		return "", err
	}
	return id, nil
}

// execute connects and walks the jobs. It always flushes before returning.
func (p *Pipeline) execute(ctx context.Context, log *logging.Logger, jobs []job, columns []string, opts RunOptions, summary *core.RunSummary) error {
	flushCtx := context.WithoutCancel(ctx)
	cp := NewCheckpointWriter(CheckpointConfig{
		Path:         opts.OutputPath,
		Every:        p.checkpointEvery,
		Backup:       p.backup,
		InputColumns: columns,
	}, WithSinks(p.sinks...), WithCheckpointLogger(log), WithCheckpointMetrics(p.metrics))
	defer p.closeSinks(flushCtx, log)

	if len(jobs) == 0 {
		log.Info("nothing to fetch")
		return nil
	}

	selfID, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.provider.Close(); err != nil {
			log.Warn("closing provider", "error", err)
		}
	}()

	pacer := NewPacer(p.pacing,
		WithSleeper(p.sleeper),
		WithRand(p.rng),
		WithPacerLogger(log),
		WithPacerMetrics(p.metrics),
	)
	fetcher := NewFetcher(p.provider, pacer, NewClassifier(p.policy, p.rng),
		WithMemberCounter(p.counter),
		WithFetcherSleeper(p.sleeper),
		WithFetcherLogger(log),
		WithFetcherMetrics(p.metrics),
		WithClock(p.now),
	)
	fetcher.SetSelfID(selfID)

	var runErr error
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		rec, err := fetcher.Fetch(ctx, j.id, j.row)
		if rec != nil {
			tally(summary, rec)
			if p.ledger != nil {
				if lerr := p.ledger.RecordAttempt(flushCtx, summary.RunID, rec); lerr != nil {
					log.Warn("recording attempt", "error", lerr)
				}
			}
			if cerr := cp.Add(flushCtx, rec); cerr != nil {
				runErr = cerr
				break
			}
		}
		if err != nil {
			runErr = err
			break
		}
		if (i+1)%10 == 0 || i+1 == len(jobs) {
			log.Info("progress", "done", i+1, "of", len(jobs))
		}
	}

	if err := cp.Flush(flushCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func (p *Pipeline) connect(ctx context.Context) (int64, error) {
	if err := p.provider.Connect(ctx); err != nil {
		return 0, err
	}
	selfID, ok, err := p.provider.IsAuthorized(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, core.FatalFault(core.ReasonUnauthorized, "provider session is not authorized", nil)
	}
	return selfID, nil
}

func (p *Pipeline) closeSinks(ctx context.Context, log *logging.Logger) {
	for _, s := range p.sinks {
		if err := s.Close(ctx); err != nil {
			log.Warn("closing sink", "sink", s.Name(), "error", err)
		}
	}
}

func tally(s *core.RunSummary, rec *core.FetchRecord) {
	switch rec.AccessStatus {
	case core.AccessSuccess:
		s.Successful++
	case core.AccessDenied:
		s.AccessDenied++
	default:
		s.Errors++
	}
}

// isAbort reports whether err ended the run early on purpose: a long
// provider wait, a fatal fault or cancellation.
func isAbort(err error) bool {
	if core.IsThrottleAbort(err) || errors.Is(err, context.Canceled) {
		return true
	}
	var f *core.Fault
	return errors.As(err, &f) && f.Kind == core.FaultFatal
}

func readInput(path string) (*tabular.Table, error) {
	t, _, err := tabular.ReadFile(path, tabular.Options{NormalizeHeaders: true})
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, tabular.ErrEmpty):
		return tabular.NewTable(core.ColID, core.ColUsername), nil
	case errors.Is(err, tabular.ErrNoIdentifierColumns):
		return nil, core.ErrValidation(core.CodeNoIdentifierCols, "input has no id or username column").WithDetail("path", path)
	case errors.Is(err, os.ErrNotExist):
		return nil, core.ErrNotFound("input file", path)
	default:
		return nil, core.ErrIO(core.CodeReadFailed, "reading input").WithCause(err).WithDetail("path", path)
	}
}

// LegacyOutputPath is the per-file output name: the input's base name
// without extensions, plus suffix and ".csv", next to the input.
func LegacyOutputPath(input, suffix string) string {
	dir, base := filepath.Split(input)
	for {
		ext := filepath.Ext(base)
		if ext == "" || !knownExt(ext) {
			break
		}
		base = strings.TrimSuffix(base, ext)
	}
	return filepath.Join(dir, base+suffix+".csv")
}

func knownExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".csv", ".tsv", ".txt", ".gz", ".gzip", ".zst", ".lz4":
		return true
	}
	return false
}
