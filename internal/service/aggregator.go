package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/fsutil"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

// Source outcomes reported by the aggregator.
const (
	SourceFolded    = "folded"
	SourceEmpty     = "empty"
	SourceFailed    = "failed"
	SourceDuplicate = "already_processed"
)

// AggregatorConfig locates the inputs.
type AggregatorConfig struct {
	Dir         string
	Canonical   string
	ProgressLog string
	Extensions  []string
	// Workers bounds parallel parsing; folding is always sequential.
	Workers int
}

// SourceResult is what happened to one source file.
type SourceResult struct {
	Path    string
	Outcome string
	Rows    int
	Added   int
	Err     error
}

// AggregateResult summarizes one aggregation pass.
type AggregateResult struct {
	Canonical string
	Sources   []SourceResult
	Added     int
	Dropped   int // duplicate ids removed from the canonical file
	Rows      int // canonical rows after the pass
}

// Count returns how many sources ended with outcome.
func (r *AggregateResult) Count(outcome string) int {
	n := 0
	for _, s := range r.Sources {
		if s.Outcome == outcome {
			n++
		}
	}
	return n
}

// Aggregator folds every source file in the input directory into the
// canonical input.
type Aggregator struct {
	cfg      AggregatorConfig
	progress *ProgressLog
	logger   *logging.Logger
	metrics  *Metrics
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorLogger sets the logger.
func WithAggregatorLogger(l *logging.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// WithAggregatorMetrics records outcomes in m.
func WithAggregatorMetrics(m *Metrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg AggregatorConfig, opts ...AggregatorOption) *Aggregator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".csv", ".tsv", ".txt"}
	}
	a := &Aggregator{
		cfg:      cfg,
		progress: NewProgressLog(cfg.ProgressLog),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type parsedSource struct {
	entry fsutil.Entry
	hash  string
	table *tabular.Table
	err   error
}

// Aggregate parses sources in parallel and folds them oldest first. The
// canonical file is rewritten once, deduplicated by id, before consumed
// sources are logged and deleted.
func (a *Aggregator) Aggregate(ctx context.Context) (*AggregateResult, error) {
	res := &AggregateResult{Canonical: a.cfg.Canonical}

	canonical, err := a.readCanonical()
	if err != nil {
		return nil, err
	}
	index := SeedDedupIndex(canonical, false)

	entries, err := fsutil.ListFiles(a.cfg.Dir, a.cfg.Extensions, tabular.CompressedExtensions(),
		a.cfg.Canonical, a.cfg.ProgressLog)
	if errors.Is(err, os.ErrNotExist) {
		a.logger.Info("input directory missing, nothing to aggregate", "dir", a.cfg.Dir)
		res.Rows = canonical.Len()
		return res, nil
	}
	if err != nil {
		return nil, core.ErrIO(core.CodeReadFailed, "listing input directory").WithCause(err).WithDetail("dir", a.cfg.Dir)
	}
	entries = a.excludeCanonical(entries)

	done, err := a.progress.Hashes()
	if err != nil {
		return nil, core.ErrIO(core.CodeReadFailed, "reading progress log").WithCause(err)
	}

	parsed, err := a.parseAll(ctx, entries)
	if err != nil {
		return nil, err
	}

	var consumed []parsedSource
	var remove []string
	for _, p := range parsed {
		log := a.logger.WithSource(p.entry.Path)
		sr := SourceResult{Path: p.entry.Path}

		switch {
		case p.hash != "" && done[p.hash] != "":
			sr.Outcome = SourceDuplicate
			remove = append(remove, p.entry.Path)
			log.Info("source already processed, removing", "logged_as", done[p.hash])

		case errors.Is(p.err, tabular.ErrEmpty):
			sr.Outcome = SourceEmpty
			remove = append(remove, p.entry.Path)
			log.Info("removing empty source")

		case p.err != nil:
			sr.Outcome = SourceFailed
			sr.Err = p.err
			log.Warn("source left in place", "error", p.err)

		default:
			sr.Outcome = SourceFolded
			sr.Rows = p.table.Len()
			sr.Added = foldInto(canonical, index, p.table)
			res.Added += sr.Added
			consumed = append(consumed, p)
			log.Info("source folded", "rows", sr.Rows, "new", sr.Added)
		}
		a.metrics.ObserveSource(sr.Outcome)
		res.Sources = append(res.Sources, sr)
	}

	deduped, dropped := DedupByID(canonical)
	res.Dropped = dropped
	res.Rows = deduped.Len()
	if len(consumed) > 0 || dropped > 0 {
		if err := tabular.WriteFile(a.cfg.Canonical, deduped, tabular.WriteOptions{}); err != nil {
			return nil, core.ErrIO(core.CodeWriteFailed, "writing canonical input").WithCause(err).WithDetail("path", a.cfg.Canonical)
		}
	}
	a.metrics.ObserveAggregated(res.Added)

	for _, p := range consumed {
		if err := a.progress.Append(p.entry.Path, p.hash); err != nil {
			return res, core.ErrIO(core.CodeWriteFailed, "updating progress log").WithCause(err)
		}
		remove = append(remove, p.entry.Path)
	}
	for _, path := range remove {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("could not delete source", "path", path, "error", err)
		}
	}

	a.logger.Info("aggregation finished",
		"sources", len(res.Sources),
		"folded", res.Count(SourceFolded),
		"failed", res.Count(SourceFailed),
		"added", res.Added,
		"rows", res.Rows,
	)
	return res, nil
}

func (a *Aggregator) readCanonical() (*tabular.Table, error) {
	t, _, err := tabular.ReadFile(a.cfg.Canonical, tabular.Options{NormalizeHeaders: true})
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, os.ErrNotExist), errors.Is(err, tabular.ErrEmpty):
		return tabular.NewTable(core.ColID, core.ColUsername), nil
	default:
		return nil, core.ErrIO(core.CodeReadFailed, "reading canonical input").WithCause(err).WithDetail("path", a.cfg.Canonical)
	}
}

// excludeCanonical drops the canonical file even when it lives in Dir under
// a differently cased name or through a relative path.
func (a *Aggregator) excludeCanonical(entries []fsutil.Entry) []fsutil.Entry {
	canon, err := filepath.Abs(a.cfg.Canonical)
	if err != nil {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if abs, err := filepath.Abs(e.Path); err == nil && abs == canon {
			continue
		}
		out = append(out, e)
	}
	return out
}

// parseAll hashes and parses every entry, bounded by Workers. Per-file
// failures are returned in the result, not as an error.
func (a *Aggregator) parseAll(ctx context.Context, entries []fsutil.Entry) ([]parsedSource, error) {
	out := make([]parsedSource, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for i, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := parsedSource{entry: e}
			if e.Size == 0 {
				p.err = tabular.ErrEmpty
				out[i] = p
				return nil
			}
			p.hash, p.err = fsutil.HashFile(e.Path)
			if p.err == nil {
				p.table, _, p.err = tabular.ReadFile(e.Path, tabular.Options{NormalizeHeaders: true})
			}
			if p.err != nil && !errors.Is(p.err, tabular.ErrEmpty) {
				p.err = fmt.Errorf("%s: %w", filepath.Base(e.Path), p.err)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// foldInto appends rows of src whose identifier is not yet in index and
// indexes them immediately. Rows without an identifier are dropped.
func foldInto(dst *tabular.Table, index *DedupIndex, src *tabular.Table) int {
	added := 0
	for _, r := range src.Rows {
		if _, ok := core.ResolveRecord(r); !ok {
			continue
		}
		if index.ContainsRow(r) {
			continue
		}
		dst.Append(r.Clone())
		index.AddRow(r)
		added++
	}
	return added
}
