package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/fsutil"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

// CheckpointConfig controls how buffered records reach the output file.
type CheckpointConfig struct {
	Path  string
	Every int
	// Backup keeps a compressed copy of the previous output next to it
	// before each overwrite. CompressionNone disables it.
	Backup tabular.Compression
	// InputColumns is the column order of the input table; output columns
	// follow it.
	InputColumns []string
}

// CheckpointWriter buffers terminal records and merges them into the output
// file every Every records and on Flush.
type CheckpointWriter struct {
	cfg     CheckpointConfig
	sinks   []core.ResultSink
	logger  *logging.Logger
	metrics *Metrics

	mu      sync.Mutex
	buffer  []*core.FetchRecord
	flushes int
	written int
}

// CheckpointOption configures a CheckpointWriter.
type CheckpointOption func(*CheckpointWriter)

// WithSinks mirrors every flushed batch to the given sinks.
func WithSinks(sinks ...core.ResultSink) CheckpointOption {
	return func(w *CheckpointWriter) {
		w.sinks = append(w.sinks, sinks...)
	}
}

// WithCheckpointLogger sets the logger.
func WithCheckpointLogger(l *logging.Logger) CheckpointOption {
	return func(w *CheckpointWriter) {
		w.logger = l
	}
}

// WithCheckpointMetrics records flushes in m.
func WithCheckpointMetrics(m *Metrics) CheckpointOption {
	return func(w *CheckpointWriter) {
		w.metrics = m
	}
}

// NewCheckpointWriter creates a writer. Every below 1 is treated as 1.
func NewCheckpointWriter(cfg CheckpointConfig, opts ...CheckpointOption) *CheckpointWriter {
	if cfg.Every < 1 {
		cfg.Every = 1
	}
	if cfg.Backup == "" {
		cfg.Backup = tabular.CompressionNone
	}
	w := &CheckpointWriter{cfg: cfg, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Add buffers rec and flushes when the buffer reaches the checkpoint size.
func (w *CheckpointWriter) Add(ctx context.Context, rec *core.FetchRecord) error {
	w.mu.Lock()
	w.buffer = append(w.buffer, rec)
	full := len(w.buffer) >= w.cfg.Every
	w.mu.Unlock()

	if full {
		return w.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered records.
func (w *CheckpointWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Stats returns the number of flushes and rows written so far.
func (w *CheckpointWriter) Stats() (flushes, rows int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushes, w.written
}

// Flush merges the buffer into the output file. The buffer is kept when the
// write fails so a later flush can retry it. Sink failures are logged only.
func (w *CheckpointWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buffer) == 0 {
		return nil
	}

	existing, err := ReadOutput(w.cfg.Path)
	if err != nil {
		return err
	}
	merged := Merge(existing, RecordsTable(w.cfg.InputColumns, w.buffer))

	if w.cfg.Backup != tabular.CompressionNone && existing.Len() > 0 {
		if err := backupFile(w.cfg.Path, w.cfg.Backup); err != nil {
			w.logger.Warn("checkpoint backup failed", "path", w.cfg.Path, "error", err)
		}
	}
	if err := tabular.WriteFile(w.cfg.Path, merged, tabular.WriteOptions{}); err != nil {
		return core.ErrIO(core.CodeWriteFailed, "writing output").WithCause(err).WithDetail("path", w.cfg.Path)
	}

	batch := w.buffer
	w.buffer = nil
	w.flushes++
	w.written += len(batch)
	w.metrics.ObserveCheckpoint(len(batch))
	w.logger.Info("checkpoint written", "path", w.cfg.Path, "new_rows", len(batch), "total_rows", merged.Len())

	for _, s := range w.sinks {
		if err := s.Write(ctx, batch); err != nil {
			w.logger.Warn("sink write failed", "sink", s.Name(), "rows", len(batch), "error", err)
		}
	}
	return nil
}

// ReadOutput reads an output file with its headers as-is. A missing or
// empty file yields an empty table.
func ReadOutput(path string) (*tabular.Table, error) {
	t, _, err := tabular.ReadFile(path, tabular.Options{})
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, os.ErrNotExist), errors.Is(err, tabular.ErrEmpty):
		return tabular.NewTable(), nil
	default:
		return nil, core.ErrIO(core.CodeReadFailed, "reading output").WithCause(err).WithDetail("path", path)
	}
}

// RecordsTable renders records as a table: input columns first, then the
// output columns, then any other input keys.
func RecordsTable(inputColumns []string, recs []*core.FetchRecord) *tabular.Table {
	t := tabular.NewTable(inputColumns...)
	t.EnsureColumns(core.OutputColumns...)
	for _, r := range recs {
		t.Append(r.Row())
	}
	return t
}

// backupFile copies path to path+".bak"+ext through the compressor.
func backupFile(path string, c tabular.Compression) error {
	src, err := fsutil.OpenScoped(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst := path + ".bak" + c.Ext()
	pf, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	defer pf.Cleanup()

	zw, err := tabular.NewWriter(pf, c)
	if err != nil {
		return err
	}
	if _, err := io.Copy(zw, src); err != nil {
		return fmt.Errorf("compressing backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compressing backup: %w", err)
	}
	return pf.CloseAtomicallyReplace()
}
