package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	retries       *prometheus.CounterVec
	throttleWait  prometheus.Histogram
	pauses        prometheus.Counter
	pauseSeconds  prometheus.Counter
	countSources  *prometheus.CounterVec
	checkpoints   prometheus.Counter
	flushedRows   prometheus.Counter
	sourceFiles   *prometheus.CounterVec
	aggregated    prometheus.Counter
	lastRun       prometheus.Gauge
}

// NewMetrics registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatprobe_fetches_total",
			Help: "Identifiers that reached a terminal state, by access status.",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatprobe_fetch_duration_seconds",
			Help:    "Wall time spent on one identifier, including pacing and retries.",
			Buckets: []float64{1, 3, 5, 10, 30, 60, 300, 900, 3600},
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatprobe_retries_total",
			Help: "Retried attempts, by fault reason.",
		}, []string{"reason"}),
		throttleWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatprobe_throttle_wait_seconds",
			Help:    "Provider-mandated waits that were honoured.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
		pauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatprobe_batch_pauses_total",
			Help: "Batch cooldowns taken.",
		}),
		pauseSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatprobe_batch_pause_seconds_total",
			Help: "Seconds spent in batch cooldowns.",
		}),
		countSources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatprobe_member_count_source_total",
			Help: "Member counts resolved, by source.",
		}, []string{"source"}),
		checkpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatprobe_checkpoints_total",
			Help: "Checkpoint flushes written to the output file.",
		}),
		flushedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatprobe_checkpoint_rows_total",
			Help: "Rows flushed through checkpoints.",
		}),
		sourceFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatprobe_source_files_total",
			Help: "Input source files seen by the aggregator, by outcome.",
		}, []string{"outcome"}),
		aggregated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatprobe_aggregated_rows_total",
			Help: "New rows folded into the canonical input.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatprobe_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
	m.registry.MustRegister(
		m.fetches, m.fetchDuration, m.retries, m.throttleWait,
		m.pauses, m.pauseSeconds, m.countSources, m.checkpoints,
		m.flushedRows, m.sourceFiles, m.aggregated, m.lastRun,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch records a terminal outcome.
func (m *Metrics) ObserveFetch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(status).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// ObserveRetry records a retry caused by reason.
func (m *Metrics) ObserveRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

// ObserveThrottle records an honoured provider wait.
func (m *Metrics) ObserveThrottle(d time.Duration) {
	if m == nil {
		return
	}
	m.throttleWait.Observe(d.Seconds())
}

// ObservePause records a batch cooldown.
func (m *Metrics) ObservePause(d time.Duration) {
	if m == nil {
		return
	}
	m.pauses.Inc()
	m.pauseSeconds.Add(d.Seconds())
}

// ObserveCountSource records where a member count came from.
func (m *Metrics) ObserveCountSource(source string) {
	if m == nil || source == "" {
		return
	}
	m.countSources.WithLabelValues(source).Inc()
}

// ObserveCheckpoint records a flush of n rows.
func (m *Metrics) ObserveCheckpoint(n int) {
	if m == nil {
		return
	}
	m.checkpoints.Inc()
	m.flushedRows.Add(float64(n))
}

// ObserveSource records the outcome of one aggregator source file.
func (m *Metrics) ObserveSource(outcome string) {
	if m == nil {
		return
	}
	m.sourceFiles.WithLabelValues(outcome).Inc()
}

// ObserveAggregated records n new canonical rows.
func (m *Metrics) ObserveAggregated(n int) {
	if m == nil {
		return
	}
	m.aggregated.Add(float64(n))
}

// MarkRunFinished stamps the last-run gauge.
func (m *Metrics) MarkRunFinished(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile exports the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
