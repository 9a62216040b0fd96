package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/adapters/sink"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/adapters/telegram"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/config"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/logging"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/service"
	"github.com/hugo-lorenzo-mato/chatprobe/internal/tabular"
)

// loadConfig loads the unified configuration through the global viper, so
// flag bindings take precedence, and validates it.
func loadConfig(requireCredentials bool) (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	v := config.NewValidator()
	if requireCredentials {
		v.RequireCredentials()
	}
	if err := v.Validate(cfg); err != nil {
		return nil, config.AsDomainError(err)
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg. The returned closer releases
// the log file, if one was opened.
func newLogger(cfg *config.Config) (*logging.Logger, func(), error) {
	lc := logging.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   os.Stderr,
		Suppress: cfg.Log.Suppress,
	}
	closer := func() {}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		lc.File = f
		closer = func() { _ = f.Close() }
	}

	return logging.New(lc), closer, nil
}

// pipelineDeps holds the pipeline and the state it does not own.
type pipelineDeps struct {
	Pipeline *service.Pipeline
	Ledger   core.RunLedger
}

// Close releases the ledger. Sinks are closed by the pipeline.
func (d *pipelineDeps) Close() error {
	return state.CloseLedger(d.Ledger)
}

// buildPipeline wires the provider, state, sinks and metrics for one output.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *logging.Logger, output string) (*pipelineDeps, error) {
	backup, err := tabular.ParseCompression(cfg.Output.Backup)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "invalid output.backup").WithCause(err)
	}

	var metrics *service.Metrics
	if cfg.Metrics.Enabled {
		metrics = service.NewMetrics()
	}

	provider := telegram.New(cfg.Telegram.BotToken,
		telegram.WithBaseURL(cfg.Telegram.BaseURL),
		telegram.WithTimeout(config.Duration(cfg.Telegram.Timeout)),
		telegram.WithLogger(logger.WithComponent("telegram")),
	)
	counter := telegram.NewMemberCounter(cfg.Telegram.BotToken,
		telegram.WithBaseURL(cfg.Telegram.BaseURL),
		telegram.WithTimeout(config.Duration(cfg.Telegram.LookupTimeout)),
		telegram.WithLookupRate(cfg.Telegram.LookupRPS),
		telegram.WithLogger(logger.WithComponent("member-counter")),
	)

	lock, ledger, err := state.Open(output, state.Options{
		Dir:        cfg.State.Dir,
		LedgerPath: cfg.State.Ledger,
		LockTTL:    config.Duration(cfg.State.LockTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("opening run state: %w", err)
	}
	deps := &pipelineDeps{Ledger: ledger}

	sinks, err := buildSinks(ctx, cfg, logger, output)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	aggregator := service.NewAggregator(service.AggregatorConfig{
		Dir:         cfg.Input.Dir,
		Canonical:   cfg.Input.CanonicalPath(),
		ProgressLog: cfg.Input.ProgressLog,
		Extensions:  cfg.Input.Extensions,
		Workers:     cfg.Input.Workers,
	}, service.WithAggregatorLogger(logger.WithComponent("aggregator")), service.WithAggregatorMetrics(metrics))

	deps.Pipeline = service.NewPipeline(provider,
		service.WithRunLock(lock),
		service.WithInputLock(inputLock(cfg, lock)),
		service.WithLedger(ledger),
		service.WithAggregator(aggregator),
		service.WithResultSinks(sinks...),
		service.WithCounter(counter),
		service.WithPacing(pacerConfig(cfg.Pacing)),
		service.WithRetryPolicy(retryPolicy(cfg.Retry)),
		service.WithCheckpointEvery(cfg.Output.CheckpointEvery),
		service.WithBackup(backup),
		service.WithPipelineLogger(logger),
		service.WithPipelineMetrics(metrics, cfg.Metrics.Textfile),
	)
	return deps, nil
}

// inputLock is the lock aggregate takes on the canonical input. It is nil
// when the output is the canonical input, which the run lock already covers.
func inputLock(cfg *config.Config, runLock *state.FileLock) core.RunLock {
	canonical := cfg.Input.CanonicalPath()
	path := state.LockPath(cfg.State.Dir, canonical)
	if path == runLock.Path() {
		return nil
	}
	return state.NewFileLock(path, canonical, state.WithLockTTL(config.Duration(cfg.State.LockTTL)))
}

func buildSinks(ctx context.Context, cfg *config.Config, logger *logging.Logger, output string) ([]core.ResultSink, error) {
	var sinks []core.ResultSink

	if pg := cfg.Sinks.Postgres; pg.Enabled {
		s, err := sink.NewPostgres(ctx, sink.PostgresConfig{
			DSN:       pg.DSN,
			Schema:    pg.Schema,
			BatchSize: pg.BatchSize,
			MaxConns:  pg.MaxConns,
		}, sink.WithPostgresLogger(logger.WithComponent("postgres")))
		if err != nil {
			return nil, fmt.Errorf("creating postgres sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if az := cfg.Sinks.Azure; az.Enabled {
		comp, err := tabular.ParseCompression(az.Compression)
		if err != nil {
			closeAll(ctx, sinks)
			return nil, core.ErrValidation(core.CodeInvalidConfig, "invalid sinks.azure.compression").WithCause(err)
		}
		s, err := sink.NewAzureArchive(sink.AzureConfig{
			Account:     az.Account,
			AccessKey:   az.AccessKey,
			Container:   az.Container,
			Prefix:      az.Prefix,
			Compression: comp,
		}, output, sink.WithAzureLogger(logger.WithComponent("azure")))
		if err != nil {
			closeAll(ctx, sinks)
			return nil, fmt.Errorf("creating azure sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	return sinks, nil
}

func closeAll(ctx context.Context, sinks []core.ResultSink) {
	for _, s := range sinks {
		_ = s.Close(ctx)
	}
}

func pacerConfig(c config.PacingConfig) service.PacerConfig {
	return service.PacerConfig{
		JitterMin:     config.Duration(c.JitterMin),
		JitterMax:     config.Duration(c.JitterMax),
		PauseEveryMin: c.PauseEveryMin,
		PauseEveryMax: c.PauseEveryMax,
		PauseMin:      config.Duration(c.PauseMin),
		PauseMax:      config.Duration(c.PauseMax),
	}
}

func retryPolicy(c config.RetryConfig) *service.RetryPolicy {
	return service.NewRetryPolicy(
		service.WithMaxRetries(c.MaxRetries),
		service.WithCooldown(config.Duration(c.Cooldown)),
		service.WithConnectionCooldown(config.Duration(c.ConnectionCooldown)),
		service.WithThrottleCeiling(config.Duration(c.ThrottleCeiling)),
		service.WithThrottleJitter(config.Duration(c.ThrottleJitterMin), config.Duration(c.ThrottleJitterMax)),
	)
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
