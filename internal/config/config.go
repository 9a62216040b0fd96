package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Input    InputConfig    `mapstructure:"input" yaml:"input"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
	Pacing   PacingConfig   `mapstructure:"pacing" yaml:"pacing"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	State    StateConfig    `mapstructure:"state" yaml:"state"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Sinks    SinksConfig    `mapstructure:"sinks" yaml:"sinks"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
	// Suppress drops log records whose message or attributes contain any of
	// these substrings.
	Suppress []string `mapstructure:"suppress" yaml:"suppress"`
}

// TelegramConfig configures the Bot API provider.
type TelegramConfig struct {
	BotToken      string  `mapstructure:"bot_token" yaml:"bot_token"`
	BaseURL       string  `mapstructure:"base_url" yaml:"base_url"`
	Timeout       string  `mapstructure:"timeout" yaml:"timeout"`
	LookupTimeout string  `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`
	LookupRPS     float64 `mapstructure:"lookup_rps" yaml:"lookup_rps"`
}

// InputConfig configures input discovery and aggregation.
type InputConfig struct {
	Dir         string   `mapstructure:"dir" yaml:"dir"`
	Canonical   string   `mapstructure:"canonical" yaml:"canonical"`
	ProgressLog string   `mapstructure:"progress_log" yaml:"progress_log"`
	Extensions  []string `mapstructure:"extensions" yaml:"extensions"`
	Workers     int      `mapstructure:"workers" yaml:"workers"`
}

// CanonicalPath is the canonical input file inside Dir.
func (c InputConfig) CanonicalPath() string {
	return joinPath(c.Dir, c.Canonical)
}

// OutputConfig configures result persistence.
type OutputConfig struct {
	Path            string `mapstructure:"path" yaml:"path"`
	Suffix          string `mapstructure:"suffix" yaml:"suffix"`
	CheckpointEvery int    `mapstructure:"checkpoint_every" yaml:"checkpoint_every"`
	Backup          string `mapstructure:"backup" yaml:"backup"`
}

// PacingConfig configures per-call jitter and batch cooldowns.
type PacingConfig struct {
	JitterMin     string `mapstructure:"jitter_min" yaml:"jitter_min"`
	JitterMax     string `mapstructure:"jitter_max" yaml:"jitter_max"`
	PauseEveryMin int    `mapstructure:"pause_every_min" yaml:"pause_every_min"`
	PauseEveryMax int    `mapstructure:"pause_every_max" yaml:"pause_every_max"`
	PauseMin      string `mapstructure:"pause_min" yaml:"pause_min"`
	PauseMax      string `mapstructure:"pause_max" yaml:"pause_max"`
}

// RetryConfig configures the per-identifier retry budget.
type RetryConfig struct {
	MaxRetries         int    `mapstructure:"max_retries" yaml:"max_retries"`
	Cooldown           string `mapstructure:"cooldown" yaml:"cooldown"`
	ConnectionCooldown string `mapstructure:"connection_cooldown" yaml:"connection_cooldown"`
	ThrottleCeiling    string `mapstructure:"throttle_ceiling" yaml:"throttle_ceiling"`
	ThrottleJitterMin  string `mapstructure:"throttle_jitter_min" yaml:"throttle_jitter_min"`
	ThrottleJitterMax  string `mapstructure:"throttle_jitter_max" yaml:"throttle_jitter_max"`
}

// StateConfig configures the run ledger and run lock.
type StateConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Ledger  string `mapstructure:"ledger" yaml:"ledger"`
	LockTTL string `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// MetricsConfig configures the Prometheus textfile export.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// SinksConfig configures optional result mirrors.
type SinksConfig struct {
	Postgres PostgresSinkConfig `mapstructure:"postgres" yaml:"postgres"`
	Azure    AzureSinkConfig    `mapstructure:"azure" yaml:"azure"`
}

// PostgresSinkConfig configures the Postgres upsert mirror.
type PostgresSinkConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN       string `mapstructure:"dsn" yaml:"dsn"`
	Schema    string `mapstructure:"schema" yaml:"schema"`
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"`
	MaxConns  int    `mapstructure:"max_conns" yaml:"max_conns"`
}

// AzureSinkConfig configures the end-of-run archive upload.
type AzureSinkConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	Account     string `mapstructure:"account" yaml:"account"`
	AccessKey   string `mapstructure:"access_key" yaml:"access_key"`
	Container   string `mapstructure:"container" yaml:"container"`
	Prefix      string `mapstructure:"prefix" yaml:"prefix"`
	Compression string `mapstructure:"compression" yaml:"compression"`
}

// Duration parses a validated duration string. Invalid values yield zero;
// the Validator rejects them before they get here.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func joinPath(dir, file string) string {
	if dir == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}
