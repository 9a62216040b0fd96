package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/chatprobe/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
	// requireCredentials adds checks that only matter when a run will talk
	// to the provider.
	requireCredentials bool
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// RequireCredentials makes the validator reject a missing bot token.
func (v *Validator) RequireCredentials() *Validator {
	v.requireCredentials = true
	return v
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateTelegram(&cfg.Telegram)
	v.validateInput(&cfg.Input)
	v.validateOutput(&cfg.Output)
	v.validatePacing(&cfg.Pacing)
	v.validateRetry(&cfg.Retry)
	v.validateState(&cfg.State)
	v.validateSinks(&cfg.Sinks)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}

	for _, s := range cfg.Suppress {
		if strings.TrimSpace(s) == "" {
			v.addError("log.suppress", s, "empty pattern would drop every record")
		}
	}
}

func (v *Validator) validateTelegram(cfg *TelegramConfig) {
	if v.requireCredentials && strings.TrimSpace(cfg.BotToken) == "" {
		v.addError("telegram.bot_token", "", "required (set CHATPROBE_TELEGRAM_BOT_TOKEN or BOT_TOKEN)")
	}
	if cfg.BaseURL == "" {
		v.addError("telegram.base_url", cfg.BaseURL, "required")
	}
	v.validateDuration("telegram.timeout", cfg.Timeout, true)
	v.validateDuration("telegram.lookup_timeout", cfg.LookupTimeout, true)
	if cfg.LookupRPS <= 0 {
		v.addError("telegram.lookup_rps", cfg.LookupRPS, "must be positive")
	}
}

func (v *Validator) validateInput(cfg *InputConfig) {
	if cfg.Dir == "" {
		v.addError("input.dir", cfg.Dir, "directory required")
	} else if !isValidPath(cfg.Dir) {
		v.addError("input.dir", cfg.Dir, "invalid directory path")
	}
	if cfg.Canonical == "" {
		v.addError("input.canonical", cfg.Canonical, "file name required")
	}
	if cfg.ProgressLog == "" {
		v.addError("input.progress_log", cfg.ProgressLog, "path required")
	}
	for _, ext := range cfg.Extensions {
		if !strings.HasPrefix(ext, ".") {
			v.addError("input.extensions", ext, "must start with a dot")
		}
	}
	if cfg.Workers < 1 || cfg.Workers > 64 {
		v.addError("input.workers", cfg.Workers, "must be between 1 and 64")
	}
}

func (v *Validator) validateOutput(cfg *OutputConfig) {
	if cfg.Path == "" {
		v.addError("output.path", cfg.Path, "path required")
	} else if !isValidPath(cfg.Path) {
		v.addError("output.path", cfg.Path, "invalid file path")
	}
	if cfg.CheckpointEvery < 1 {
		v.addError("output.checkpoint_every", cfg.CheckpointEvery, "must be positive")
	}
	validBackups := map[string]bool{
		"none": true, "gzip": true, "zstd": true, "lz4": true,
	}
	if !validBackups[cfg.Backup] {
		v.addError("output.backup", cfg.Backup, "must be one of: none, gzip, zstd, lz4")
	}
}

func (v *Validator) validatePacing(cfg *PacingConfig) {
	minJ := v.validateDuration("pacing.jitter_min", cfg.JitterMin, false)
	maxJ := v.validateDuration("pacing.jitter_max", cfg.JitterMax, false)
	if maxJ < minJ {
		v.addError("pacing.jitter_max", cfg.JitterMax, "must be >= pacing.jitter_min")
	}

	if cfg.PauseEveryMin < 0 {
		v.addError("pacing.pause_every_min", cfg.PauseEveryMin, "must not be negative")
	}
	if cfg.PauseEveryMax < cfg.PauseEveryMin {
		v.addError("pacing.pause_every_max", cfg.PauseEveryMax, "must be >= pacing.pause_every_min")
	}

	minP := v.validateDuration("pacing.pause_min", cfg.PauseMin, false)
	maxP := v.validateDuration("pacing.pause_max", cfg.PauseMax, false)
	if maxP < minP {
		v.addError("pacing.pause_max", cfg.PauseMax, "must be >= pacing.pause_min")
	}
}

func (v *Validator) validateRetry(cfg *RetryConfig) {
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		v.addError("retry.max_retries", cfg.MaxRetries, "must be between 0 and 10")
	}
	v.validateDuration("retry.cooldown", cfg.Cooldown, false)
	v.validateDuration("retry.connection_cooldown", cfg.ConnectionCooldown, false)
	v.validateDuration("retry.throttle_ceiling", cfg.ThrottleCeiling, true)
	minJ := v.validateDuration("retry.throttle_jitter_min", cfg.ThrottleJitterMin, false)
	maxJ := v.validateDuration("retry.throttle_jitter_max", cfg.ThrottleJitterMax, false)
	if maxJ < minJ {
		v.addError("retry.throttle_jitter_max", cfg.ThrottleJitterMax, "must be >= retry.throttle_jitter_min")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	if cfg.Dir == "" {
		v.addError("state.dir", cfg.Dir, "directory required")
	}
	if cfg.Ledger != "" && !isValidPath(cfg.Ledger) {
		v.addError("state.ledger", cfg.Ledger, "invalid file path")
	}
	v.validateDuration("state.lock_ttl", cfg.LockTTL, true)
}

func (v *Validator) validateSinks(cfg *SinksConfig) {
	if cfg.Postgres.Enabled {
		if cfg.Postgres.DSN == "" {
			v.addError("sinks.postgres.dsn", "", "required when enabled")
		}
		if cfg.Postgres.BatchSize < 1 {
			v.addError("sinks.postgres.batch_size", cfg.Postgres.BatchSize, "must be positive")
		}
	}
	if cfg.Azure.Enabled {
		if cfg.Azure.Account == "" {
			v.addError("sinks.azure.account", "", "required when enabled")
		}
		if cfg.Azure.AccessKey == "" {
			v.addError("sinks.azure.access_key", "", "required when enabled")
		}
		if cfg.Azure.Container == "" {
			v.addError("sinks.azure.container", "", "required when enabled")
		}
		validCompression := map[string]bool{"none": true, "gzip": true, "zstd": true, "lz4": true}
		if !validCompression[cfg.Azure.Compression] {
			v.addError("sinks.azure.compression", cfg.Azure.Compression, "must be one of: none, gzip, zstd, lz4")
		}
	}
}

// validateDuration records an error for unparsable or negative values and
// returns the parsed duration.
func (v *Validator) validateDuration(field, value string, positive bool) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return 0
	}
	if d < 0 || (positive && d == 0) {
		v.addError(field, value, "must be positive")
	}
	return d
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}

// AsDomainError wraps validation failures for the CLI's error rendering.
func AsDomainError(err error) error {
	if err == nil {
		return nil
	}
	return core.ErrValidation(core.CodeInvalidConfig, "invalid configuration").WithCause(err)
}
