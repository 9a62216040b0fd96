package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
	envFiles   []string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "CHATPROBE",
		envFiles:  []string{".env"},
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "CHATPROBE",
		envFiles:  []string{".env"},
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvFiles sets the dotenv files read before the environment is consulted.
// Missing files are ignored. Existing environment variables are never
// overridden.
func (l *Loader) WithEnvFiles(paths ...string) *Loader {
	l.envFiles = paths
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CHATPROBE_*)
// 3. Project config (.chatprobe.yaml in current directory)
// 4. User config (~/.config/chatprobe/config.yaml)
// 5. Legacy environment variables (BOT_TOKEN, MAX_RETRIES, ...)
// 6. Defaults
func (l *Loader) Load() (*Config, error) {
	if err := l.loadEnvFiles(); err != nil {
		return nil, err
	}

	// Set defaults first
	l.setDefaults()
	applyLegacyEnv(l.v, os.LookupEnv)

	// Configure environment variable reading
	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	// Config file setup
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".chatprobe")
		l.v.SetConfigType("yaml")

		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "chatprobe"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func (l *Loader) loadEnvFiles() error {
	for _, path := range l.envFiles {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	setDefaults(l.v)
}

func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
	v.SetDefault("log.suppress", []string{})

	// Provider defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout", "30s")
	v.SetDefault("telegram.lookup_timeout", "10s")
	v.SetDefault("telegram.lookup_rps", 1.0)

	// Input defaults
	v.SetDefault("input.dir", "input")
	v.SetDefault("input.canonical", "groups.csv")
	v.SetDefault("input.progress_log", "logs/processed_files.log")
	v.SetDefault("input.extensions", []string{".csv", ".tsv", ".txt"})
	v.SetDefault("input.workers", 4)

	// Output defaults
	v.SetDefault("output.path", "groups_enhanced.csv")
	v.SetDefault("output.suffix", "_enhanced")
	v.SetDefault("output.checkpoint_every", 10)
	v.SetDefault("output.backup", "none")

	// Pacing defaults
	v.SetDefault("pacing.jitter_min", "3s")
	v.SetDefault("pacing.jitter_max", "7s")
	v.SetDefault("pacing.pause_every_min", 50)
	v.SetDefault("pacing.pause_every_max", 100)
	v.SetDefault("pacing.pause_min", "5m")
	v.SetDefault("pacing.pause_max", "10m")

	// Retry defaults
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.cooldown", "5s")
	v.SetDefault("retry.connection_cooldown", "10s")
	v.SetDefault("retry.throttle_ceiling", "2h")
	v.SetDefault("retry.throttle_jitter_min", "1s")
	v.SetDefault("retry.throttle_jitter_max", "5s")

	// State defaults (unified under .chatprobe/)
	v.SetDefault("state.dir", ".chatprobe")
	v.SetDefault("state.ledger", ".chatprobe/ledger.db")
	v.SetDefault("state.lock_ttl", "24h")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile", ".chatprobe/metrics.prom")

	// Sink defaults
	v.SetDefault("sinks.postgres.enabled", false)
	v.SetDefault("sinks.postgres.dsn", "")
	v.SetDefault("sinks.postgres.schema", "public")
	v.SetDefault("sinks.postgres.batch_size", 200)
	v.SetDefault("sinks.postgres.max_conns", 2)
	v.SetDefault("sinks.azure.enabled", false)
	v.SetDefault("sinks.azure.account", "")
	v.SetDefault("sinks.azure.access_key", "")
	v.SetDefault("sinks.azure.container", "chatprobe")
	v.SetDefault("sinks.azure.prefix", "")
	v.SetDefault("sinks.azure.compression", "zstd")
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}
