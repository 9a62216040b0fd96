package config

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// legacyEnvKeys maps the environment variables read by older deployments onto
// configuration keys. They rank just above defaults.
var legacyEnvKeys = map[string]string{
	"BOT_TOKEN":           "telegram.bot_token",
	"MAX_RETRIES":         "retry.max_retries",
	"UNIFIED_OUTPUT_FILE": "output.path",
	"OUTPUT_SUFFIX":       "output.suffix",
}

// applyLegacyEnv installs legacy environment values as defaults.
// INPUT_FILE is split into input.dir and input.canonical.
func applyLegacyEnv(v *viper.Viper, lookup func(string) (string, bool)) {
	for env, key := range legacyEnvKeys {
		val, ok := lookup(env)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if n, err := strconv.Atoi(val); err == nil && key == "retry.max_retries" {
			v.SetDefault(key, n)
			continue
		}
		v.SetDefault(key, val)
	}

	if val, ok := lookup("INPUT_FILE"); ok && strings.TrimSpace(val) != "" {
		val = strings.TrimSpace(val)
		dir, file := filepath.Split(val)
		if dir != "" {
			v.SetDefault("input.dir", filepath.Clean(dir))
		}
		v.SetDefault("input.canonical", file)
	}
}
