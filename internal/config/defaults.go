package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

const defaultConfigHeader = `# chatprobe configuration
#
# Values not specified here use the built-in defaults. Secrets are better
# supplied through the environment (CHATPROBE_TELEGRAM_BOT_TOKEN, or BOT_TOKEN
# in a .env file).

`

// RenderYAML renders cfg as a commented YAML document with secrets blanked.
func RenderYAML(cfg *Config) ([]byte, error) {
	clean := *cfg
	clean.Telegram.BotToken = ""
	clean.Sinks.Postgres.DSN = ""
	clean.Sinks.Azure.AccessKey = ""

	var buf bytes.Buffer
	buf.WriteString(defaultConfigHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&clean); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return buf.Bytes(), nil
}
