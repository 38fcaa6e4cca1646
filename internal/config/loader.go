package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	// Strip JSONC comments and unmarshal
	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = "info"
	}
	if cfg.Provider.ChatModel == "" {
		cfg.Provider.ChatModel = "claude-sonnet-4-6"
	}
	if cfg.Provider.HaikuModel == "" {
		cfg.Provider.HaikuModel = "claude-haiku-4-6"
	}
	if cfg.Provider.ContextWindow == 0 {
		cfg.Provider.ContextWindow = 200000
	}
	if cfg.Defaults.CacheTTL == "" {
		cfg.Defaults.CacheTTL = "5m"
	}
	if cfg.Defaults.CompressAfterTurns == 0 {
		cfg.Defaults.CompressAfterTurns = 10
	}
	if cfg.Defaults.CompressBatchSize == 0 {
		cfg.Defaults.CompressBatchSize = 5
	}
	// Auth resolution is deferred to apiclient.ResolveAuth() at client init time.
}
