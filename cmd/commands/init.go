package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/claudestation/claudestation/internal/config"
)

// NewInitCommand returns the onboarding subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize the ClaudeStation home directory (~/.claudestation)",
		Action: runInit,
	}
}

func runInit(_ context.Context, _ *cli.Command) error {
	root := config.DataDir()
	created := false

	if _, err := os.Stat(root); err != nil {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", root, err)
		}
		fmt.Printf("  Created %s\n", root)
		created = true
	}

	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	dotenvPath := config.DotenvPath()
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	if !created {
		fmt.Printf("Already initialized — %s is complete. Nothing to do.\n", root)
		return nil
	}

	fmt.Printf(`
  ClaudeStation home set up at %s

  Next steps:
    1. Drop your API key in %s/.env
    2. Tweak %s/config.jsonc if you feel like it
    3. Run: claudestation migrate
    4. Run: claudestation project create "My Project"
`, root, root, root)
	return nil
}

const defaultConfig = `{
	// ClaudeStation configuration

	"provider": {
		"chat_model": "claude-sonnet-4-6",
		"haiku_model": "claude-haiku-4-6",
		"context_window": 200000,
		"auth": {
			"api_key": "${{ .Env.ANTHROPIC_API_KEY }}"
		}
	},

	"events": {
		"buffer_size": 1024,
		"log_level": "info"
	},

	"defaults": {
		"cache_ttl": "5m",
		"compress_after_turns": 10,
		"compress_batch_size": 5
	}
}
`

const defaultDotenv = `# ClaudeStation environment variables
# This file is loaded automatically. Existing env vars are never overridden.

# ANTHROPIC_API_KEY=sk-ant-...
`
