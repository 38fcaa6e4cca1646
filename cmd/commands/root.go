package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/claudestation/claudestation/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand(version string) *cli.Command {
	return &cli.Command{
		Name:    "claudestation",
		Usage:   "A token-economical desktop client for the Anthropic Messages API",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				configureLogging(cmd.Bool("debug"), "info")
				return ctx, nil
			}
			configureLogging(cmd.Bool("debug"), cfg.Events.LogLevel)
			return ctx, nil
		},
		Commands: []*cli.Command{
			NewInitCommand(),
			NewMigrateCommand(),
			NewProjectCommand(),
			NewDocCommand(),
			NewChatCommand(),
			NewResetSummaryCommand(),
		},
	}
}
