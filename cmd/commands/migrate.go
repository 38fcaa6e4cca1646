package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/claudestation/claudestation/internal/config"
	"github.com/claudestation/claudestation/internal/store"
)

// NewMigrateCommand returns the migrate subcommand. store.Open already runs
// pending migrations on every open, so this mostly exists to give users an
// explicit, visible step before their first chat rather than have the
// migration run silently on their first "real" command.
func NewMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or upgrade the local database",
		Action: func(_ context.Context, _ *cli.Command) error {
			st, err := store.Open(config.DBPath())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()
			fmt.Printf("Database ready at %s\n", config.DBPath())
			return nil
		},
	}
}
