package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewResetSummaryCommand returns the reset-summary subcommand.
func NewResetSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset-summary",
		Usage:     "Clear a conversation's rolling summary",
		ArgsUsage: "<conversation-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			convID := cmd.Args().First()
			if convID == "" {
				return fmt.Errorf("usage: claudestation reset-summary <conversation-id>")
			}

			a, err := newApp(cmd.Root().String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.conv.ResetSummary(convID); err != nil {
				return err
			}
			fmt.Println("Summary cleared. Full history renders again until the next compression cycle.")
			return nil
		},
	}
}
