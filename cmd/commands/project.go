package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewProjectCommand returns the project subcommand group.
func NewProjectCommand() *cli.Command {
	return &cli.Command{
		Name:  "project",
		Usage: "Manage projects",
		Commands: []*cli.Command{
			newProjectCreateCommand(),
			newProjectListCommand(),
		},
	}
}

func newProjectCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new project",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "system-prompt",
				Usage: "Project-level system prompt (cached as Layer 1)",
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Default model for conversations in this project",
				Value: "claude-sonnet-4-6",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return fmt.Errorf("usage: claudestation project create <name>")
			}

			a, err := newApp(cmd.Root().String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			p, err := a.conv.CreateProject(name, cmd.String("system-prompt"), cmd.String("model"))
			if err != nil {
				return err
			}
			fmt.Printf("Created project %s (%s)\n", p.Name, p.ID)
			return nil
		},
	}
}

func newProjectListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List projects",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd.Root().String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			projects, err := a.conv.ListProjects()
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("No projects yet. Run: claudestation project create <name>")
				return nil
			}
			for _, p := range projects {
				fmt.Printf("%s  %-30s  model=%s\n", p.ID, p.Name, p.DefaultModel)
			}
			return nil
		},
	}
}
