package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
)

// NewDocCommand returns the doc subcommand group. Documents are attached as
// already-extracted plain text (§2 Non-goals) — this reads a file from disk
// verbatim, it does not parse PDF/DOCX/XLSX.
func NewDocCommand() *cli.Command {
	return &cli.Command{
		Name:  "doc",
		Usage: "Manage project documents",
		Commands: []*cli.Command{
			newDocAddCommand(),
			newDocListCommand(),
			newDocRemoveCommand(),
		},
	}
}

func newDocAddCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Attach a text file to a project",
		ArgsUsage: "<project-id> <file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 2 {
				return fmt.Errorf("usage: claudestation doc add <project-id> <file>")
			}
			projectID := cmd.Args().Get(0)
			path := cmd.Args().Get(1)

			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			a, err := newApp(cmd.Root().String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			d, err := a.conv.AddDocument(projectID, filepath.Base(path), string(content), filepath.Ext(path))
			if err != nil {
				return err
			}
			fmt.Printf("Attached %s (%d tokens)\n", d.Filename, d.TokenCount)
			return nil
		},
	}
}

func newDocListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List a project's documents",
		ArgsUsage: "<project-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			projectID := cmd.Args().First()
			if projectID == "" {
				return fmt.Errorf("usage: claudestation doc list <project-id>")
			}

			a, err := newApp(cmd.Root().String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			docs, err := a.conv.ListDocuments(projectID)
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Printf("%s  %-30s  %d tokens\n", d.ID, d.Filename, d.TokenCount)
			}
			return nil
		},
	}
}

func newDocRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Detach a document from its project",
		ArgsUsage: "<doc-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			docID := cmd.Args().First()
			if docID == "" {
				return fmt.Errorf("usage: claudestation doc remove <doc-id>")
			}

			a, err := newApp(cmd.Root().String("config"))
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.conv.DeleteDocument(docID); err != nil {
				return err
			}
			fmt.Println("Removed. The next turn in any of this project's conversations will pay a fresh cache-creation cost.")
			return nil
		},
	}
}
