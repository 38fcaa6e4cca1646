package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/claudestation/claudestation/internal/events"
	"github.com/claudestation/claudestation/internal/pricing"
)

// NewChatCommand returns the interactive chat subcommand: a REPL over a
// single conversation, printing assistant text as it streams and a cost
// summary after each turn.
func NewChatCommand() *cli.Command {
	return &cli.Command{
		Name:      "chat",
		Usage:     "Start an interactive chat session",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "conversation",
				Usage: "Resume an existing conversation instead of creating a new one",
			},
		},
		Action: runChat,
	}
}

func runChat(ctx context.Context, cmd *cli.Command) error {
	projectID := cmd.Args().First()
	if projectID == "" {
		return fmt.Errorf("usage: claudestation chat <project-id>")
	}

	a, err := newApp(cmd.Root().String("config"))
	if err != nil {
		return err
	}
	defer a.close()

	project, err := a.conv.GetProject(projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}

	convID := cmd.String("conversation")
	if convID == "" {
		conv, err := a.conv.CreateConversation(project.ID, "chat")
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		convID = conv.ID
		fmt.Fprintf(os.Stderr, "conversation: %s\n", convID)
	}

	ch, unsubscribe := a.bus.SubscribeChan(64, events.EventResponseDelta)
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	reloadSig := make(chan os.Signal, 1)
	signal.Notify(reloadSig, syscall.SIGHUP)
	defer signal.Stop(reloadSig)
	go func() {
		for range reloadSig {
			if err := a.reloader.Reload(); err != nil {
				fmt.Fprintf(os.Stderr, "\nconfig reload failed: %v\n", err)
			} else {
				fmt.Fprintln(os.Stderr, "\nconfig reloaded")
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Type a message and press Enter. Ctrl-C cancels an in-flight turn; Ctrl-D exits.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		turnDone := make(chan struct{})
		go drainDeltas(ch, convID, turnDone)

		msg, err := a.conv.Send(ctx, convID, line)
		close(turnDone)

		if err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
			continue
		}

		fmt.Println()
		if msg.CostUSD != nil {
			formatted, color := pricing.FormatCost(*msg.CostUSD)
			fmt.Fprintf(os.Stderr, "[%s %s, %d in / %d out, %d cache-read]\n",
				formatted, colorLabel(color), msg.Usage.InputTokens, msg.Usage.OutputTokens, msg.Usage.CacheReadTokens)
		}
	}
	return scanner.Err()
}

// drainDeltas prints streamed text deltas for one conversation as they
// arrive, until turnDone is closed. It runs on its own goroutine because the
// bus dispatches each subscriber event on its own goroutine too, so printing
// has to happen concurrently with Send blocking in the caller.
func drainDeltas(ch <-chan events.Event, convID string, turnDone <-chan struct{}) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.SessionID != convID {
				continue
			}
			payload, ok := events.ExtractPayload[events.ResponseDeltaPayload](ev)
			if !ok || payload.Thinking {
				continue
			}
			fmt.Print(payload.Text)
		case <-turnDone:
			return
		}
	}
}

func colorLabel(c pricing.Color) string {
	switch c {
	case pricing.ColorRed:
		return "expensive"
	case pricing.ColorYellow:
		return "moderate"
	default:
		return "cheap"
	}
}
