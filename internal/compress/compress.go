// Package compress implements the Compressor: it decides when a
// conversation has accumulated enough uncompressed history to warrant
// folding it into the rolling summary, selects the batch of complete turns
// to fold, and formats the summarisation prompt (§4.4).
package compress

import (
	"context"
	"fmt"
	"strings"

	"github.com/claudestation/claudestation/internal/store"
	"github.com/claudestation/claudestation/internal/tokenize"
)

// haikuTierModel is fixed regardless of the project's default model —
// summarisation is a cheap linguistic task, not a reasoning task (§4.4).
const haikuTierModel = "claude-haiku-4-6"

// recompressTriggerTokens and recompressTargetTokens bound summary size to
// O(1) in conversation length (§4.4, §9).
const (
	recompressTriggerTokens = 3000
	recompressTargetTokens  = 500
)

// SummarizeFunc performs the non-streaming Haiku-tier LLM call. The caller
// (Orchestrator, via ApiClient.Compress) supplies this so Compressor has no
// transport dependency of its own.
type SummarizeFunc func(ctx context.Context, systemText, userText string) (string, error)

// Turn is one complete user+assistant message pair eligible for
// compression.
type Turn struct {
	User      *store.Message
	Assistant *store.Message
}

// Compressor decides when and what to compress for a project's
// conversations.
type Compressor struct {
	summarize SummarizeFunc
}

// New returns a Compressor that calls summarize to perform the actual
// Haiku-tier summarisation request.
func New(summarize SummarizeFunc) *Compressor {
	return &Compressor{summarize: summarize}
}

// ShouldCompress reports whether the number of uncompressed turns strictly
// exceeds the project's compress_after_turns threshold (§4.4).
func ShouldCompress(settings store.ProjectSettings, messages []*store.Message, lastCompressedMsgID string) bool {
	turns := CompleteTurns(messages, lastCompressedMsgID)
	return len(turns) > settings.CompressAfterTurns
}

// CompleteTurns returns the uncompressed complete user+assistant pairs,
// in order, following lastCompressedMsgID (or from the start if empty). A
// trailing user message without a matching assistant reply is excluded.
func CompleteTurns(messages []*store.Message, lastCompressedMsgID string) []Turn {
	start := 0
	if lastCompressedMsgID != "" {
		for i, m := range messages {
			if m.ID == lastCompressedMsgID {
				start = i + 1
				break
			}
		}
	}

	var turns []Turn
	pending := messages[start:]
	for i := 0; i+1 < len(pending); i += 2 {
		if pending[i].Role != store.RoleUser || pending[i+1].Role != store.RoleAssistant {
			break
		}
		turns = append(turns, Turn{User: pending[i], Assistant: pending[i+1]})
	}
	return turns
}

// Batch selects the oldest batchSize complete turns to fold into the
// summary (§4.4).
func Batch(turns []Turn, batchSize int) []Turn {
	if batchSize > len(turns) {
		batchSize = len(turns)
	}
	return turns[:batchSize]
}

// Plan is the outcome of selecting a compression batch: the turns to fold
// and the cutoff message they end on.
type Plan struct {
	Turns    []Turn
	CutoffID string
}

// Plan computes the batch of turns to compress for a conversation, or nil
// if ShouldCompress is false or the batch would be empty (a no-op per §8).
func Plan(settings store.ProjectSettings, conv *store.Conversation, messages []*store.Message) *Plan {
	if !ShouldCompress(settings, messages, conv.LastCompressedMsgID) {
		return nil
	}
	turns := CompleteTurns(messages, conv.LastCompressedMsgID)
	batch := Batch(turns, settings.CompressBatchSize)
	if len(batch) == 0 {
		return nil
	}
	return &Plan{Turns: batch, CutoffID: batch[len(batch)-1].Assistant.ID}
}

// Run executes one compression cycle: it builds the prompt from the prior
// summary and the batch of turns, calls summarize, and recursively
// recompresses the result if it grew past recompressTriggerTokens. On
// failure it returns an error and the caller must leave conversation state
// untouched — Compressor never mutates state itself (§4.4 failure policy).
func (c *Compressor) Run(ctx context.Context, projectName, priorSummary string, turns []Turn) (summary string, tokenCount int, err error) {
	systemText := buildSystemPrompt(projectName)
	userText := buildUserPrompt(priorSummary, turns)

	summary, err = c.summarize(ctx, systemText, userText)
	if err != nil {
		return "", 0, fmt.Errorf("compress: summarize batch: %w", err)
	}

	tokenCount = tokenize.Count(summary)
	if tokenCount > recompressTriggerTokens {
		summary, err = c.recompress(ctx, projectName, summary)
		if err != nil {
			return "", 0, fmt.Errorf("compress: recompress oversized summary: %w", err)
		}
		tokenCount = tokenize.Count(summary)
	}

	return summary, tokenCount, nil
}

// recompress collapses an oversized summary to at most
// recompressTargetTokens by summarising it against an empty prior (§4.4).
func (c *Compressor) recompress(ctx context.Context, projectName, summary string) (string, error) {
	systemText := buildSystemPrompt(projectName)
	userText := buildRecompressPrompt(summary)
	return c.summarize(ctx, systemText, userText)
}

// buildSystemPrompt is the ~100-token summariser instruction, tagged with
// the project name, demanding output only with no preamble (§4.4).
func buildSystemPrompt(projectName string) string {
	return fmt.Sprintf(
		"You are the conversation summariser for the project %q. "+
			"Produce only the summary text. No preamble, no acknowledgement, no closing remarks.",
		projectName,
	)
}

// buildUserPrompt formats the prior summary (if any) plus the transcript of
// the turns to fold, followed by the six compression rules (§4.4).
func buildUserPrompt(priorSummary string, turns []Turn) string {
	var sb strings.Builder

	if priorSummary != "" {
		sb.WriteString("## Previous summary\n\n")
		sb.WriteString(priorSummary)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## New turns to incorporate\n\n")
	for _, t := range turns {
		sb.WriteString(fmt.Sprintf("[user]: %s\n\n[assistant]: %s\n\n", t.User.Content, t.Assistant.Content))
	}

	sb.WriteString(compressionRules)
	return sb.String()
}

// buildRecompressPrompt re-summarises an oversized summary against an
// empty prior, bounding it to recompressTargetTokens.
func buildRecompressPrompt(summary string) string {
	var sb strings.Builder
	sb.WriteString("## Summary to condense\n\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n")
	sb.WriteString(compressionRules)
	return sb.String()
}

const compressionRules = `## Rules

1. Preserve all key decisions and conclusions.
2. Preserve code signatures and core logic verbatim — do not paraphrase code.
3. Preserve domain terms, data points, numeric values verbatim.
4. Preserve user preferences and constraints.
5. Remove pleasantries, repetition, filler.
6. Cap output at 500 tokens.
`

// HaikuTierModel returns the fixed compression-tier model name. It is not
// passed to ApiClient.Compress, which takes no model argument and uses the
// provider config's haiku_model instead.
func HaikuTierModel() string { return haikuTierModel }
