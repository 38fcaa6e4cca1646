// Package contextbuilder assembles the four-layer, cache-optimised API
// request: System+Documents, Rolling Summary, Recent Messages, and the
// current user turn (§4.3). Every decision here is a cache-correctness
// decision — see the Block doc comments for the invariants that protect the
// provider's prefix cache.
package contextbuilder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/claudestation/claudestation/internal/store"
	"github.com/claudestation/claudestation/internal/tokenize"
)

// ErrContextTooLarge is returned when even the Layer-1+Layer-2+Layer-4
// baseline (with Layer 3 emptied) exceeds the model's usable context
// window.
var ErrContextTooLarge = errors.New("contextbuilder: context too large")

// reservedOutputTokens is held back from the context window for the
// model's own response.
const reservedOutputTokens = 8192

// compactionTriggerTokens is the Compaction-API fallback threshold (80% of
// a 200k window) — an orthogonal server-side safety net, not a substitute
// for client-side budget fitting.
const compactionTriggerTokens = 160000

// compactionBetaFlag and compactionEditType name the provider's
// context-management extension (§6).
const (
	compactionBetaFlag = "compact-2026-01-12"
	compactionEditType = "compact_20260112"
)

// summaryCacheFloor is the minimum token count the remote cache backend
// requires before it will accept a block as a cached prefix (§4.3 Layer 2).
const summaryCacheFloor = 1024

// Block is one system-prompt text segment, optionally carrying a
// cache-control marker for the provider's prefix cache.
type Block struct {
	Text     string
	Cached   bool
	CacheTTL store.CacheTTL
}

// Message is one rendered conversation turn, ready for the transport layer
// to convert into provider wire format.
type Message struct {
	Role     store.Role
	Content  string
	Thinking string
}

// Extension describes the Compaction-API fallback parameters attached to
// every request as an orthogonal safety net (§4.3, §6).
type Extension struct {
	BetaFlag      string
	EditType      string
	TriggerTokens int
}

// Request is the fully assembled four-layer request, ready for ApiClient to
// translate into the provider's wire format.
type Request struct {
	System          []Block
	Messages        []Message
	EstimatedTokens int
	Extension       Extension
}

// Estimate summarises the token/cost shape of a would-be request without
// requiring a live API call. It shares build() with Build so the two can
// never drift (§4.3).
type Estimate struct {
	EstimatedInputTokens  int
	EstimatedCachedTokens int
	TruncatedTurns        int
}

// Builder assembles requests for one model's context window.
type Builder struct {
	contextWindow int
}

// New returns a Builder sized to the given model's context window.
func New(contextWindow int) *Builder {
	return &Builder{contextWindow: contextWindow}
}

// Build assembles the four-layer request for a new user turn. docs must be
// the project's documents in created_at order; messages must be the
// conversation's full, append-ordered history (as returned by
// Store.GetMessages).
func (b *Builder) Build(project *store.Project, docs []*store.Document, conv *store.Conversation, messages []*store.Message, userMessage string) (*Request, error) {
	req, _, err := b.build(project, docs, conv, messages, userMessage)
	return req, err
}

// Estimate returns the projected token/cost shape of the given turn by
// running the same build() logic as Build, never a separate heuristic.
func (b *Builder) Estimate(project *store.Project, docs []*store.Document, conv *store.Conversation, messages []*store.Message, userMessage string) (*Estimate, error) {
	req, truncated, err := b.build(project, docs, conv, messages, userMessage)
	if err != nil {
		return nil, err
	}

	cached := 0
	for _, blk := range req.System {
		if blk.Cached {
			cached += tokenize.Count(blk.Text)
		}
	}

	return &Estimate{
		EstimatedInputTokens:  req.EstimatedTokens,
		EstimatedCachedTokens: cached,
		TruncatedTurns:        truncated,
	}, nil
}

// build is the single source of truth for request assembly, shared by
// Build and Estimate.
func (b *Builder) build(project *store.Project, docs []*store.Document, conv *store.Conversation, messages []*store.Message, userMessage string) (*Request, int, error) {
	layer1 := buildLayer1(project, docs)
	layer2, hasLayer2 := buildLayer2(conv)
	layer3 := buildLayer3(conv, messages)
	layer4 := Message{Role: store.RoleUser, Content: userMessage}

	system := []Block{layer1}
	if hasLayer2 {
		system = append(system, layer2)
	}

	budget := b.contextWindow - reservedOutputTokens

	baselineTokens := tokenize.Count(layer1.Text) + tokenize.Count(layer4.Content)
	if hasLayer2 {
		baselineTokens += tokenize.Count(layer2.Text)
	}
	if baselineTokens > budget {
		return nil, 0, fmt.Errorf("%w: baseline %d tokens exceeds budget %d", ErrContextTooLarge, baselineTokens, budget)
	}

	fitted, truncated := fitBudget(layer3, budget-baselineTokens)
	messagesOut := append(fitted, layer4)

	total := baselineTokens
	for _, m := range fitted {
		total += tokenize.Count(m.Content) + tokenize.Count(m.Thinking)
	}

	req := &Request{
		System:          system,
		Messages:        messagesOut,
		EstimatedTokens: total,
		Extension: Extension{
			BetaFlag:      compactionBetaFlag,
			EditType:      compactionEditType,
			TriggerTokens: compactionTriggerTokens,
		},
	}
	return req, truncated, nil
}

// buildLayer1 renders the byte-stable system+documents block: the system
// prompt followed by each document's text in created_at order, joined by
// "\n\n". This exact concatenation must never change shape across turns
// while the inputs are unchanged — that stability is what the provider's
// prefix cache keys on.
func buildLayer1(project *store.Project, docs []*store.Document) Block {
	parts := make([]string, 0, len(docs)+1)
	parts = append(parts, project.SystemPrompt)
	for _, d := range docs {
		parts = append(parts, d.ExtractedText)
	}
	return Block{
		Text:     strings.Join(parts, "\n\n"),
		Cached:   true,
		CacheTTL: project.Settings.CacheTTL,
	}
}

// buildLayer2 renders the rolling-summary block. The cache-control marker
// is withheld when the summary is too small for the remote cache to accept
// as a prefix — marking it anyway would be a silent pricing no-op.
func buildLayer2(conv *store.Conversation) (Block, bool) {
	if !conv.HasSummary() {
		return Block{}, false
	}
	text := fmt.Sprintf("<conversation_summary>\n%s\n</conversation_summary>", conv.RollingSummary)
	return Block{
		Text:   text,
		Cached: conv.SummaryTokenCount >= summaryCacheFloor,
	}, true
}

// buildLayer3 renders every message strictly after last_compressed_msg_id
// (or the full history if nothing has been compressed yet).
func buildLayer3(conv *store.Conversation, messages []*store.Message) []Message {
	start := 0
	if conv.LastCompressedMsgID != "" {
		for i, m := range messages {
			if m.ID == conv.LastCompressedMsgID {
				start = i + 1
				break
			}
		}
	}

	out := make([]Message, 0, len(messages)-start)
	for _, m := range messages[start:] {
		out = append(out, Message{Role: m.Role, Content: m.Content, Thinking: m.Thinking})
	}
	return out
}

// fitBudget drops oldest user+assistant pairs from the front of layer3
// until the remaining messages fit within budget tokens.
func fitBudget(layer3 []Message, budget int) ([]Message, int) {
	total := 0
	for _, m := range layer3 {
		total += tokenize.Count(m.Content) + tokenize.Count(m.Thinking)
	}

	dropped := 0
	for total > budget && len(layer3) >= 2 {
		pair := tokenize.Count(layer3[0].Content) + tokenize.Count(layer3[0].Thinking) +
			tokenize.Count(layer3[1].Content) + tokenize.Count(layer3[1].Thinking)
		layer3 = layer3[2:]
		total -= pair
		dropped += 2
	}
	return layer3, dropped
}

// Diff reports whether two Layer-1 blocks differ — a true result means the
// next turn incurs a fresh cache-creation cost because a document or the
// system prompt changed (§9).
func Diff(prev, next Block) bool {
	return prev.Text != next.Text
}
