// Package store provides the durable state for ClaudeStation: projects,
// documents, conversations, messages, and rolling summaries (§3, §4.1).
package store

import "time"

// Role distinguishes user turns from assistant turns.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// CacheTTL is the provider ephemeral cache lifetime for a project's Layer-1
// and Layer-2 cache-control markers.
type CacheTTL string

const (
	CacheTTL5m CacheTTL = "5m"
	CacheTTL1h CacheTTL = "1h"
)

// ProjectSettings enumerates the recognised per-project options (§3.1).
type ProjectSettings struct {
	CacheTTL           CacheTTL `json:"cache_ttl"`
	CompressAfterTurns int      `json:"compress_after_turns"`
	CompressBatchSize  int      `json:"compress_batch_size"`
	ThinkingEnabled    bool     `json:"thinking_enabled"`
	ThinkingBudget     int      `json:"thinking_budget"`
}

// DefaultProjectSettings returns the defaults named in §3.1.
func DefaultProjectSettings() ProjectSettings {
	return ProjectSettings{
		CacheTTL:           CacheTTL5m,
		CompressAfterTurns: 10,
		CompressBatchSize:  5,
	}
}

// Project is the top-level container of documents and conversations.
type Project struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	SystemPrompt  string          `json:"system_prompt"`
	DefaultModel  string          `json:"default_model"`
	Settings      ProjectSettings `json:"settings"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Document is an immutable (after upload) piece of extracted text owned by
// a project. Ordering by CreatedAt within a project is a cache-correctness
// invariant (§3.1) — it determines the Layer-1 byte sequence.
type Document struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Filename       string    `json:"filename"`
	ExtractedText  string    `json:"extracted_text"`
	TokenCount     int       `json:"token_count"`
	FileType       string    `json:"file_type"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation holds a thread of messages plus its rolling summary state.
type Conversation struct {
	ID                  string    `json:"id"`
	ProjectID           string    `json:"project_id"`
	Title               string    `json:"title"`
	ModelOverride       string    `json:"model_override,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	IsArchived          bool      `json:"is_archived"`
	RollingSummary      string    `json:"rolling_summary,omitempty"`
	LastCompressedMsgID string    `json:"last_compressed_msg_id,omitempty"`
	SummaryTokenCount   int       `json:"summary_token_count,omitempty"`
}

// HasSummary reports whether the conversation carries a non-empty rolling
// summary. §3.1 ties RollingSummary, LastCompressedMsgID and
// SummaryTokenCount together: all three are set, or none are.
func (c *Conversation) HasSummary() bool {
	return c.RollingSummary != ""
}

// Usage holds the provider's reported token counters for one response.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
}

// Message is one append-only turn in a conversation (§3.1).
type Message struct {
	ID          string     `json:"id"`
	ConvID      string     `json:"conversation_id"`
	Role        Role       `json:"role"`
	Content     string     `json:"content"`
	Thinking    string     `json:"thinking,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	ModelUsed   string     `json:"model_used,omitempty"`
	Usage       Usage      `json:"usage"`
	CostUSD     *float64   `json:"cost_usd,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
