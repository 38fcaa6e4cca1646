package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// FOREGROUND TURN EVENTS
// =============================================================================

// ResponseDeltaPayload carries one streamed text or thinking fragment.
type ResponseDeltaPayload struct {
	Thinking bool   `json:"thinking,omitempty"`
	Text     string `json:"text"`
}

func (ResponseDeltaPayload) EventType() EventType { return EventResponseDelta }

// ResponseCompletePayload reports the final state of a finished (or cancelled) turn.
type ResponseCompletePayload struct {
	MessageID          string  `json:"message_id"`
	Cancelled          bool    `json:"cancelled"`
	InputTokens        int     `json:"input_tokens"`
	OutputTokens       int     `json:"output_tokens"`
	CacheReadTokens    int     `json:"cache_read_tokens"`
	CacheCreationTokens int    `json:"cache_creation_tokens"`
	CostUSD            float64 `json:"cost_usd,omitempty"`
}

func (ResponseCompletePayload) EventType() EventType { return EventResponseComplete }

// TurnFailedPayload reports a fatal turn-level error (context-too-large, auth-failed, ...).
type TurnFailedPayload struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

func (TurnFailedPayload) EventType() EventType { return EventTurnFailed }

// =============================================================================
// BACKGROUND COMPRESSION EVENTS
// =============================================================================

// SummaryUpdatedPayload reports a successful compression pass.
type SummaryUpdatedPayload struct {
	CutoffMessageID  string `json:"cutoff_message_id"`
	SummaryTokens    int    `json:"summary_tokens"`
	TurnsCompressed  int    `json:"turns_compressed"`
}

func (SummaryUpdatedPayload) EventType() EventType { return EventSummaryUpdated }

// CompressionFailedPayload reports a non-fatal compression failure; the prior
// summary (if any) remains in effect.
type CompressionFailedPayload struct {
	Error string `json:"error"`
}

func (CompressionFailedPayload) EventType() EventType { return EventCompressionFailed }

// CacheInvalidatedPayload warns that Layer 1 changed (document added/removed,
// system prompt edited), so the next turn will incur a fresh cache-creation cost.
type CacheInvalidatedPayload struct {
	Reason string `json:"reason"`
}

func (CacheInvalidatedPayload) EventType() EventType { return EventCacheInvalidated }

// =============================================================================
// INTERNAL / ANALYTICS EVENTS
// =============================================================================

// LLMCallPayload records one provider round-trip for cost tracking and tracing.
type LLMCallPayload struct {
	Phase        string        `json:"phase"` // "request" | "response"
	Model        string        `json:"model"`
	TokensInput  int           `json:"tokens_input,omitempty"`
	TokensOutput int           `json:"tokens_output,omitempty"`
	CacheRead    int           `json:"cache_read,omitempty"`
	CacheCreate  int           `json:"cache_create,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	Error        string        `json:"error,omitempty"`
}

func (LLMCallPayload) EventType() EventType { return EventLLMCall }

// RateLimitedPayload reports a 429 from the provider and which channel hit it.
type RateLimitedPayload struct {
	Channel    string `json:"channel"` // "chat" | "compress"
	RetryAfter string `json:"retry_after,omitempty"`
}

func (RateLimitedPayload) EventType() EventType { return EventRateLimited }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithConversation(source EventSource, payload EventPayload, conversationID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: conversationID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetResponseCompletePayload(e Event) (ResponseCompletePayload, bool) {
	return ExtractPayload[ResponseCompletePayload](e)
}

func GetSummaryUpdatedPayload(e Event) (SummaryUpdatedPayload, bool) {
	return ExtractPayload[SummaryUpdatedPayload](e)
}

func GetLLMCallPayload(e Event) (LLMCallPayload, bool) {
	return ExtractPayload[LLMCallPayload](e)
}
