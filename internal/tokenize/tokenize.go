// Package tokenize provides local, estimate-only token counting. It is never
// used for billing — ApiClient reports the provider's own usage counters for
// that — but ContextBuilder and the Compressor need a fast local estimate to
// decide what fits before a request is ever sent (§4.3, §4.4).
package tokenize

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the tiktoken encoding used for all estimates. Anthropic
// does not publish its own encoder; cl100k_base tracks Claude's actual
// tokenisation closely enough for budget and cache-threshold decisions.
const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// Count estimates the token length of a single piece of text. On encoder
// initialisation failure it falls back to a conservative chars/4 heuristic
// rather than panicking — an estimate being slightly off never corrupts
// state, it only shifts a budget decision.
func Count(text string) int {
	if text == "" {
		return 0
	}
	e, err := encoding()
	if err != nil {
		return len(text)/4 + 1
	}
	return len(e.Encode(text, nil, nil))
}

// perMessageOverhead approximates the fixed token cost of role framing
// around each message's content in Anthropic's Messages API wire format.
const perMessageOverhead = 4

// TextMessage is the minimal shape tokenize needs from a conversation
// message — callers convert their own message types (e.g. store.Message)
// into TextMessage values.
type TextMessage struct {
	Role    string
	Content string
}

// CountMessages estimates the total token length of a sequence of messages,
// including per-message role-framing overhead.
func CountMessages(msgs []TextMessage) int {
	total := 0
	for _, m := range msgs {
		total += Count(m.Content) + perMessageOverhead
		if m.Role != "" {
			total += Count(m.Role)
		}
	}
	return total
}

// CountJoined is a convenience for estimating a block of already-concatenated
// text (e.g. a rendered document or rolling summary) as a single unit.
func CountJoined(parts ...string) int {
	return Count(strings.Join(parts, "\n"))
}
