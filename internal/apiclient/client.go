// Package apiclient is the two-channel transport to the provider: a
// streaming foreground Chat and a non-streaming background Compress,
// sharing one SDK client but kept apart by the rate-limit priority
// contract (§4.5, §5).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/claudestation/claudestation/internal/config"
	"github.com/claudestation/claudestation/internal/contextbuilder"
	"github.com/claudestation/claudestation/internal/store"
)

const (
	// chatMaxAttempts is the initial call plus 3 retries, backed off at
	// 1s/2s/4s — "3 attempts at 1s/2s/4s" in §4.5.
	chatMaxAttempts   = 4
	defaultMaxTokens  = int64(8192)
	defaultTimeout    = 120 * time.Second
	defaultHaikuModel = "claude-haiku-4-6"
)

var chatBackoff = [3]time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// EventKind distinguishes the items Chat emits into its sink (§4.5).
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventThinkingDelta
	EventUsage
)

// Event is one item of a streamed chat response.
type Event struct {
	Kind  EventKind
	Text  string
	Usage store.Usage
}

// Client implements ApiClient: chat (foreground, streaming, retried) and
// compress (background, non-streaming, unretried, semaphore-gated).
type Client struct {
	sdk        anthropic.Client
	haikuModel string

	// compressSem is the process-global rate-limit semaphore compress must
	// acquire and chat bypasses (§4.5, §5 shared resources).
	compressSem *semaphore.Weighted
}

// New builds a Client from the resolved provider configuration. httpClient
// may be nil to use the SDK's default transport; tests inject a fake
// transport here instead of reaching the real API.
func New(cfg config.ProviderConfig, httpClient *http.Client) (*Client, error) {
	auth, err := ResolveAuth(cfg)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithMiddleware(compactionExtensionMiddleware),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	switch auth.Kind {
	case AuthBearerToken:
		opts = append(opts, option.WithAuthToken(auth.Value))
	default:
		opts = append(opts, option.WithAPIKey(auth.Value))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts = append(opts, option.WithRequestTimeout(timeout))

	haiku := cfg.HaikuModel
	if haiku == "" {
		haiku = defaultHaikuModel
	}

	return &Client{
		sdk:         anthropic.NewClient(opts...),
		haikuModel:  haiku,
		compressSem: semaphore.NewWeighted(1),
	}, nil
}

// Chat opens a streaming response for a foreground turn, emitting text and
// thinking deltas plus a final usage event into sink. It makes up to
// chatMaxAttempts attempts (3 retries) with exponential backoff on transient transport
// errors, but only while no text has yet been emitted — once streaming has
// produced partial output, a retry would duplicate it, so Chat stops and
// surfaces the error instead (§4.5 non-idempotent-after-partial-emission).
// chat deliberately bypasses compressSem: it is never asked to wait behind
// a background compression (§4.5 priority contract).
func (c *Client) Chat(ctx context.Context, req *contextbuilder.Request, model string, maxTokens int64, sink chan<- Event) (store.Usage, error) {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := buildParams(req, model, maxTokens)

	var lastErr error
	for attempt := 1; attempt <= chatMaxAttempts; attempt++ {
		usage, emitted, err := c.streamOnce(ctx, params, sink)
		if err == nil {
			return usage, nil
		}
		lastErr = classify(err)

		if emitted || attempt == chatMaxAttempts || !isRetryable(lastErr) {
			return usage, lastErr
		}

		slog.Warn(fmtRetry(attempt, lastErr))
		select {
		case <-time.After(chatBackoff[attempt-1]):
		case <-ctx.Done():
			return usage, ctx.Err()
		}
	}
	return store.Usage{}, lastErr
}

// streamOnce runs a single streaming attempt, returning whatever usage the
// accumulator captured and whether any text delta was sent to sink before
// the error (if any) occurred.
func (c *Client) streamOnce(ctx context.Context, params anthropic.MessageNewParams, sink chan<- Event) (store.Usage, bool, error) {
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var acc anthropic.Message
	emitted := false

	for stream.Next() {
		select {
		case <-ctx.Done():
			return usageFrom(acc.Usage), emitted, ErrStreamCancelled
		default:
		}

		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			slog.Debug("apiclient: accumulate error", "err", err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text != "" {
					emitted = true
					sink <- Event{Kind: EventTextDelta, Text: delta.Text}
				}
			case anthropic.ThinkingDelta:
				if delta.Thinking != "" {
					sink <- Event{Kind: EventThinkingDelta, Text: delta.Thinking}
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		return usageFrom(acc.Usage), emitted, err
	}

	usage := usageFrom(acc.Usage)
	sink <- Event{Kind: EventUsage, Usage: usage}
	return usage, emitted, nil
}

// Compress performs one non-streaming Haiku-tier summarisation call,
// forcing the haiku-tier model regardless of the project's default (§4.4,
// §4.5). No retries: a failed compression simply leaves conversation state
// untouched and the caller's next attempt tries again; the SDK's own
// retry policy is switched off for this call. Compress acquires
// compressSem before calling the provider and releases it immediately
// after, so compress calls run one at a time; Chat never acquires it. A
// rate-limit on chat neither cancels an in-flight Compress nor holds back
// new ones.
func (c *Client) Compress(ctx context.Context, systemText, userText string) (string, error) {
	if err := c.compressSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.compressSem.Release(1)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.haikuModel),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemText}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(userText))},
	}

	resp, err := c.sdk.Messages.New(ctx, params, option.WithMaxRetries(0))
	if err != nil {
		return "", classify(err)
	}

	var out string
	for _, block := range resp.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// buildParams translates a contextbuilder.Request into the provider's wire
// shape, attaching cache-control markers exactly where ContextBuilder
// flagged them — ApiClient never makes its own caching decisions.
func buildParams(req *contextbuilder.Request, model string, maxTokens int64) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}

	for _, blk := range req.System {
		if blk.Cached {
			params.System = append(params.System, anthropic.TextBlockParam{
				Text:         blk.Text,
				CacheControl: cacheControlFor(blk.CacheTTL),
			})
		} else {
			params.System = append(params.System, anthropic.TextBlockParam{Text: blk.Text})
		}
	}

	for _, m := range req.Messages {
		if m.Role == store.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	return params
}

func cacheControlFor(ttl store.CacheTTL) anthropic.CacheControlEphemeralParam {
	if ttl == store.CacheTTL1h {
		return anthropic.CacheControlEphemeralParam{TTL: anthropic.CacheControlEphemeralTTLTTL1h}
	}
	return anthropic.CacheControlEphemeralParam{TTL: anthropic.CacheControlEphemeralTTLTTL5m}
}

func usageFrom(u anthropic.Usage) store.Usage {
	return store.Usage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
	}
}

// compactionBetaHeader names the provider's Compaction-API extension, and
// compactionExtensionMiddleware injects its edit into the request body
// (§6, §9) — a server-side fallback orthogonal to ContextBuilder's
// own client-side budget fitting. anthropic-sdk-go's generated params don't
// expose this preview surface yet, so it's attached via request middleware
// rather than a typed field, the same way the pack's other SDK consumers
// inject ad hoc headers and body fields around a generated client.
const compactionBetaHeader = "compact-2026-01-12"

func compactionExtensionMiddleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil {
		return next(req)
	}

	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return next(req)
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		req.Body = io.NopCloser(bytes.NewReader(raw))
		req.ContentLength = int64(len(raw))
		return next(req)
	}

	body["context_management"] = map[string]any{
		"edits": []map[string]any{{
			"type": "compact_20260112",
			"trigger": map[string]any{
				"type":  "input_tokens",
				"value": 160000,
			},
		}},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		req.Body = io.NopCloser(bytes.NewReader(raw))
		req.ContentLength = int64(len(raw))
		return next(req)
	}

	req.Header.Set("anthropic-beta", compactionBetaHeader)
	req.Body = io.NopCloser(bytes.NewReader(encoded))
	req.ContentLength = int64(len(encoded))
	return next(req)
}
