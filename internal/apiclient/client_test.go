package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/claudestation/claudestation/internal/config"
	"github.com/claudestation/claudestation/internal/contextbuilder"
	"github.com/claudestation/claudestation/internal/store"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func sseResponse(events ...[2]string) *http.Response {
	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString("event: " + ev[0] + "\n")
		sb.WriteString("data: " + ev[1] + "\n\n")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       io.NopCloser(strings.NewReader(sb.String())),
	}
}

func testClient(t *testing.T, transport http.RoundTripper) *Client {
	t.Helper()
	cfg := config.ProviderConfig{Auth: config.AuthConfig{APIKey: "test-key"}, HaikuModel: "claude-haiku-4-6"}
	c, err := New(cfg, &http.Client{Transport: transport})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func testRequest() *contextbuilder.Request {
	return &contextbuilder.Request{
		System:   []contextbuilder.Block{{Text: "You are helpful", Cached: true, CacheTTL: store.CacheTTL5m}},
		Messages: []contextbuilder.Message{{Role: store.RoleUser, Content: "hi"}},
	}
}

func TestChat_HappyPath_EmitsDeltasAndUsage(t *testing.T) {
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return sseResponse(
			[2]string{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-6","usage":{"input_tokens":25,"output_tokens":1}}}`},
			[2]string{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`},
			[2]string{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		), nil
	})
	c := testClient(t, transport)

	sink := make(chan Event, 16)
	usage, err := c.Chat(context.Background(), testRequest(), "claude-sonnet-4-6", 1024, sink)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	close(sink)

	var text strings.Builder
	var gotUsage bool
	for ev := range sink {
		switch ev.Kind {
		case EventTextDelta:
			text.WriteString(ev.Text)
		case EventUsage:
			gotUsage = true
		}
	}

	if text.String() != "Hello there" {
		t.Errorf("streamed text = %q, want %q", text.String(), "Hello there")
	}
	if !gotUsage {
		t.Error("expected a final EventUsage item in sink")
	}
	if usage.InputTokens != 25 {
		t.Errorf("usage.InputTokens = %d, want 25", usage.InputTokens)
	}
}

func TestChat_RetriesTransientErrorBeforeAnyEmission(t *testing.T) {
	attempts := 0
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return sseResponse(
			[2]string{"message_start", `{"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":0}}}`},
			[2]string{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"ok"}}`},
			[2]string{"message_delta", `{"type":"message_delta","delta":{},"usage":{"output_tokens":1}}`},
			[2]string{"message_stop", `{"type":"message_stop"}`},
		), nil
	})
	c := testClient(t, transport)

	sink := make(chan Event, 16)
	_, err := c.Chat(context.Background(), testRequest(), "claude-sonnet-4-6", 1024, sink)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one failure + one retry)", attempts)
	}
}

func TestCompress_UsesHaikuModelAndNoRetries(t *testing.T) {
	attempts := 0
	var sawModel string
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		body, _ := io.ReadAll(req.Body)
		var decoded map[string]any
		json.Unmarshal(body, &decoded)
		sawModel, _ = decoded["model"].(string)

		resp := map[string]any{
			"id":   "msg_compress",
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": "condensed summary"},
			},
			"model":       "claude-haiku-4-6",
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 100, "output_tokens": 20},
		}
		encoded, _ := json.Marshal(resp)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(encoded)))}, nil
	})
	c := testClient(t, transport)

	out, err := c.Compress(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if out != "condensed summary" {
		t.Errorf("Compress result = %q", out)
	}
	if sawModel != "claude-haiku-4-6" {
		t.Errorf("model sent = %q, want claude-haiku-4-6 regardless of project default", sawModel)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (compress never retries)", attempts)
	}
}

func TestCompress_ErrorPropagatesWithoutRetry(t *testing.T) {
	attempts := 0
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		return &http.Response{StatusCode: http.StatusTooManyRequests, Body: io.NopCloser(strings.NewReader(`{"type":"error","error":{"type":"rate_limit_error","message":"rate limited"}}`))}, nil
	})
	c := testClient(t, transport)

	_, err := c.Compress(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected error from Compress")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestClassify_MapsKnownSubstrings(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"401 unauthorized", ErrAuthFailed},
		{"429 too many requests", ErrRateLimited},
		{"prompt is too long: max tokens exceeded", ErrContextTooLong},
		{"connection refused", ErrTransient},
	}
	for _, c := range cases {
		got := classify(errors.New(c.msg))
		if !errors.Is(got, c.want) {
			t.Errorf("classify(%q) = %v, want wrapping %v", c.msg, got, c.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !isRetryable(classify(errors.New("connection reset by peer"))) {
		t.Error("transient errors should be retryable")
	}
	if isRetryable(classify(errors.New("401 unauthorized"))) {
		t.Error("auth failures should not be retryable")
	}
}

func TestResolveAuth_PrefersBearerTokenOverAPIKey(t *testing.T) {
	cfg := config.ProviderConfig{Auth: config.AuthConfig{Token: "bearer-tok", APIKey: "api-key"}}
	auth, err := ResolveAuth(cfg)
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if auth.Kind != AuthBearerToken || auth.Value != "bearer-tok" {
		t.Errorf("auth = %+v, want bearer token", auth)
	}
}

func TestResolveAuth_EnvTemplateExpansion(t *testing.T) {
	t.Setenv("CLAUDESTATION_TEST_KEY", "expanded-value")
	cfg := config.ProviderConfig{Auth: config.AuthConfig{APIKey: "${CLAUDESTATION_TEST_KEY}"}}
	auth, err := ResolveAuth(cfg)
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if auth.Value != "expanded-value" {
		t.Errorf("auth.Value = %q, want expanded-value", auth.Value)
	}
}

func TestResolveAuth_FallsBackToEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	auth, err := ResolveAuth(config.ProviderConfig{})
	if err != nil {
		t.Fatalf("ResolveAuth: %v", err)
	}
	if auth.Kind != AuthAPIKey || auth.Value != "env-key" {
		t.Errorf("auth = %+v, want env-key", auth)
	}
}

func TestResolveAuth_NoCredentials(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := ResolveAuth(config.ProviderConfig{}); err == nil {
		t.Error("expected an error when no credentials are configured")
	}
}

func TestCompactionExtensionMiddleware_InjectsHeaderAndBody(t *testing.T) {
	reqBody := `{"model":"claude-sonnet-4-6","max_tokens":1024}`
	req, err := http.NewRequest(http.MethodPost, "http://example.test/v1/messages", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	var capturedBody map[string]any
	var capturedHeader string
	_, err = compactionExtensionMiddleware(req, func(r *http.Request) (*http.Response, error) {
		capturedHeader = r.Header.Get("anthropic-beta")
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &capturedBody)
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}

	if capturedHeader != compactionBetaHeader {
		t.Errorf("anthropic-beta header = %q, want %q", capturedHeader, compactionBetaHeader)
	}
	cm, ok := capturedBody["context_management"].(map[string]any)
	if !ok {
		t.Fatal("context_management field not injected")
	}
	edits, ok := cm["edits"].([]any)
	if !ok || len(edits) != 1 {
		t.Fatalf("context_management.edits = %+v", cm["edits"])
	}
}

func TestCacheControlFor_SelectsTTLByProjectSetting(t *testing.T) {
	if got := cacheControlFor(store.CacheTTL1h).TTL; got != anthropic.CacheControlEphemeralTTLTTL1h {
		t.Errorf("1h TTL = %v, want TTL1h", got)
	}
	if got := cacheControlFor(store.CacheTTL5m).TTL; got != anthropic.CacheControlEphemeralTTLTTL5m {
		t.Errorf("5m TTL = %v, want TTL5m", got)
	}
}
