package compress

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/claudestation/claudestation/internal/store"
)

func turnMessages(n int) []*store.Message {
	var out []*store.Message
	for i := 0; i < n; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		out = append(out, &store.Message{ID: idFor(i), Role: role, Content: "content"})
	}
	return out
}

func idFor(i int) string {
	return "m" + string(rune('a'+i))
}

func TestShouldCompress_BelowThreshold(t *testing.T) {
	settings := store.DefaultProjectSettings()
	settings.CompressAfterTurns = 10
	messages := turnMessages(2 * 10) // exactly 10 turns, not "strictly exceeds"

	if ShouldCompress(settings, messages, "") {
		t.Error("ShouldCompress should be false at exactly the threshold")
	}
}

func TestShouldCompress_AboveThreshold(t *testing.T) {
	settings := store.DefaultProjectSettings()
	settings.CompressAfterTurns = 10
	messages := turnMessages(2 * 11) // 11 complete turns

	if !ShouldCompress(settings, messages, "") {
		t.Error("ShouldCompress should be true above the threshold")
	}
}

func TestCompleteTurns_ExcludesTrailingIncompleteTurn(t *testing.T) {
	messages := turnMessages(5) // 2 complete turns + 1 trailing user message
	turns := CompleteTurns(messages, "")
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
}

func TestCompleteTurns_StartsAfterCutoff(t *testing.T) {
	messages := turnMessages(8) // 4 turns
	turns := CompleteTurns(messages, messages[3].ID)
	if len(turns) != 2 {
		t.Fatalf("turns after cutoff = %d, want 2", len(turns))
	}
	if turns[0].User.ID != messages[4].ID {
		t.Errorf("first turn after cutoff starts at %s, want %s", turns[0].User.ID, messages[4].ID)
	}
}

func TestBatch_CapsAtBatchSize(t *testing.T) {
	messages := turnMessages(20) // 10 turns
	turns := CompleteTurns(messages, "")
	batch := Batch(turns, 5)
	if len(batch) != 5 {
		t.Fatalf("batch = %d, want 5", len(batch))
	}
	if batch[0].User.ID != messages[0].ID {
		t.Error("batch should select the oldest turns first")
	}
}

func TestPlan_NoOpWhenBelowThreshold(t *testing.T) {
	settings := store.DefaultProjectSettings()
	conv := &store.Conversation{}
	messages := turnMessages(4)

	if p := Plan(settings, conv, messages); p != nil {
		t.Errorf("Plan = %+v, want nil", p)
	}
}

func TestPlan_SelectsBatchAndCutoff(t *testing.T) {
	settings := store.DefaultProjectSettings()
	settings.CompressAfterTurns = 10
	settings.CompressBatchSize = 5
	conv := &store.Conversation{}
	messages := turnMessages(22) // 11 turns

	p := Plan(settings, conv, messages)
	if p == nil {
		t.Fatal("Plan = nil, want a batch")
	}
	if len(p.Turns) != 5 {
		t.Errorf("batch size = %d, want 5", len(p.Turns))
	}
	wantCutoff := messages[9].ID // 5th turn's assistant message (index 9)
	if p.CutoffID != wantCutoff {
		t.Errorf("CutoffID = %s, want %s", p.CutoffID, wantCutoff)
	}
}

func TestRun_BuildsPromptAndReturnsSummary(t *testing.T) {
	var capturedSystem, capturedUser string
	c := New(func(ctx context.Context, systemText, userText string) (string, error) {
		capturedSystem = systemText
		capturedUser = userText
		return "a concise summary", nil
	})

	turns := []Turn{{
		User:      &store.Message{Role: store.RoleUser, Content: "what's the plan"},
		Assistant: &store.Message{Role: store.RoleAssistant, Content: "ship it"},
	}}

	summary, tokens, err := c.Run(context.Background(), "MyProject", "prior summary text", turns)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary != "a concise summary" {
		t.Errorf("summary = %q", summary)
	}
	if tokens <= 0 {
		t.Error("tokens should be > 0")
	}
	if !strings.Contains(capturedSystem, "MyProject") {
		t.Error("system prompt should name the project")
	}
	if !strings.Contains(capturedUser, "prior summary text") {
		t.Error("user prompt should include prior summary")
	}
	if !strings.Contains(capturedUser, "ship it") {
		t.Error("user prompt should include the turn transcript")
	}
	for _, rule := range []string{"Preserve all key decisions", "Cap output at 500 tokens"} {
		if !strings.Contains(capturedUser, rule) {
			t.Errorf("user prompt missing rule: %q", rule)
		}
	}
}

func TestRun_RecompressesOversizedSummary(t *testing.T) {
	calls := 0
	oversized := strings.Repeat("word ", 4000) // well above recompressTriggerTokens
	c := New(func(ctx context.Context, systemText, userText string) (string, error) {
		calls++
		if calls == 1 {
			return oversized, nil
		}
		return "condensed", nil
	})

	turns := []Turn{{
		User:      &store.Message{Role: store.RoleUser, Content: "x"},
		Assistant: &store.Message{Role: store.RoleAssistant, Content: "y"},
	}}

	summary, _, err := c.Run(context.Background(), "Proj", "", turns)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("summarize called %d times, want 2 (initial + recompress)", calls)
	}
	if summary != "condensed" {
		t.Errorf("summary = %q, want recompressed result", summary)
	}
}

func TestRun_PropagatesFailureWithoutMutatingCaller(t *testing.T) {
	wantErr := errors.New("transport error")
	c := New(func(ctx context.Context, systemText, userText string) (string, error) {
		return "", wantErr
	})

	turns := []Turn{{
		User:      &store.Message{Role: store.RoleUser, Content: "x"},
		Assistant: &store.Message{Role: store.RoleAssistant, Content: "y"},
	}}

	_, _, err := c.Run(context.Background(), "Proj", "", turns)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("error chain should wrap the transport error: %v", err)
	}
}
