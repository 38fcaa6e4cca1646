package contextbuilder

import (
	"strings"
	"testing"

	"github.com/claudestation/claudestation/internal/store"
)

func testProject() *store.Project {
	return &store.Project{
		ID:           "proj_1",
		SystemPrompt: "You are a Python expert.",
		Settings:     store.DefaultProjectSettings(),
	}
}

func testConversation() *store.Conversation {
	return &store.Conversation{ID: "conv_1", ProjectID: "proj_1"}
}

func TestBuild_Layer1IsByteStableAcrossTurns(t *testing.T) {
	b := New(200000)
	project := testProject()
	docs := []*store.Document{{ID: "doc_1", ExtractedText: strings.Repeat("word ", 100)}}
	conv := testConversation()

	req1, err := b.Build(project, docs, conv, nil, "Hello")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	req2, err := b.Build(project, docs, conv, nil, "And now?")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if req1.System[0].Text != req2.System[0].Text {
		t.Error("Layer 1 bytes changed across turns with unchanged inputs")
	}
	if Diff(req1.System[0], req2.System[0]) {
		t.Error("Diff reported a change when none occurred")
	}
}

func TestBuild_Layer1ChangesWhenDocumentEdited(t *testing.T) {
	b := New(200000)
	project := testProject()
	conv := testConversation()

	before := buildLayer1(project, []*store.Document{{ExtractedText: "v1"}})
	after := buildLayer1(project, []*store.Document{{ExtractedText: "v2"}})

	if !Diff(before, after) {
		t.Error("Diff should report a change when document text differs")
	}
	_ = conv
}

func TestBuild_Layer1CarriesCacheControl(t *testing.T) {
	b := New(200000)
	project := testProject()
	conv := testConversation()

	req, err := b.Build(project, nil, conv, nil, "hi")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !req.System[0].Cached {
		t.Error("Layer 1 must always carry cache-control")
	}
}

func TestBuild_Layer2OmittedWithoutSummary(t *testing.T) {
	b := New(200000)
	project := testProject()
	conv := testConversation()

	req, err := b.Build(project, nil, conv, nil, "hi")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(req.System) != 1 {
		t.Errorf("System has %d blocks, want 1 (no Layer 2)", len(req.System))
	}
}

func TestBuild_Layer2CacheGateBelow1024Tokens(t *testing.T) {
	b := New(200000)
	project := testProject()
	conv := testConversation()
	conv.RollingSummary = "a short summary"
	conv.LastCompressedMsgID = "msg_1"
	conv.SummaryTokenCount = 400

	req, err := b.Build(project, nil, conv, nil, "hi")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(req.System) != 2 {
		t.Fatalf("System has %d blocks, want 2", len(req.System))
	}
	if req.System[1].Cached {
		t.Error("Layer 2 under 1024 tokens must not carry cache-control")
	}
}

func TestBuild_Layer2CachedAtOrAbove1024Tokens(t *testing.T) {
	b := New(200000)
	project := testProject()
	conv := testConversation()
	conv.RollingSummary = "a long summary"
	conv.LastCompressedMsgID = "msg_1"
	conv.SummaryTokenCount = 1024

	req, err := b.Build(project, nil, conv, nil, "hi")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !req.System[1].Cached {
		t.Error("Layer 2 at or above 1024 tokens must carry cache-control")
	}
}

func TestBuild_Layer3ExcludesCompressedMessages(t *testing.T) {
	b := New(200000)
	project := testProject()
	conv := testConversation()
	conv.LastCompressedMsgID = "msg_2"
	conv.RollingSummary = "summary of first two messages"
	conv.SummaryTokenCount = 10

	messages := []*store.Message{
		{ID: "msg_1", Role: store.RoleUser, Content: "first"},
		{ID: "msg_2", Role: store.RoleAssistant, Content: "second"},
		{ID: "msg_3", Role: store.RoleUser, Content: "third"},
		{ID: "msg_4", Role: store.RoleAssistant, Content: "fourth"},
	}

	req, err := b.Build(project, nil, conv, messages, "fifth")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Layer 3 (third, fourth) + Layer 4 (fifth) = 3 messages.
	if len(req.Messages) != 3 {
		t.Fatalf("Messages = %d, want 3: %+v", len(req.Messages), req.Messages)
	}
	if req.Messages[0].Content != "third" {
		t.Errorf("first Layer-3 message = %q, want %q", req.Messages[0].Content, "third")
	}
}

func TestBuild_BudgetFittingDropsOldestPairs(t *testing.T) {
	b := New(reservedOutputTokens + 500) // 500-token budget after the reserved output, to force truncation
	project := testProject()
	project.SystemPrompt = "short"
	conv := testConversation()

	var messages []*store.Message
	for i := 0; i < 20; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		messages = append(messages, &store.Message{
			ID:      "m" + string(rune('a'+i)),
			Role:    role,
			Content: strings.Repeat("token ", 50),
		})
	}

	req, err := b.Build(project, nil, conv, messages, "final question")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(req.Messages) >= len(messages)+1 {
		t.Errorf("expected truncation, got %d messages from %d history + 1", len(req.Messages), len(messages))
	}
}

func TestBuild_ContextTooLargeWhenBaselineExceedsBudget(t *testing.T) {
	b := New(100) // budget after reserved_output is negative
	project := testProject()
	project.SystemPrompt = strings.Repeat("word ", 10000)
	conv := testConversation()

	_, err := b.Build(project, nil, conv, nil, "hi")
	if err == nil {
		t.Fatal("expected ErrContextTooLarge, got nil")
	}
}

func TestEstimate_SharesBuildLogic(t *testing.T) {
	b := New(200000)
	project := testProject()
	docs := []*store.Document{{ExtractedText: strings.Repeat("word ", 2000)}}
	conv := testConversation()

	built, err := b.Build(project, docs, conv, nil, "hi")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	est, err := b.Estimate(project, docs, conv, nil, "hi")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	if est.EstimatedInputTokens != built.EstimatedTokens {
		t.Errorf("Estimate diverged from Build: %d vs %d", est.EstimatedInputTokens, built.EstimatedTokens)
	}
}

func TestBuild_ExtensionCarriesCompactionFallback(t *testing.T) {
	b := New(200000)
	project := testProject()
	conv := testConversation()

	req, err := b.Build(project, nil, conv, nil, "hi")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if req.Extension.BetaFlag != compactionBetaFlag || req.Extension.TriggerTokens != compactionTriggerTokens {
		t.Errorf("Extension = %+v", req.Extension)
	}
}
