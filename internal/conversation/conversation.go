// Package conversation is the UI-facing facade over Store and
// Orchestrator: project/document/conversation CRUD plus the turn
// operations a client surface (CLI, TUI, desktop shell) actually calls
// (§2, "the conversation/project/document facade exposed to the UI").
package conversation

import (
	"context"
	"fmt"

	"github.com/claudestation/claudestation/internal/contextbuilder"
	"github.com/claudestation/claudestation/internal/events"
	"github.com/claudestation/claudestation/internal/orchestrator"
	"github.com/claudestation/claudestation/internal/pricing"
	"github.com/claudestation/claudestation/internal/store"
	"github.com/claudestation/claudestation/internal/tokenize"
)

// Service is the single entry point a UI layer needs: it never touches
// Store or Orchestrator directly.
type Service struct {
	store   *store.Store
	orch    *orchestrator.Orchestrator
	tracker *pricing.TokenTracker
	bus     *events.Bus
}

// New wires a Service over an already-constructed Store, Orchestrator and
// TokenTracker. bus may be nil; it is only used to announce cache
// invalidation from document/project-prompt edits, which the Orchestrator
// itself has no reason to know about.
func New(st *store.Store, orch *orchestrator.Orchestrator, tracker *pricing.TokenTracker, bus *events.Bus) *Service {
	return &Service{store: st, orch: orch, tracker: tracker, bus: bus}
}

// --- projects ---------------------------------------------------------

// CreateProject creates a project with default settings, ready for
// documents and conversations.
func (s *Service) CreateProject(name, systemPrompt, defaultModel string) (*store.Project, error) {
	p := &store.Project{
		Name:         name,
		SystemPrompt: systemPrompt,
		DefaultModel: defaultModel,
		Settings:     store.DefaultProjectSettings(),
	}
	if err := s.store.CreateProject(p); err != nil {
		return nil, fmt.Errorf("conversation: create project: %w", err)
	}
	return p, nil
}

func (s *Service) ListProjects() ([]*store.Project, error) { return s.store.ListProjects() }

func (s *Service) GetProject(id string) (*store.Project, error) { return s.store.GetProject(id) }

// UpdateProject persists project edits. Changing the system prompt
// invalidates every conversation's Layer 1 (§4.3 Invariant, §9 Open
// Question) — callers that change SystemPrompt should expect the next
// turn in any of this project's conversations to incur a fresh
// cache-creation cost.
func (s *Service) UpdateProject(p *store.Project) error {
	if err := s.store.UpdateProject(p); err != nil {
		return fmt.Errorf("conversation: update project: %w", err)
	}
	s.publishCacheInvalidated("project_updated")
	return nil
}

func (s *Service) DeleteProject(id string) error { return s.store.DeleteProject(id) }

// --- documents ----------------------------------------------------------

// AddDocument attaches a document's already-extracted text to a project,
// counting its tokens for display. Document order (by CreatedAt) becomes
// Layer 1's byte sequence, so documents should be added in the order they
// should appear to the model.
func (s *Service) AddDocument(projectID, filename, extractedText, fileType string) (*store.Document, error) {
	d := &store.Document{
		ProjectID:     projectID,
		Filename:      filename,
		ExtractedText: extractedText,
		TokenCount:    tokenize.Count(extractedText),
		FileType:      fileType,
	}
	if err := s.store.CreateDocument(d); err != nil {
		return nil, fmt.Errorf("conversation: add document: %w", err)
	}
	s.publishCacheInvalidated("document_added")
	return d, nil
}

func (s *Service) ListDocuments(projectID string) ([]*store.Document, error) {
	return s.store.ListDocuments(projectID)
}

// DeleteDocument removes a document. Per §9's Open Question, mid-conversation
// document deletion is treated as a Layer-1 mutation: it invalidates the
// cache rather than being rejected, and the next turn simply pays a fresh
// cache-creation cost.
func (s *Service) DeleteDocument(id string) error {
	if err := s.store.DeleteDocument(id); err != nil {
		return fmt.Errorf("conversation: delete document: %w", err)
	}
	s.publishCacheInvalidated("document_deleted")
	return nil
}

// --- conversations --------------------------------------------------------

func (s *Service) CreateConversation(projectID, title string) (*store.Conversation, error) {
	c := &store.Conversation{ProjectID: projectID, Title: title}
	if err := s.store.CreateConversation(c); err != nil {
		return nil, fmt.Errorf("conversation: create conversation: %w", err)
	}
	return c, nil
}

func (s *Service) ListConversations(projectID string) ([]*store.Conversation, error) {
	return s.store.ListConversations(projectID)
}

func (s *Service) GetConversation(id string) (*store.Conversation, error) {
	return s.store.GetConversation(id)
}

func (s *Service) Messages(conversationID string) ([]*store.Message, error) {
	return s.store.GetMessages(conversationID)
}

func (s *Service) ArchiveConversation(id string) error { return s.store.ArchiveConversation(id) }

func (s *Service) DeleteConversation(id string) error { return s.store.DeleteConversation(id) }

// --- turns ----------------------------------------------------------------

// Send submits a user turn and blocks until the assistant's response is
// committed (or the turn fails). Streamed deltas are available to
// subscribers of the event bus passed to New; Send itself only returns
// the finished message.
func (s *Service) Send(ctx context.Context, conversationID, userText string) (*store.Message, error) {
	return s.orch.Send(ctx, conversationID, userText)
}

// Cancel requests that an in-flight Send for this conversation stop
// streaming and commit whatever text has arrived so far.
func (s *Service) Cancel(conversationID string) { s.orch.Cancel(conversationID) }

// ResetSummary clears a conversation's rolling summary, returning it to
// full-history rendering until the next compression cycle runs.
func (s *Service) ResetSummary(conversationID string) error {
	return s.orch.ResetSummary(conversationID)
}

// State reports where a conversation's foreground turn currently sits in
// the Idle/Building/Streaming/Finalising lifecycle.
func (s *Service) State(conversationID string) orchestrator.TurnState {
	return s.orch.State(conversationID)
}

// Estimate projects the token/cost shape of a would-be turn without
// sending it, sharing ContextBuilder's own build() logic (§4.3 Estimate
// contract) so the number shown to a user can never drift from what
// Send would actually charge.
func (s *Service) Estimate(conversationID, userText string) (*contextbuilder.Estimate, error) {
	conv, err := s.store.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: estimate: load conversation: %w", err)
	}
	project, err := s.store.GetProject(conv.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("conversation: estimate: load project: %w", err)
	}
	docs, err := s.store.ListDocuments(project.ID)
	if err != nil {
		return nil, fmt.Errorf("conversation: estimate: load documents: %w", err)
	}
	messages, err := s.store.GetMessages(conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation: estimate: load history: %w", err)
	}

	model := project.DefaultModel
	if conv.ModelOverride != "" {
		model = conv.ModelOverride
	}
	builder := contextbuilder.New(s.tracker.ContextWindow(model))
	return builder.Estimate(project, docs, conv, messages, userText)
}

// EstimatedCost is a convenience wrapper turning an Estimate's input-token
// projection into a displayable USD figure, using the given model's pricing
// and cache TTL; the estimate's cached tokens are costed as cache reads.
func (s *Service) EstimatedCost(est *contextbuilder.Estimate, model string, ttl store.CacheTTL) (string, pricing.Color) {
	usage := store.Usage{InputTokens: est.EstimatedInputTokens - est.EstimatedCachedTokens, CacheReadTokens: est.EstimatedCachedTokens}
	return pricing.FormatCost(s.tracker.Cost(model, usage, ttl))
}

func (s *Service) publishCacheInvalidated(reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.NewTypedEvent(events.SourceStore, events.CacheInvalidatedPayload{Reason: reason}))
}
