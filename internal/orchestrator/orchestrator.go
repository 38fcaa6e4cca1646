// Package orchestrator drives the foreground turn state machine (Idle →
// Building → Streaming → Finalising → Idle) and the single background
// compression worker, coordinating ContextBuilder, ApiClient, Compressor,
// TokenTracker and Store around the priority contract in §4.5/§4.6/§5.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/claudestation/claudestation/internal/apiclient"
	"github.com/claudestation/claudestation/internal/compress"
	"github.com/claudestation/claudestation/internal/contextbuilder"
	"github.com/claudestation/claudestation/internal/events"
	"github.com/claudestation/claudestation/internal/pricing"
	"github.com/claudestation/claudestation/internal/store"
)

// TurnState names a position in the foreground turn lifecycle (§4.6).
type TurnState int

const (
	StateIdle TurnState = iota
	StateBuilding
	StateStreaming
	StateFinalising
)

func (s TurnState) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateStreaming:
		return "streaming"
	case StateFinalising:
		return "finalising"
	default:
		return "idle"
	}
}

// compressionQueueSize bounds the background worker's FIFO (§4.6): more
// conversations than this waiting for compression at once is not expected
// in single-user desktop use, and a full queue simply drops the newest
// enqueue attempt rather than blocking the foreground.
const compressionQueueSize = 64

// Orchestrator is the process's single coordinator of foreground turns and
// background compression. One Orchestrator per running application; it
// owns the compression worker goroutine's lifetime via Start/Stop.
type Orchestrator struct {
	store      *store.Store
	api        *apiclient.Client
	tracker    *pricing.TokenTracker
	compressor *compress.Compressor
	bus        *events.Bus

	convLocksMu sync.Mutex
	convLocks   map[string]*sync.Mutex

	statesMu sync.Mutex
	states   map[string]TurnState

	activeMu      sync.Mutex
	activeCancels map[string]context.CancelFunc

	queueMu  sync.Mutex
	queued   map[string]bool
	inFlight map[string]bool
	queue    chan string

	layer1Mu   sync.Mutex
	lastLayer1 map[string]contextbuilder.Block

	done chan struct{}
}

// New wires an Orchestrator over the given Store and ApiClient. bus may be
// nil, in which case turn and compression lifecycle events are simply not
// published (useful for tests that only care about return values).
func New(st *store.Store, api *apiclient.Client, tracker *pricing.TokenTracker, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		store:         st,
		api:           api,
		tracker:       tracker,
		compressor:    compress.New(api.Compress),
		bus:           bus,
		convLocks:     make(map[string]*sync.Mutex),
		states:        make(map[string]TurnState),
		activeCancels: make(map[string]context.CancelFunc),
		queued:        make(map[string]bool),
		inFlight:      make(map[string]bool),
		queue:         make(chan string, compressionQueueSize),
		lastLayer1:    make(map[string]contextbuilder.Block),
		done:          make(chan struct{}),
	}
}

// Start launches the background compression worker. It must be called
// once before the first Send that might schedule a compression.
func (o *Orchestrator) Start() {
	go o.runCompressionWorker()
}

// Stop signals the background compression worker to exit. It does not
// wait for an in-flight compression to finish; that request's own context
// is left to complete or be cancelled by its caller.
func (o *Orchestrator) Stop() {
	close(o.done)
}

// State reports the conversation's current position in the foreground
// turn lifecycle (§4.6). A conversation that has never had Send called on
// it, or that is between turns, reports StateIdle.
func (o *Orchestrator) State(convID string) TurnState {
	o.statesMu.Lock()
	defer o.statesMu.Unlock()
	return o.states[convID]
}

func (o *Orchestrator) setState(convID string, s TurnState) {
	o.statesMu.Lock()
	defer o.statesMu.Unlock()
	if s == StateIdle {
		delete(o.states, convID)
		return
	}
	o.states[convID] = s
}

// Cancel aborts the in-flight foreground stream for a conversation, if
// any. The partially-received assistant message is committed with
// whatever text arrived (§4.6 Streaming→Finalising on cancel).
func (o *Orchestrator) Cancel(convID string) {
	o.activeMu.Lock()
	cancel, ok := o.activeCancels[convID]
	o.activeMu.Unlock()
	if ok {
		cancel()
	}
}

// ResetSummary clears a conversation's rolling summary under the
// conversation's write lock, so it never races a concurrent
// UpdateSummary from the background worker (§5 ordering guarantee).
func (o *Orchestrator) ResetSummary(convID string) error {
	var err error
	o.withConvLock(convID, func() {
		err = o.store.ResetSummary(convID)
	})
	if err == nil {
		o.publishRaw(events.EventCacheInvalidated, convID, events.CacheInvalidatedPayload{Reason: "summary_reset"})
	}
	return err
}

// checkLayer1Drift compares this turn's Layer 1 (system+documents) block
// against the one built for the conversation's previous turn. A change here
// means the provider's cached prefix no longer matches, so every cache-read
// saving on Layer 1 is lost for this turn — not a failure, just a fact worth
// surfacing, since the caller has no other way to notice it. Doesn't block
// the turn: it only logs and publishes, then moves on.
func (o *Orchestrator) checkLayer1Drift(convID string, req *contextbuilder.Request) {
	if len(req.System) == 0 {
		return
	}
	current := req.System[0]

	o.layer1Mu.Lock()
	prev, seen := o.lastLayer1[convID]
	o.lastLayer1[convID] = current
	o.layer1Mu.Unlock()

	if !seen || !contextbuilder.Diff(prev, current) {
		return
	}

	slog.Warn("orchestrator: layer 1 changed since last turn, cache prefix invalidated", "conversation_id", convID)
	o.publishRaw(events.EventCacheInvalidated, convID, events.CacheInvalidatedPayload{Reason: "layer1_mutated"})
}

// Send runs one foreground turn to completion: Building assembles the
// four-layer request, Streaming drives ApiClient.Chat and republishes its
// deltas on the bus, Finalising commits the assistant message, costs it,
// and enqueues the conversation for the compression worker, which only
// compresses once the project's threshold is crossed. It returns the
// committed assistant message, or an error if building the request or the
// stream fails; a cancelled stream still returns its partial message
// (§4.6/§5).
func (o *Orchestrator) Send(ctx context.Context, convID, userText string) (*store.Message, error) {
	o.setState(convID, StateBuilding)
	defer o.setState(convID, StateIdle)

	conv, err := o.store.GetConversation(convID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load conversation: %w", err)
	}
	project, err := o.store.GetProject(conv.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load project: %w", err)
	}
	docs, err := o.store.ListDocuments(project.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load documents: %w", err)
	}
	history, err := o.store.GetMessages(convID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load history: %w", err)
	}

	o.publishRaw(events.EventTurnBuilding, convID, nil)

	model := project.DefaultModel
	if conv.ModelOverride != "" {
		model = conv.ModelOverride
	}
	builder := contextbuilder.New(o.tracker.ContextWindow(model))

	req, err := builder.Build(project, docs, conv, history, userText)
	if err != nil {
		o.failTurn(convID, "context_too_large", err)
		return nil, err
	}
	o.checkLayer1Drift(convID, req)

	userMsg := &store.Message{ConvID: convID, Role: store.RoleUser, Content: userText}
	if err := o.store.AppendMessage(userMsg); err != nil {
		return nil, fmt.Errorf("orchestrator: append user message: %w", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	turnCtx = events.ContextWithConversationID(turnCtx, convID)
	o.activeMu.Lock()
	o.activeCancels[convID] = cancel
	o.activeMu.Unlock()
	defer func() {
		o.activeMu.Lock()
		delete(o.activeCancels, convID)
		o.activeMu.Unlock()
		cancel()
	}()

	o.setState(convID, StateStreaming)
	o.publishRaw(events.EventTurnStreaming, convID, nil)

	sink := make(chan apiclient.Event, 32)
	var text, thinking strings.Builder
	var usage store.Usage

	// The sink-draining loop runs under errgroup while Chat runs on this
	// goroutine: the Chat call and the goroutine turning its deltas into bus
	// events must both finish (in either order of internal completion)
	// before Send moves on to Finalising.
	var g errgroup.Group
	g.Go(func() error {
		for ev := range sink {
			switch ev.Kind {
			case apiclient.EventTextDelta:
				text.WriteString(ev.Text)
				o.publishTyped(convID, events.ResponseDeltaPayload{Text: ev.Text})
			case apiclient.EventThinkingDelta:
				thinking.WriteString(ev.Text)
				o.publishTyped(convID, events.ResponseDeltaPayload{Thinking: true, Text: ev.Text})
			}
		}
		return nil
	})

	var chatErr error
	usage, chatErr = o.api.Chat(turnCtx, req, model, 0, sink)
	close(sink)
	g.Wait()

	o.setState(convID, StateFinalising)
	slog.Debug("orchestrator: turn finalising", "conversation_id", events.ConversationIDFromContext(turnCtx))

	cancelled := errors.Is(chatErr, apiclient.ErrStreamCancelled) || errors.Is(chatErr, context.Canceled)
	if chatErr != nil && !cancelled {
		o.failTurn(convID, reasonFor(chatErr), chatErr)
		return nil, chatErr
	}

	assistantMsg := &store.Message{
		ConvID:    convID,
		Role:      store.RoleAssistant,
		Content:   text.String(),
		Thinking:  thinking.String(),
		ModelUsed: model,
	}
	if !cancelled {
		assistantMsg.Usage = usage
		cost := o.tracker.Cost(model, usage, project.Settings.CacheTTL)
		assistantMsg.CostUSD = &cost
	}

	o.withConvLock(convID, func() {
		err = o.store.AppendMessage(assistantMsg)
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: append assistant message: %w", err)
	}

	payload := events.ResponseCompletePayload{
		MessageID:           assistantMsg.ID,
		Cancelled:           cancelled,
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CacheReadTokens:     usage.CacheReadTokens,
		CacheCreationTokens: usage.CacheCreationTokens,
	}
	if assistantMsg.CostUSD != nil {
		payload.CostUSD = *assistantMsg.CostUSD
	}
	o.publishTyped(convID, payload)

	o.maybeScheduleCompression(convID)
	return assistantMsg, nil
}

func (o *Orchestrator) failTurn(convID, reason string, err error) {
	o.publishTyped(convID, events.TurnFailedPayload{Reason: reason, Error: err.Error()})
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, apiclient.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, apiclient.ErrContextTooLong):
		return "context_too_large"
	case errors.Is(err, apiclient.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, apiclient.ErrModelUnknown):
		return "model_unknown"
	case errors.Is(err, apiclient.ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}

// maybeScheduleCompression enqueues convID onto the background worker's
// FIFO, deduplicated by ID: an already-queued or in-flight conversation is
// a no-op (§4.6). Queue-full is likewise a silent no-op — the next turn on
// this conversation will try again.
func (o *Orchestrator) maybeScheduleCompression(convID string) {
	o.queueMu.Lock()
	defer o.queueMu.Unlock()

	if o.queued[convID] || o.inFlight[convID] {
		return
	}

	select {
	case o.queue <- convID:
		o.queued[convID] = true
		o.publishRaw(events.EventCompressionQueued, convID, nil)
	default:
		slog.Warn("orchestrator: compression queue full, dropping enqueue", "conversation_id", convID)
	}
}

// runCompressionWorker is the single dedicated goroutine that drains the
// compression queue. It never blocks the foreground: Send never waits on
// it and Chat never acquires compressSem. A failed compression, a
// rate-limit included, is neither retried nor re-queued here; the next
// turn's enqueue tries the conversation again (§4.5, §5, §4.6).
func (o *Orchestrator) runCompressionWorker() {
	for {
		select {
		case convID := <-o.queue:
			o.queueMu.Lock()
			delete(o.queued, convID)
			o.inFlight[convID] = true
			o.queueMu.Unlock()

			o.compressOne(convID)

			o.queueMu.Lock()
			delete(o.inFlight, convID)
			o.queueMu.Unlock()
		case <-o.done:
			return
		}
	}
}

// compressOne runs one compression cycle for a conversation: it recomputes
// the plan against current state (another turn may have landed since this
// ID was enqueued), calls the Compressor, and commits under the
// conversation's write lock. Any failure — plan now empty, summarize
// error, or a stale cutoff raced by a newer compression — leaves
// conversation state untouched, matching Compressor's own failure policy
// (§4.4, §7).
func (o *Orchestrator) compressOne(convID string) {
	conv, err := o.store.GetConversation(convID)
	if err != nil {
		return
	}
	project, err := o.store.GetProject(conv.ProjectID)
	if err != nil {
		return
	}
	messages, err := o.store.GetMessages(convID)
	if err != nil {
		return
	}

	plan := compress.Plan(project.Settings, conv, messages)
	if plan == nil {
		return
	}

	o.publishRaw(events.EventCompressionStarted, convID, nil)

	summary, tokenCount, err := o.compressor.Run(context.Background(), project.Name, conv.RollingSummary, plan.Turns)
	if err != nil {
		o.publishTyped(convID, events.CompressionFailedPayload{Error: err.Error()})
		return
	}

	o.withConvLock(convID, func() {
		err = o.store.UpdateSummary(convID, summary, plan.CutoffID, tokenCount)
	})
	if err != nil {
		if errors.Is(err, store.ErrStaleCutoff) {
			// A newer compression already landed for this conversation;
			// nothing to do, the committed summary is already current.
			return
		}
		o.publishTyped(convID, events.CompressionFailedPayload{Error: err.Error()})
		return
	}

	o.publishTyped(convID, events.SummaryUpdatedPayload{
		CutoffMessageID: plan.CutoffID,
		SummaryTokens:   tokenCount,
		TurnsCompressed: len(plan.Turns),
	})
}

// withConvLock serialises Store writes for one conversation: AppendMessage
// and UpdateSummary must never interleave out of order for the same
// conversation (§5). Locks are created lazily and never removed — their
// number is bounded by the number of conversations ever touched in this
// process's lifetime, which is small for a desktop client.
func (o *Orchestrator) withConvLock(convID string, fn func()) {
	o.convLocksMu.Lock()
	l, ok := o.convLocks[convID]
	if !ok {
		l = &sync.Mutex{}
		o.convLocks[convID] = l
	}
	o.convLocksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	fn()
}

func (o *Orchestrator) publishRaw(t events.EventType, convID string, payload map[string]any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewEventWithSession(t, events.SourceOrchestrator, payload, convID))
}

func (o *Orchestrator) publishTyped(convID string, payload events.EventPayload) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.NewTypedEventWithConversation(events.SourceOrchestrator, payload, convID))
}
