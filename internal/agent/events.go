package agent

import (
	"log/slog"
	"sync"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// EventKind is the closed taxonomy of scheduler lifecycle events (spec
// §4.9, C11).
type EventKind string

const (
	KindRoundStart         EventKind = "round_start"
	KindText               EventKind = "text"
	KindTextDelta          EventKind = "text_delta"
	KindReasoning          EventKind = "reasoning"
	KindReasoningDelta     EventKind = "reasoning_delta"
	KindToolCallsReceived  EventKind = "tool_calls_received"
	KindToolExecuting      EventKind = "tool_executing"
	KindToolResult         EventKind = "tool_result"
	KindToolCacheHit       EventKind = "tool_cache_hit"
	KindTokenUsage         EventKind = "token_usage"
	KindEviction           EventKind = "eviction"
	KindCompaction         EventKind = "compaction"
	KindPreCompaction      EventKind = "pre_compaction"
	KindModelRouted        EventKind = "model_routed"
	KindCheckpointSaved    EventKind = "checkpoint_saved"
	KindCheckpointResumed  EventKind = "checkpoint_resumed"
	KindEmptyResponse      EventKind = "empty_response"
	KindApprovalRequired   EventKind = "approval_required"
	KindPhaseTransition    EventKind = "phase_transition"
	KindPlanSubmitted      EventKind = "plan_submitted"
	KindFinished           EventKind = "finished"
	KindRoundLimitReached  EventKind = "round_limit_reached"
)

// Event is implemented by every concrete event struct below. Handlers type
// switch on the concrete type (or branch on Kind()) to react selectively.
type Event interface {
	Kind() EventKind
}

type RoundStartEvent struct {
	Round         int
	UsageFraction float64
}

func (RoundStartEvent) Kind() EventKind { return KindRoundStart }

type TextEvent struct{ Text string }

func (TextEvent) Kind() EventKind { return KindText }

type TextDeltaEvent struct{ Delta string }

func (TextDeltaEvent) Kind() EventKind { return KindTextDelta }

type ReasoningEvent struct{ Text string }

func (ReasoningEvent) Kind() EventKind { return KindReasoning }

type ReasoningDeltaEvent struct{ Delta string }

func (ReasoningDeltaEvent) Kind() EventKind { return KindReasoningDelta }

type ToolCallsReceivedEvent struct{ Calls []harness.ToolCall }

func (ToolCallsReceivedEvent) Kind() EventKind { return KindToolCallsReceived }

type ToolExecutingEvent struct {
	Name   string
	CallID string
}

func (ToolExecutingEvent) Kind() EventKind { return KindToolExecuting }

type ToolResultEvent struct {
	Name   string
	CallID string
	Result string
}

func (ToolResultEvent) Kind() EventKind { return KindToolResult }

type ToolCacheHitEvent struct {
	Name   string
	CallID string
	Result string
}

func (ToolCacheHitEvent) Kind() EventKind { return KindToolCacheHit }

type TokenUsageEvent struct{ Usage harness.Usage }

func (TokenUsageEvent) Kind() EventKind { return KindTokenUsage }

type EvictionEvent struct {
	FreedChars   int
	ClearedCount int
}

func (EvictionEvent) Kind() EventKind { return KindEviction }

type CompactionEvent struct{ Summary string }

func (CompactionEvent) Kind() EventKind { return KindCompaction }

type PreCompactionEvent struct{}

func (PreCompactionEvent) Kind() EventKind { return KindPreCompaction }

type ModelRoutedEvent struct{ Model string }

func (ModelRoutedEvent) Kind() EventKind { return KindModelRouted }

type CheckpointSavedEvent struct{ Path string }

func (CheckpointSavedEvent) Kind() EventKind { return KindCheckpointSaved }

type CheckpointResumedEvent struct{ Round int }

func (CheckpointResumedEvent) Kind() EventKind { return KindCheckpointResumed }

type EmptyResponseEvent struct{ Attempt int }

func (EmptyResponseEvent) Kind() EventKind { return KindEmptyResponse }

type ApprovalRequiredEvent struct {
	Name   string
	CallID string
	Args   string
}

func (ApprovalRequiredEvent) Kind() EventKind { return KindApprovalRequired }

type PhaseTransitionEvent struct {
	From Phase
	To   Phase
}

func (PhaseTransitionEvent) Kind() EventKind { return KindPhaseTransition }

type PlanSubmittedEvent struct{ Summary string }

func (PlanSubmittedEvent) Kind() EventKind { return KindPlanSubmitted }

type FinishedEvent struct{}

func (FinishedEvent) Kind() EventKind { return KindFinished }

type RoundLimitReachedEvent struct{}

func (RoundLimitReachedEvent) Kind() EventKind { return KindRoundLimitReached }

// ResponseKind tags an EventResponse's meaning.
type ResponseKind string

const (
	ResponseApprove       ResponseKind = "approve"
	ResponseDeny          ResponseKind = "deny"
	ResponseInjectMessage ResponseKind = "inject_message"
)

// EventResponse is the only value handlers may return, and only
// ApprovalRequired consults it.
type EventResponse struct {
	Kind   ResponseKind
	Reason string // set when Kind == ResponseDeny
	Text   string // set when Kind == ResponseInjectMessage
}

// Approve, Deny, and InjectMessage construct the three response variants.
func Approve() *EventResponse                { return &EventResponse{Kind: ResponseApprove} }
func Deny(reason string) *EventResponse       { return &EventResponse{Kind: ResponseDeny, Reason: reason} }
func InjectMessage(text string) *EventResponse { return &EventResponse{Kind: ResponseInjectMessage, Text: text} }

// Handler observes scheduler events. OnEvent's return value is ignored for
// every event except ApprovalRequired, where a composite chain stops at
// the first non-nil response.
type Handler interface {
	OnEvent(event Event) *EventResponse
}

// NoopHandler observes nothing and always returns nil.
type NoopHandler struct{}

func (NoopHandler) OnEvent(Event) *EventResponse { return nil }

// FuncHandler adapts a plain function to Handler.
type FuncHandler func(Event) *EventResponse

func (f FuncHandler) OnEvent(e Event) *EventResponse { return f(e) }

// Observer wraps a pure side-effecting function that never answers
// ApprovalRequired — it always returns nil, regardless of what the wrapped
// function does.
type Observer struct {
	Fn func(Event)
}

func (o Observer) OnEvent(e Event) *EventResponse {
	if o.Fn != nil {
		o.Fn(e)
	}
	return nil
}

// CompositeHandler dispatches to inner handlers in registration order and
// short-circuits on the first non-nil response (spec §4.9).
type CompositeHandler struct {
	handlers []Handler
}

// NewCompositeHandler builds a composite from the given handlers, in order.
func NewCompositeHandler(handlers ...Handler) *CompositeHandler {
	return &CompositeHandler{handlers: append([]Handler(nil), handlers...)}
}

// With appends a handler unconditionally.
func (c *CompositeHandler) With(h Handler) *CompositeHandler {
	c.handlers = append(c.handlers, h)
	return c
}

// WithIf appends a handler only when cond is true — convenient for
// optionally wiring a handler based on config.
func (c *CompositeHandler) WithIf(cond bool, h Handler) *CompositeHandler {
	if cond {
		c.handlers = append(c.handlers, h)
	}
	return c
}

// WithOpt appends h only if it is non-nil.
func (c *CompositeHandler) WithOpt(h Handler) *CompositeHandler {
	if h != nil {
		c.handlers = append(c.handlers, h)
	}
	return c
}

func (c *CompositeHandler) OnEvent(e Event) *EventResponse {
	for _, h := range c.handlers {
		if resp := h.OnEvent(e); resp != nil {
			return resp
		}
	}
	return nil
}

// LoggingHandler logs every event at debug level via slog and auto-approves
// ApprovalRequired events it sees (a convenience default for unattended
// runs; compose it after a real approval handler to keep approvals
// meaningful).
type LoggingHandler struct {
	Logger *slog.Logger
}

func NewLoggingHandler(logger *slog.Logger) *LoggingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHandler{Logger: logger}
}

func (l *LoggingHandler) OnEvent(e Event) *EventResponse {
	l.Logger.Debug("harness event", "kind", e.Kind())
	if _, ok := e.(ApprovalRequiredEvent); ok {
		return Approve()
	}
	return nil
}

// ToolResultHandler dispatches ToolResultEvent and ToolCacheHitEvent to a
// per-tool-name callback table.
type ToolResultHandler struct {
	callbacks map[string]func(name, callID, result string)
}

func NewToolResultHandler() *ToolResultHandler {
	return &ToolResultHandler{callbacks: map[string]func(name, callID, result string){}}
}

func (h *ToolResultHandler) On(toolName string, fn func(name, callID, result string)) *ToolResultHandler {
	h.callbacks[toolName] = fn
	return h
}

func (h *ToolResultHandler) OnEvent(e Event) *EventResponse {
	switch ev := e.(type) {
	case ToolResultEvent:
		if fn, ok := h.callbacks[ev.Name]; ok {
			fn(ev.Name, ev.CallID, ev.Result)
		}
	case ToolCacheHitEvent:
		if fn, ok := h.callbacks[ev.Name]; ok {
			fn(ev.Name, ev.CallID, ev.Result)
		}
	}
	return nil
}

// StatefulToolResultHandler is a ToolResultHandler variant whose callbacks
// share one mutex-guarded state value, mirroring the teacher's
// auto-shared-mutex-state observer pattern.
type StatefulToolResultHandler[S any] struct {
	mu        sync.Mutex
	state     S
	callbacks map[string]func(state *S, name, callID, result string)
}

func NewStatefulToolResultHandler[S any](initial S) *StatefulToolResultHandler[S] {
	return &StatefulToolResultHandler[S]{
		state:     initial,
		callbacks: map[string]func(state *S, name, callID, result string){},
	}
}

func (h *StatefulToolResultHandler[S]) On(toolName string, fn func(state *S, name, callID, result string)) *StatefulToolResultHandler[S] {
	h.callbacks[toolName] = fn
	return h
}

func (h *StatefulToolResultHandler[S]) State() S {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *StatefulToolResultHandler[S]) OnEvent(e Event) *EventResponse {
	var name, callID, result string
	switch ev := e.(type) {
	case ToolResultEvent:
		name, callID, result = ev.Name, ev.CallID, ev.Result
	case ToolCacheHitEvent:
		name, callID, result = ev.Name, ev.CallID, ev.Result
	default:
		return nil
	}
	fn, ok := h.callbacks[name]
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.state, name, callID, result)
	return nil
}
