// Package harness defines the wire-level data model shared by every
// component of the agent loop: messages, tool calls, tool definitions, and
// the external chat-completion transport contract. Nothing in this package
// depends on the scheduler, the context layout, or any concrete tool —
// it is the vocabulary everything else is built from.
package harness

import (
	"context"
	"encoding/json"
	"fmt"
)

// Role tags the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one unit of conversation. Assistant messages carry either
// Content or ToolCalls (or both); tool messages carry both CallID and
// Content; system/user messages carry Content.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// CallID references the ToolCall.ID this message answers. Set only
	// when Role == RoleTool.
	CallID string `json:"call_id,omitempty"`
}

// System returns a system-role message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user-role message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant returns an assistant-role message with text content only.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// AssistantToolCalls returns an assistant-role message carrying tool calls,
// with optional accompanying text.
func AssistantToolCalls(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult returns a tool-role message answering callID.
func ToolResult(callID, content string) Message {
	return Message{Role: RoleTool, CallID: callID, Content: content}
}

// IsEvicted reports whether this message's content has been replaced by an
// eviction placeholder (see internal/agentctx).
func (m Message) IsEvicted() bool {
	const evictedPrefix = "[Cleared:"
	return len(m.Content) >= len(evictedPrefix) && m.Content[:len(evictedPrefix)] == evictedPrefix
}

// ToolCall is a model-requested invocation of a named capability. Arguments
// is the raw, unparsed JSON document the model produced — parsing is the
// tool's responsibility, not the harness's.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DependsOn extracts an optional `depends_on` field from the call's raw
// arguments, naming another call id in the same round that must complete
// first. Returns "" if absent or if Arguments is not valid JSON.
func (tc ToolCall) DependsOn() string {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(tc.Arguments), &parsed); err != nil {
		return ""
	}
	if v, ok := parsed["depends_on"].(string); ok {
		return v
	}
	return ""
}

// ToolDefinition advertises a tool's capability contract to the model:
// name, description, and a JSON-Schema parameter document, plus the two
// dispatch-relevant flags Cacheable and Mutation.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	// Cacheable marks a read-only, deterministic-over-its-arguments tool
	// whose results may be served from the tool cache.
	Cacheable bool `json:"cacheable"`
	// Mutation marks a tool whose execution may invalidate other cached
	// results by changing external state.
	Mutation bool `json:"mutation"`
}

// Usage carries token accounting for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Annotation is an opaque citation or reference attached to a completion by
// the transport (e.g. a web-search result). The harness passes these
// through without interpreting them.
type Annotation struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// ReasoningConfig requests extended/visible reasoning from a model that
// supports it. A nil pointer in ChatRequest means "not requested".
type ReasoningConfig struct {
	Effort string `json:"effort,omitempty"`
}

// ChatRequest is the harness's half of the external chat-completion
// transport contract (spec §6). The transport's own retry/backoff, SSE
// parsing, and HTTP plumbing are out of scope here — this is only the
// shape of what crosses the boundary.
type ChatRequest struct {
	Model            string           `json:"model,omitempty"`
	ModelFallbacks   []string         `json:"model_fallbacks,omitempty"`
	Messages         []Message        `json:"messages"`
	MaxTokens        int              `json:"max_tokens,omitempty"`
	Temperature      float64          `json:"temperature,omitempty"`
	Tools            []ToolDefinition `json:"tools,omitempty"`
	Reasoning        *ReasoningConfig `json:"reasoning,omitempty"`
	ResponseFormat   string           `json:"response_format,omitempty"`
}

// Completion is the transport's synchronous reply.
type Completion struct {
	Content      string       `json:"content,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        *Usage       `json:"usage,omitempty"`
	Annotations  []Annotation `json:"annotations,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Reasoning    string       `json:"reasoning,omitempty"`
}

// StreamEventKind tags a StreamEvent's payload.
type StreamEventKind string

const (
	StreamTextDelta      StreamEventKind = "text_delta"
	StreamReasoningDelta StreamEventKind = "reasoning_delta"
	StreamToolCallDelta  StreamEventKind = "tool_call_delta"
	StreamUsage          StreamEventKind = "usage"
	StreamDone           StreamEventKind = "done"
)

// ToolCallDelta is one fragment of a streamed tool call, keyed by Index so
// fragments can be reassembled regardless of arrival order (see
// AssembleToolCalls).
type ToolCallDelta struct {
	Index            int
	ID               *string
	Name             *string
	ArgumentFragment string
}

// StreamEvent is one item produced by ChatClient.ChatStream. Exactly one of
// the payload fields is meaningful, selected by Kind.
type StreamEvent struct {
	Kind          StreamEventKind
	TextDelta     string
	ReasoningDelta string
	ToolCallDelta  ToolCallDelta
	Usage          *Usage
}

// EventSink receives StreamEvents as they arrive. Implementations must not
// block the caller for long; the transport may be driving this from a
// network read loop.
type EventSink func(StreamEvent)

// ChatClient is the external chat-completion transport contract (spec §6).
// The harness never constructs requests against a concrete provider
// directly; it is always handed a ChatClient. Implementations must be safe
// for concurrent use by multiple in-flight rounds (e.g. parallel sub-agent
// children sharing one client).
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (Completion, error)
	ChatStream(ctx context.Context, req ChatRequest, sink EventSink) (Completion, error)
}

// AssembleToolCalls reassembles a complete set of ToolCalls from an ordered
// sequence of ToolCallDelta fragments, accumulating by Index. Id and Name
// latch on first appearance; ArgumentFragment concatenates. Entries still
// missing an id or a name once the stream completes are dropped (spec §6).
func AssembleToolCalls(deltas []ToolCallDelta) []ToolCall {
	type slot struct {
		id   string
		name string
		args string
		seen bool
	}
	order := []int{}
	slots := map[int]*slot{}
	for _, d := range deltas {
		s, ok := slots[d.Index]
		if !ok {
			s = &slot{}
			slots[d.Index] = s
			order = append(order, d.Index)
		}
		s.seen = true
		if d.ID != nil {
			s.id = *d.ID
		}
		if d.Name != nil {
			s.name = *d.Name
		}
		s.args += d.ArgumentFragment
	}
	out := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		s := slots[idx]
		if s.id == "" || s.name == "" {
			continue
		}
		out = append(out, ToolCall{ID: s.id, Name: s.name, Arguments: s.args})
	}
	return out
}

// errUnknownStreamEvent builds the error for a StreamEventKind value outside
// the closed set above.
func errUnknownStreamEvent(kind StreamEventKind) error {
	return fmt.Errorf("harness: unknown stream event kind %q", kind)
}
