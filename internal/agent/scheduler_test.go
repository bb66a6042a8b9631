package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/cinch/internal/tool"
	"github.com/haasonsaas/cinch/pkg/harness"
)

type scriptedClient struct {
	responses []harness.Completion
	calls     int
}

func (c *scriptedClient) Chat(ctx context.Context, req harness.ChatRequest) (harness.Completion, error) {
	if c.calls >= len(c.responses) {
		return harness.Completion{}, nil
	}
	resp := c.responses[c.calls]
	c.calls++
	return resp, nil
}

func (c *scriptedClient) ChatStream(ctx context.Context, req harness.ChatRequest, sink harness.EventSink) (harness.Completion, error) {
	return c.Chat(ctx, req)
}

// TestScheduler_HappyPath reproduces spec scenario S1: no tools, a single
// round, content-only response terminates naturally.
func TestScheduler_HappyPath(t *testing.T) {
	client := &scriptedClient{responses: []harness.Completion{
		{Content: "hi", Usage: &harness.Usage{PromptTokens: 10, CompletionTokens: 2}},
	}}
	cfg := DefaultHarnessConfig().WithMaxRounds(2)
	sched := NewScheduler(cfg, client, nil, nil, nil, nil, nil, "You are helpful.")

	result, err := sched.Run(context.Background(), "Say hi.")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Accumulator.Finished {
		t.Fatal("expected natural termination")
	}
	if result.Accumulator.RoundsUsed != 1 {
		t.Fatalf("rounds used = %d, want 1", result.Accumulator.RoundsUsed)
	}
	if len(result.Accumulator.Text) != 1 || result.Accumulator.Text[0] != "hi" {
		t.Fatalf("unexpected text: %v", result.Accumulator.Text)
	}
}

type echoTool struct{}

func (echoTool) Definition() harness.ToolDefinition {
	return harness.ToolDefinition{
		Name:        "echo",
		Description: "echoes its text argument",
		Parameters:  []byte(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
	}
}

func (echoTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	var doc struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &doc); err != nil {
		return "", err
	}
	return doc.Text, nil
}

// TestScheduler_SingleTool reproduces spec scenario S2: one tool call then
// a content-only termination, with ToolExecuting preceding ToolResult.
func TestScheduler_SingleTool(t *testing.T) {
	registry := tool.NewRegistry(tool.DefaultRegistryConfig())
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}

	client := &scriptedClient{responses: []harness.Completion{
		{ToolCalls: []harness.ToolCall{{ID: "call-1", Name: "echo", Arguments: `{"text":"x"}`}}},
		{Content: "done"},
	}}

	var order []string
	handler := FuncHandler(func(e Event) *EventResponse {
		switch e.(type) {
		case ToolExecutingEvent:
			order = append(order, "executing")
		case ToolResultEvent:
			order = append(order, "result")
		}
		return nil
	})

	cfg := DefaultHarnessConfig().WithMaxRounds(4)
	sched := NewScheduler(cfg, client, registry, nil, handler, nil, nil, "You are helpful.")

	result, err := sched.Run(context.Background(), "echo 'x' then stop.")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Accumulator.Finished {
		t.Fatal("expected natural termination")
	}
	if result.Accumulator.RoundsUsed != 2 {
		t.Fatalf("rounds used = %d, want 2", result.Accumulator.RoundsUsed)
	}
	if len(order) != 2 || order[0] != "executing" || order[1] != "result" {
		t.Fatalf("unexpected event order: %v", order)
	}
}
