package agent

import (
	"context"
	"testing"

	"github.com/haasonsaas/cinch/internal/agentctx"
	"github.com/haasonsaas/cinch/internal/tool"
	"github.com/haasonsaas/cinch/pkg/harness"
)

type readTool struct{ calls *int }

func (readTool) Definition() harness.ToolDefinition {
	return harness.ToolDefinition{
		Name:        "read",
		Description: "reads a path",
		Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		Cacheable:   true,
	}
}

func (r readTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	*r.calls++
	if *r.calls == 1 {
		return "A", nil
	}
	return "B", nil
}

type noopTool struct{}

func (noopTool) Definition() harness.ToolDefinition {
	return harness.ToolDefinition{
		Name:        "noop",
		Description: "does nothing",
		Parameters:  []byte(`{"type":"object","properties":{}}`),
	}
}

func (noopTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	return "noop-done", nil
}

type writeTool struct{}

func (writeTool) Definition() harness.ToolDefinition {
	return harness.ToolDefinition{
		Name:        "write",
		Description: "writes a path",
		Parameters:  []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		Mutation:    true,
	}
}

func (writeTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	return "ok", nil
}

// TestScheduler_CacheHit reproduces spec scenario S3: a cacheable read
// called twice with identical arguments executes once; the second call is
// served from cache and emits ToolCacheHit instead of ToolExecuting.
func TestScheduler_CacheHit(t *testing.T) {
	execCount := 0
	registry := tool.NewRegistry(tool.DefaultRegistryConfig())
	if err := registry.Register(readTool{calls: &execCount}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(noopTool{}); err != nil {
		t.Fatal(err)
	}

	// Round 2 calls an unrelated tool so the run reaches round 3 without
	// terminating naturally, matching spec §8 S3's "round 3 calls same
	// args" framing (the intervening round is otherwise irrelevant).
	client := &scriptedClient{responses: []harness.Completion{
		{ToolCalls: []harness.ToolCall{{ID: "c1", Name: "read", Arguments: `{"path":"a"}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c1b", Name: "noop", Arguments: `{}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c2", Name: "read", Arguments: `{"path":"a"}`}}},
		{Content: "done"},
	}}

	var events []string
	handler := FuncHandler(func(e Event) *EventResponse {
		switch e.(type) {
		case ToolExecutingEvent:
			events = append(events, "executing")
		case ToolCacheHitEvent:
			events = append(events, "cache_hit")
		}
		return nil
	})

	cfg := DefaultHarnessConfig().WithMaxRounds(6)
	sched := NewScheduler(cfg, client, registry, nil, handler, nil, nil, "You are helpful.")

	// Force a round gap so the cached entry survives into round 3.
	if _, err := sched.Run(context.Background(), "read a twice."); err != nil {
		t.Fatal(err)
	}

	if execCount != 1 {
		t.Fatalf("underlying execute ran %d times, want 1", execCount)
	}
	// ToolExecuting fires for the read in round 1 and the noop in round 2;
	// the round-3 read resolves from cache and emits ToolCacheHit instead.
	want := []string{"executing", "executing", "cache_hit"}
	if len(events) != len(want) {
		t.Fatalf("unexpected event sequence: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("unexpected event sequence: %v", events)
		}
	}
}

// TestScheduler_MutationInvalidatesCache reproduces spec scenario S4: a
// mutation tool clears the cache, so a subsequent identical read re-runs.
func TestScheduler_MutationInvalidatesCache(t *testing.T) {
	execCount := 0
	registry := tool.NewRegistry(tool.DefaultRegistryConfig())
	if err := registry.Register(readTool{calls: &execCount}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(writeTool{}); err != nil {
		t.Fatal(err)
	}

	client := &scriptedClient{responses: []harness.Completion{
		{ToolCalls: []harness.ToolCall{{ID: "c1", Name: "read", Arguments: `{"path":"a"}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c2", Name: "write", Arguments: `{"path":"a"}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c3", Name: "read", Arguments: `{"path":"a"}`}}},
		{Content: "done"},
	}}

	var events []string
	handler := FuncHandler(func(e Event) *EventResponse {
		switch e.(type) {
		case ToolExecutingEvent:
			events = append(events, "executing")
		case ToolCacheHitEvent:
			events = append(events, "cache_hit")
		}
		return nil
	})

	cfg := DefaultHarnessConfig().WithMaxRounds(6)
	sched := NewScheduler(cfg, client, registry, nil, handler, nil, nil, "You are helpful.")

	if _, err := sched.Run(context.Background(), "read, write, read again."); err != nil {
		t.Fatal(err)
	}

	if execCount != 2 {
		t.Fatalf("underlying read executed %d times, want 2 (cache invalidated by write)", execCount)
	}
	// read, write, read: three ToolExecuting events, never a cache hit.
	for _, e := range events {
		if e == "cache_hit" {
			t.Fatalf("unexpected cache hit after mutation: %v", events)
		}
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 executing events, got %v", events)
	}
}

// TestScheduler_Eviction reproduces spec scenario S5: oversized tool
// results trigger eviction once usage crosses the critical threshold,
// replacing old tool results with placeholders and freeing characters.
func TestScheduler_Eviction(t *testing.T) {
	registry := tool.NewRegistry(tool.DefaultRegistryConfig())

	bigResult := make([]byte, 3500)
	for i := range bigResult {
		bigResult[i] = 'x'
	}

	dump := dumpTool{result: string(bigResult)}
	if err := registry.Register(dump); err != nil {
		t.Fatal(err)
	}

	responses := []harness.Completion{
		{ToolCalls: []harness.ToolCall{{ID: "c1", Name: "dump", Arguments: `{}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c2", Name: "dump", Arguments: `{}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c3", Name: "dump", Arguments: `{}`}}},
		{Content: "round4"},
		{Content: "round5"},
		{Content: "done"},
	}
	client := &scriptedClient{responses: responses}

	var freedTotal int
	var evictionFired bool
	handler := FuncHandler(func(e Event) *EventResponse {
		if ev, ok := e.(EvictionEvent); ok {
			evictionFired = true
			freedTotal += ev.FreedChars
		}
		return nil
	})

	cfg := DefaultHarnessConfig()
	cfg.MaxTokens = 1000
	cfg.OutputReserve = 0
	cfg.SystemReserve = 0
	cfg.Eviction = agentctx.DefaultEvictionConfig()
	cfg.Eviction.MinAgeRounds = 1
	cfg = cfg.WithMaxRounds(8)
	sched := NewScheduler(cfg, client, registry, nil, handler, nil, nil, "You are helpful.")

	if _, err := sched.Run(context.Background(), "dump three times then stop."); err != nil {
		t.Fatal(err)
	}
	if !evictionFired {
		t.Fatal("expected at least one eviction event")
	}
	if freedTotal <= 0 {
		t.Fatalf("expected freed chars > 0, got %d", freedTotal)
	}
}

type dumpTool struct{ result string }

func (dumpTool) Definition() harness.ToolDefinition {
	return harness.ToolDefinition{
		Name:        "dump",
		Description: "returns a large blob",
		Parameters:  []byte(`{"type":"object","properties":{}}`),
	}
}

func (d dumpTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	return d.result, nil
}

// TestScheduler_DependencyWaveOrdering reproduces spec scenario S6: calls
// {a (no deps), b depends_on a, c depends_on a, d depends_on b} execute in
// waves [[a],[b,c],[d]], with ToolExecuting firing in wave order.
func TestScheduler_DependencyWaveOrdering(t *testing.T) {
	registry := tool.NewRegistry(tool.DefaultRegistryConfig())
	for _, name := range []string{"a", "b", "c", "d"} {
		if err := registry.Register(echoNamedTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}

	client := &scriptedClient{responses: []harness.Completion{
		{ToolCalls: []harness.ToolCall{
			{ID: "a", Name: "a", Arguments: `{}`},
			{ID: "b", Name: "b", Arguments: `{"depends_on":"a"}`},
			{ID: "c", Name: "c", Arguments: `{"depends_on":"a"}`},
			{ID: "d", Name: "d", Arguments: `{"depends_on":"b"}`},
		}},
		{Content: "done"},
	}}

	var executingOrder []string
	handler := FuncHandler(func(e Event) *EventResponse {
		if ev, ok := e.(ToolExecutingEvent); ok {
			executingOrder = append(executingOrder, ev.Name)
		}
		return nil
	})

	cfg := DefaultHarnessConfig().WithMaxRounds(3)
	sched := NewScheduler(cfg, client, registry, nil, handler, nil, nil, "You are helpful.")

	result, err := sched.Run(context.Background(), "run the dag.")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Accumulator.Finished {
		t.Fatal("expected natural termination")
	}

	if len(executingOrder) != 4 {
		t.Fatalf("expected 4 executing events, got %v", executingOrder)
	}
	if executingOrder[0] != "a" {
		t.Fatalf("wave 1 should start with a, got %v", executingOrder)
	}
	wave2 := map[string]bool{executingOrder[1]: true, executingOrder[2]: true}
	if !wave2["b"] || !wave2["c"] {
		t.Fatalf("wave 2 should contain b and c, got %v", executingOrder[1:3])
	}
	if executingOrder[3] != "d" {
		t.Fatalf("wave 3 should end with d, got %v", executingOrder)
	}
}

type echoNamedTool struct{ name string }

func (e echoNamedTool) Definition() harness.ToolDefinition {
	return harness.ToolDefinition{
		Name:        e.name,
		Description: "dag test tool",
		Parameters:  []byte(`{"type":"object","properties":{"depends_on":{"type":"string"}}}`),
	}
}

func (e echoNamedTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	return e.name + "-done", nil
}

// TestScheduler_PlanExecuteTransition reproduces spec scenario S7:
// planning phase restricts the tool set, submit_plan triggers a phase
// transition to executing with the full tool set and an injected prompt.
func TestScheduler_PlanExecuteTransition(t *testing.T) {
	registry := tool.NewRegistry(tool.DefaultRegistryConfig())
	if err := registry.Register(readTool{calls: new(int)}); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(writeTool{}); err != nil {
		t.Fatal(err)
	}

	client := &scriptedClient{responses: []harness.Completion{
		{ToolCalls: []harness.ToolCall{{ID: "c1", Name: "read", Arguments: `{"path":"x"}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c2", Name: SubmitPlanToolName, Arguments: `{"summary":"Will modify x"}`}}},
		{ToolCalls: []harness.ToolCall{{ID: "c3", Name: "write", Arguments: `{"path":"x"}`}}},
		{Content: "done"},
	}}

	var transitioned bool
	var planSummary string
	var toolSetDuringPlanning []string
	handler := FuncHandler(func(e Event) *EventResponse {
		switch ev := e.(type) {
		case PhaseTransitionEvent:
			if ev.From == PhasePlanning && ev.To == PhaseExecuting {
				transitioned = true
			}
		case PlanSubmittedEvent:
			planSummary = ev.Summary
		case ToolExecutingEvent:
			if !transitioned {
				toolSetDuringPlanning = append(toolSetDuringPlanning, ev.Name)
			}
		}
		return nil
	})

	cfg := DefaultHarnessConfig().WithMaxRounds(6)
	planCfg := DefaultPlanExecuteConfig()
	planCfg.Enabled = true
	planCfg.PlanningTools = []string{"read", SubmitPlanToolName}
	cfg = cfg.WithPlanExecute(planCfg)
	sched := NewScheduler(cfg, client, registry, nil, handler, nil, nil, "You are helpful.")

	result, err := sched.Run(context.Background(), "plan then execute.")
	if err != nil {
		t.Fatal(err)
	}
	if !transitioned {
		t.Fatal("expected a Planning->Executing phase transition")
	}
	if planSummary != "Will modify x" {
		t.Fatalf("plan summary = %q, want %q", planSummary, "Will modify x")
	}
	if len(toolSetDuringPlanning) != 1 || toolSetDuringPlanning[0] != "read" {
		t.Fatalf("expected only read to execute during planning, got %v", toolSetDuringPlanning)
	}
	if !result.Accumulator.Finished {
		t.Fatal("expected natural termination after execution phase")
	}
}
