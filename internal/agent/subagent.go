package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/haasonsaas/cinch/internal/tool"
	"github.com/haasonsaas/cinch/pkg/harness"
)

// delegateSubAgentToolName is the tool name the model calls to spawn a
// nested harness run (C14, spec §4.12). It is also the name
// DefaultPlanningTools allows through during the planning phase.
const delegateSubAgentToolName = "delegate_sub_agent"

const defaultSubAgentMaxResultChars = 4000

// SharedResources is the state every sub-agent in one delegation tree
// shares: a depth cap, a sibling concurrency permit, and an atomically
// managed token budget (spec §5 "Shared resources"). The zero depth
// belongs to the root run; Delegate derives a depth+1 copy for each child,
// sharing the same permit channel and the same underlying budget.
type SharedResources struct {
	depth       int
	maxDepth    int
	tokenBudget *int64
	permit      chan struct{}
}

// NewSharedResources builds the root of a delegation tree: depth 0, a
// sibling permit sized maxSiblings, and tokenBudget tokens available to the
// whole tree.
func NewSharedResources(maxDepth, maxSiblings, tokenBudget int) *SharedResources {
	if maxSiblings <= 0 {
		maxSiblings = 1
	}
	remaining := int64(tokenBudget)
	return &SharedResources{
		maxDepth:    maxDepth,
		tokenBudget: &remaining,
		permit:      make(chan struct{}, maxSiblings),
	}
}

// child derives the shared resources a nested delegate call sees: the same
// semaphore and budget, one level deeper.
func (r *SharedResources) child() *SharedResources {
	return &SharedResources{
		depth:       r.depth + 1,
		maxDepth:    r.maxDepth,
		tokenBudget: r.tokenBudget,
		permit:      r.permit,
	}
}

// depthExceeded reports whether spawning one more level would cross the
// cap: spec §4.12 requires depth <= cap-1 to proceed.
func (r *SharedResources) depthExceeded() bool {
	return r.depth > r.maxDepth-1
}

// acquireTokens records consumption of up to requested tokens against the
// tree budget via compare-and-swap, returning the amount actually charged.
// Usage is advisory (spec §5): a child that has already run completes
// regardless, so this never blocks and is called after the fact to account
// for what the child reported consuming.
func (r *SharedResources) acquireTokens(requested int) int64 {
	if requested <= 0 {
		return 0
	}
	for {
		cur := atomic.LoadInt64(r.tokenBudget)
		if cur <= 0 {
			return 0
		}
		grant := int64(requested)
		if grant > cur {
			grant = cur
		}
		if atomic.CompareAndSwapInt64(r.tokenBudget, cur, cur-grant) {
			return grant
		}
	}
}

// release adds amount back to the tree budget; always safe per spec §5.
func (r *SharedResources) release(amount int64) {
	if amount > 0 {
		atomic.AddInt64(r.tokenBudget, amount)
	}
}

// resetBudget sets the tree budget back to ceiling, used by
// BudgetResetScheduler for long-running supervisors that keep one
// SharedResources tree alive across many delegate calls.
func (r *SharedResources) resetBudget(ceiling int) {
	atomic.StoreInt64(r.tokenBudget, int64(ceiling))
}

// SubAgentToolFactory builds, for a given point in the delegation tree, a
// tool registry carrying the base tool set plus a delegate tool bound to
// that point's SharedResources — so a child run can itself delegate further
// until the shared depth cap is hit.
type SubAgentToolFactory struct {
	client     harness.ChatClient
	baseConfig HarnessConfig
	baseTools  []tool.Tool
	logger     *slog.Logger
}

// NewSubAgentToolFactory captures everything a sub-agent run needs besides
// its SharedResources: the transport, the baseline config it derives child
// configs from, and the non-delegate tool set every level exposes.
func NewSubAgentToolFactory(client harness.ChatClient, baseConfig HarnessConfig, baseTools []tool.Tool, logger *slog.Logger) *SubAgentToolFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubAgentToolFactory{client: client, baseConfig: baseConfig, baseTools: baseTools, logger: logger}
}

func (f *SubAgentToolFactory) buildRegistry(resources *SharedResources) *tool.Registry {
	reg := tool.NewRegistry(f.baseConfig.Registry)
	for _, t := range f.baseTools {
		_ = reg.Register(t)
	}
	_ = reg.Register(&DelegateSubAgentTool{factory: f, resources: resources})
	return reg
}

// RootRegistry builds the registry the top-level Scheduler registers for a
// run that wants delegation available: the base tools plus a delegate tool
// bound to a freshly created root SharedResources.
func (f *SubAgentToolFactory) RootRegistry() (*tool.Registry, *SharedResources) {
	resources := NewSharedResources(f.baseConfig.MaxSubAgentDepth, f.baseConfig.MaxSiblingSubAgents, f.baseConfig.SubAgentTokenBudget)
	return f.buildRegistry(resources), resources
}

// DelegateSubAgentTool is the C14 contract: spawn a nested harness run with
// a shared depth cap, sibling permit, and token budget.
type DelegateSubAgentTool struct {
	factory   *SubAgentToolFactory
	resources *SharedResources
}

type delegateArgs struct {
	Name           string `json:"name"`
	Task           string `json:"task"`
	Model          string `json:"model,omitempty"`
	MaxRounds      int    `json:"max_rounds,omitempty"`
	MaxResultChars int    `json:"max_result_chars,omitempty"`
	Plan           bool   `json:"plan,omitempty"`
}

// delegateResult is the envelope spec §4.12 requires: {name, truncated
// output, natural-termination flag, rounds used, tokens consumed}.
type delegateResult struct {
	Name                string `json:"name"`
	Output              string `json:"output"`
	Truncated           bool   `json:"truncated"`
	NaturallyTerminated bool   `json:"naturally_terminated"`
	RoundsUsed          int    `json:"rounds_used"`
	TokensConsumed      int    `json:"tokens_consumed"`
}

func (t *DelegateSubAgentTool) Definition() harness.ToolDefinition {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":             map[string]any{"type": "string", "description": "short identifier for the sub-agent"},
			"task":             map[string]any{"type": "string", "description": "the task to delegate"},
			"model":            map[string]any{"type": "string", "description": "optional model override"},
			"max_rounds":       map[string]any{"type": "integer", "description": "optional round cap override"},
			"max_result_chars": map[string]any{"type": "integer", "description": "optional output truncation length"},
			"plan":             map[string]any{"type": "boolean", "description": "run the sub-agent in plan-execute mode"},
		},
		"required": []string{"name", "task"},
	})
	return harness.ToolDefinition{
		Name:        delegateSubAgentToolName,
		Description: "Delegate a focused sub-task to a nested agent and receive its result.",
		Parameters:  schema,
		Mutation:    true,
	}
}

// Execute implements the full C14 contract. It never returns a Go error for
// depth/budget conditions — those are encoded as "Error: ..." strings per
// spec §7, so the parent model can observe and adjust.
func (t *DelegateSubAgentTool) Execute(ctx context.Context, rawArgs string) (string, error) {
	var args delegateArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		return fmt.Sprintf("Error: invalid %s arguments: %s", delegateSubAgentToolName, err), nil
	}
	if strings.TrimSpace(args.Name) == "" || strings.TrimSpace(args.Task) == "" {
		return fmt.Sprintf("Error: %s requires both name and task", delegateSubAgentToolName), nil
	}

	select {
	case t.resources.permit <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-t.resources.permit }()

	if t.resources.depthExceeded() {
		return fmt.Sprintf("Error: %s", ErrDepthExceeded), nil
	}

	childResources := t.resources.child()
	childConfig := t.factory.baseConfig
	childConfig.PlanExecute = DefaultPlanExecuteConfig()
	childConfig.PlanExecute.Enabled = args.Plan
	if args.MaxRounds > 0 {
		childConfig.MaxRounds = args.MaxRounds
	}

	var router *ModelRouter
	if strings.TrimSpace(args.Model) != "" {
		router = &ModelRouter{Models: []string{args.Model}}
	}

	childRegistry := t.factory.buildRegistry(childResources)
	task := enrichTaskWithKeywords(args.Task)
	systemPrompt := fmt.Sprintf("You are a focused sub-agent named %s; do your best with the information given.", args.Name)

	child := NewScheduler(childConfig, t.factory.client, childRegistry, nil, NoopHandler{}, router, nil, systemPrompt)
	result, err := child.Run(ctx, task)
	if err != nil {
		return fmt.Sprintf("Error: sub-agent %s failed: %s", args.Name, err), nil
	}

	output := strings.Join(result.Accumulator.Text, "\n")
	maxChars := args.MaxResultChars
	if maxChars <= 0 {
		maxChars = defaultSubAgentMaxResultChars
	}
	truncated := false
	if len(output) > maxChars {
		output = output[:maxChars]
		truncated = true
	}

	tokensConsumed := result.Accumulator.PromptTokens + result.Accumulator.CompletionTokens
	t.resources.acquireTokens(tokensConsumed)

	encoded, _ := json.Marshal(delegateResult{
		Name:                args.Name,
		Output:              output,
		Truncated:           truncated,
		NaturallyTerminated: result.Accumulator.Finished,
		RoundsUsed:          result.Accumulator.RoundsUsed,
		TokensConsumed:      tokensConsumed,
	})
	return string(encoded), nil
}

// enrichTaskWithKeywords prepends a lightweight keyword hint extracted from
// the delegated task itself, mirroring the original's extract_task_keywords
// supplement (SPEC_FULL.md §5): a cheap signal the child can use without
// re-reading the parent's full context.
func enrichTaskWithKeywords(task string) string {
	keywords := extractTaskKeywords(task)
	if len(keywords) == 0 {
		return task
	}
	return fmt.Sprintf("Context keywords: %s\n\n%s", strings.Join(keywords, ", "), task)
}

var taskKeywordStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"to": true, "of": true, "in": true, "on": true, "for": true, "with": true,
	"is": true, "are": true, "be": true, "this": true, "that": true, "it": true,
	"as": true, "at": true, "by": true, "from": true, "into": true, "your": true,
}

// extractTaskKeywords pulls up to five distinct, non-trivial (length > 3,
// not a stopword) lowercase words out of text, in first-seen order.
func extractTaskKeywords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var keywords []string
	for _, f := range fields {
		word := strings.ToLower(f)
		if len(word) <= 3 || taskKeywordStopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == 5 {
			break
		}
	}
	return keywords
}
