package agent

import (
	"encoding/json"

	"github.com/haasonsaas/cinch/pkg/harness"
	"github.com/haasonsaas/cinch/internal/tool"
)

// Phase is the scheduler's two-phase plan-then-execute state (C12).
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
)

// SubmitPlanToolName is the synthetic tool the model calls to end the
// planning phase.
const SubmitPlanToolName = "submit_plan"

// DefaultPlanningTools is the default planning-phase tool allowlist (spec
// §4.11): a think scratchpad, a todo checklist, file reading/listing/grep/
// find, a shell tool, and the delegate-sub-agent tool.
var DefaultPlanningTools = []string{
	"think", "todo", "read_file", "list_dir", "grep", "find_files", "shell", "delegate_sub_agent",
}

// PlanExecuteConfig is a stateless policy object for the plan-execute
// controller.
type PlanExecuteConfig struct {
	Enabled          bool
	PlanningTools    []string
	MaxPlanningRounds int
}

// DefaultPlanExecuteConfig returns a disabled config with the default
// planning tool allowlist and an 8-round planning cap.
func DefaultPlanExecuteConfig() PlanExecuteConfig {
	return PlanExecuteConfig{
		Enabled:           false,
		PlanningTools:     append([]string(nil), DefaultPlanningTools...),
		MaxPlanningRounds: 8,
	}
}

// FilterPlanningTools returns the intersection of allTools and the
// configured allowlist; tools listed but not registered are silently
// dropped.
func (c PlanExecuteConfig) FilterPlanningTools(allTools []harness.ToolDefinition) []harness.ToolDefinition {
	allowed := make(map[string]bool, len(c.PlanningTools))
	for _, name := range c.PlanningTools {
		allowed[name] = true
	}
	out := make([]harness.ToolDefinition, 0, len(allTools))
	for _, def := range allTools {
		if allowed[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

// SubmitPlanToolDef returns the synthetic submit_plan tool definition.
func SubmitPlanToolDef() harness.ToolDefinition {
	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary": map[string]any{"type": "string"},
		},
		"required": []string{"summary"},
	})
	return harness.ToolDefinition{
		Name:        SubmitPlanToolName,
		Description: "Submit the plan and transition from planning to execution.",
		Parameters:  schema,
	}
}

// IsPlanSubmission reports whether name is the synthetic submit_plan call.
func IsPlanSubmission(name string) bool { return name == SubmitPlanToolName }

// ExtractPlanSummary pulls the `summary` field out of a submit_plan call's
// raw arguments.
func ExtractPlanSummary(rawArgs string) string {
	var doc struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(rawArgs), &doc); err != nil {
		return ""
	}
	return doc.Summary
}

// planningToolSet builds a *tool.Registry-scoped definition list for the
// current phase: the full registry in Executing, the filtered allowlist
// (plus the synthetic submit_plan tool) in Planning.
func planningToolSet(cfg PlanExecuteConfig, phase Phase, registry *tool.Registry) []harness.ToolDefinition {
	all := registry.Definitions()
	if phase == PhaseExecuting || !cfg.Enabled {
		return all
	}
	filtered := cfg.FilterPlanningTools(all)
	return append(filtered, SubmitPlanToolDef())
}
