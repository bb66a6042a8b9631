package tool

import (
	"fmt"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// AnnotatedCall pairs a ToolCall with its optional dependency annotation,
// extracted once up front so the wave builder doesn't re-parse arguments.
type AnnotatedCall struct {
	Call      harness.ToolCall
	DependsOn string // "" means no dependency
}

// ExecutionWave is a set of calls that may run in parallel because none
// depends on an unfinished peer.
type ExecutionWave []AnnotatedCall

// Annotate converts raw tool calls into AnnotatedCalls by extracting
// depends_on from each call's arguments (spec §4.2).
func Annotate(calls []harness.ToolCall) []AnnotatedCall {
	out := make([]AnnotatedCall, len(calls))
	for i, c := range calls {
		out[i] = AnnotatedCall{Call: c, DependsOn: c.DependsOn()}
	}
	return out
}

// CycleError is returned by BuildExecutionWaves when the dependency graph
// cannot be fully ordered.
type CycleError struct {
	Total     int
	Unordered int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among tool calls: %d of %d calls could not be ordered", e.Unordered, e.Total)
}

// BuildExecutionWaves partitions calls into waves via Kahn's algorithm
// grouped by topological layer (spec §4.2, C5). If no call declares a
// dependency, every call forms a single wave — the backward-compatible
// parallel-execution case. Submission order is preserved within a wave so
// logging stays deterministic.
func BuildExecutionWaves(calls []AnnotatedCall) ([]ExecutionWave, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	anyDeps := false
	for _, c := range calls {
		if c.DependsOn != "" {
			anyDeps = true
			break
		}
	}
	if !anyDeps {
		return []ExecutionWave{ExecutionWave(append([]AnnotatedCall(nil), calls...))}, nil
	}

	inDegree := make(map[string]int, len(calls))
	dependents := make(map[string][]string)
	byID := make(map[string]AnnotatedCall, len(calls))
	// Preserve submission order for deterministic wave assembly.
	order := make([]string, 0, len(calls))

	for _, c := range calls {
		id := c.Call.ID
		if _, seen := inDegree[id]; !seen {
			order = append(order, id)
		}
		inDegree[id] = inDegree[id] // ensure key exists with current value
		byID[id] = c
	}
	for _, c := range calls {
		if c.DependsOn != "" {
			inDegree[c.Call.ID]++
			dependents[c.DependsOn] = append(dependents[c.DependsOn], c.Call.ID)
		}
	}

	var waves []ExecutionWave
	ready := make([]string, 0)
	for _, id := range order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	processed := 0
	for len(ready) > 0 {
		wave := make(ExecutionWave, 0, len(ready))
		next := make([]string, 0)
		seenThisWave := make(map[string]bool, len(ready))
		for _, id := range ready {
			if seenThisWave[id] {
				continue
			}
			seenThisWave[id] = true
			wave = append(wave, byID[id])
			processed++
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		waves = append(waves, wave)
		ready = next
	}

	if processed < len(calls) {
		return nil, &CycleError{Total: len(calls), Unordered: len(calls) - processed}
	}
	return waves, nil
}
