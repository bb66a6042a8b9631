// Package tool implements the capability contract (C2), the keyed registry
// that dispatches to it (C3), the result cache (C4), and the dependency-DAG
// wave partitioner (C5) described in the harness specification.
package tool

import (
	"context"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// Tool is the capability contract every dispatchable operation implements:
// a self-describing name, schema, and async execution. Implementations
// never panic and never return a Go error for operational failures — those
// are encoded as strings beginning with "Error:" per the execute contract,
// so the model can observe and self-correct (spec §4.1). A non-nil error
// return is reserved for cases the dispatcher itself cannot recover from
// (e.g. context cancellation).
type Tool interface {
	Definition() harness.ToolDefinition
	Execute(ctx context.Context, rawArgs string) (string, error)
}

// Func adapts a plain function to the Tool interface, mirroring the
// teacher's closure-wrapping observer pattern in internal/agent/events.go.
type Func struct {
	Def  harness.ToolDefinition
	Call func(ctx context.Context, rawArgs string) (string, error)
}

func (f Func) Definition() harness.ToolDefinition { return f.Def }

func (f Func) Execute(ctx context.Context, rawArgs string) (string, error) {
	return f.Call(ctx, rawArgs)
}
