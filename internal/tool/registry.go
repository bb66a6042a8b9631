package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// RegistryConfig controls the optional validation, timeout, and truncation
// behavior of a Registry. The zero value disables all three, matching the
// teacher's Default*Config pattern (internal/agent/tool_exec.go).
type RegistryConfig struct {
	// ValidateArgs enables JSON-Schema validation of raw arguments against
	// each tool's declared Parameters before execution.
	ValidateArgs bool
	// PerToolTimeout bounds a single Execute call. Zero means unbounded.
	PerToolTimeout time.Duration
	// TruncateAt caps a result string's length. Zero means unbounded.
	TruncateAt int
}

// DefaultRegistryConfig returns a config with validation on, a 30s
// per-tool timeout, and a 64KiB truncation ceiling.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ValidateArgs:   true,
		PerToolTimeout: 30 * time.Second,
		TruncateAt:     64 * 1024,
	}
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry maps unique tool names to Tool implementations and enforces the
// execute contract from spec §4.1: unknown tools, invalid arguments, and
// timeouts are surfaced as "Error: ..." strings rather than Go errors, so
// the model can observe and adapt; oversized results are truncated with a
// marker noting the original size.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*registeredTool
	config RegistryConfig
}

// NewRegistry constructs an empty Registry with the given config.
func NewRegistry(config RegistryConfig) *Registry {
	return &Registry{tools: make(map[string]*registeredTool), config: config}
}

// Register adds or replaces a tool under its own Definition().Name. If
// ValidateArgs is enabled, the tool's parameter schema is compiled eagerly
// so a malformed schema fails at registration time, not at dispatch time.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	rt := &registeredTool{tool: t}
	if r.config.ValidateArgs && len(def.Parameters) > 0 {
		compiler := jsonschema.NewCompiler()
		resourceName := "tool://" + def.Name
		if err := compiler.AddResource(resourceName, strings.NewReader(string(def.Parameters))); err != nil {
			return fmt.Errorf("tool %q: compiling schema: %w", def.Name, err)
		}
		schema, err := compiler.Compile(resourceName)
		if err != nil {
			return fmt.Errorf("tool %q: compiling schema: %w", def.Name, err)
		}
		rt.schema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = rt
	return nil
}

// Unregister removes a tool by name. A no-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the registered tool by name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return rt.tool, true
}

// Definitions materializes every registered tool's definition, for sending
// to the model as part of a ChatRequest.
func (r *Registry) Definitions() []harness.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]harness.ToolDefinition, 0, len(r.tools))
	for _, rt := range r.tools {
		defs = append(defs, rt.tool.Definition())
	}
	return defs
}

// IsCacheable reports whether the named tool is registered and cacheable.
func (r *Registry) IsCacheable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return ok && rt.tool.Definition().Cacheable
}

// IsMutation reports whether the named tool is registered and mutation.
func (r *Registry) IsMutation(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	return ok && rt.tool.Definition().Mutation
}

// Execute dispatches a single tool call, enforcing validation, timeout, and
// truncation per spec §4.1. It never returns a non-nil error for anything
// the model should observe — those are folded into the returned string.
func (r *Registry) Execute(ctx context.Context, name, rawArgs string) string {
	r.mu.RLock()
	rt, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("Error: unknown tool '%s'", name)
	}

	if rt.schema != nil {
		if errs := validateArgs(rt.schema, rawArgs); len(errs) > 0 {
			var b strings.Builder
			b.WriteString("Error: invalid arguments for tool '" + name + "':\n")
			for _, e := range errs {
				b.WriteString("  - " + e + "\n")
			}
			return strings.TrimRight(b.String(), "\n")
		}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if r.config.PerToolTimeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, r.config.PerToolTimeout)
		defer cancel()
	}

	result, err := runWithPanicRecovery(execCtx, rt.tool, rawArgs)
	if execCtx.Err() != nil {
		return fmt.Sprintf("Error: tool '%s' timed out after %.0f seconds", name, r.config.PerToolTimeout.Seconds())
	}
	if err != nil {
		return fmt.Sprintf("Error: tool '%s' failed: %s", name, err.Error())
	}

	if r.config.TruncateAt > 0 && len(result) > r.config.TruncateAt {
		total := len(result)
		result = result[:r.config.TruncateAt] + fmt.Sprintf("...[truncated: %d bytes total]", total)
	}
	return result
}

// runWithPanicRecovery insulates the dispatcher from a tool implementation
// that panics, converting it into an error (spec §7: tool crash never
// aborts the run).
func runWithPanicRecovery(ctx context.Context, t Tool, rawArgs string) (result string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.Execute(ctx, rawArgs)
}

// validateArgs validates rawArgs (a JSON document, possibly empty meaning
// "{}") against schema and returns a human-readable error line per
// violation. An empty slice means validation passed.
func validateArgs(schema *jsonschema.Schema, rawArgs string) []string {
	if strings.TrimSpace(rawArgs) == "" {
		rawArgs = "{}"
	}
	var doc any
	if err := json.Unmarshal([]byte(rawArgs), &doc); err != nil {
		return []string{fmt.Sprintf("arguments are not valid JSON: %s", err.Error())}
	}
	if err := schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			var out []string
			collectValidationErrors(verr, &out)
			if len(out) > 0 {
				return out
			}
		}
		return []string{err.Error()}
	}
	return nil
}

func collectValidationErrors(verr *jsonschema.ValidationError, out *[]string) {
	if len(verr.Causes) == 0 {
		*out = append(*out, verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		collectValidationErrors(cause, out)
	}
}
