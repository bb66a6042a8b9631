package tool

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/cinch/pkg/harness"
)

func echoTool() Tool {
	return Func{
		Def: harness.ToolDefinition{
			Name:        "echo",
			Description: "echoes text back",
			Parameters:  []byte(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			Cacheable:   true,
		},
		Call: func(ctx context.Context, rawArgs string) (string, error) {
			return rawArgs, nil
		},
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	out := r.Execute(context.Background(), "nope", "{}")
	if !strings.HasPrefix(out, "Error: unknown tool 'nope'") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRegistry_ValidationFailure(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	if err := r.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "echo", `{}`)
	if !strings.HasPrefix(out, "Error: invalid arguments for tool 'echo':") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRegistry_ExtraFieldAllowedWithoutAdditionalPropertiesFalse(t *testing.T) {
	// Spec §8 B4.
	r := NewRegistry(DefaultRegistryConfig())
	if err := r.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "echo", `{"text":"hi","extra":"field"}`)
	if strings.HasPrefix(out, "Error:") {
		t.Fatalf("expected success, got %q", out)
	}
}

func TestRegistry_Timeout(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.ValidateArgs = false
	cfg.PerToolTimeout = 10 * time.Millisecond
	r := NewRegistry(cfg)
	slow := Func{
		Def: harness.ToolDefinition{Name: "slow"},
		Call: func(ctx context.Context, rawArgs string) (string, error) {
			select {
			case <-time.After(time.Second):
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	}
	if err := r.Register(slow); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "slow", "{}")
	if !strings.Contains(out, "timed out") {
		t.Fatalf("expected timeout message, got %q", out)
	}
}

func TestRegistry_Truncation(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.ValidateArgs = false
	cfg.TruncateAt = 10
	r := NewRegistry(cfg)
	big := Func{
		Def: harness.ToolDefinition{Name: "big"},
		Call: func(ctx context.Context, rawArgs string) (string, error) {
			return strings.Repeat("x", 100), nil
		},
	}
	if err := r.Register(big); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "big", "{}")
	if !strings.Contains(out, "...[truncated: 100 bytes total]") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRegistry_PanicRecovered(t *testing.T) {
	cfg := DefaultRegistryConfig()
	cfg.ValidateArgs = false
	r := NewRegistry(cfg)
	boom := Func{
		Def: harness.ToolDefinition{Name: "boom"},
		Call: func(ctx context.Context, rawArgs string) (string, error) {
			panic("kaboom")
		},
	}
	if err := r.Register(boom); err != nil {
		t.Fatal(err)
	}
	out := r.Execute(context.Background(), "boom", "{}")
	if !strings.HasPrefix(out, "Error: tool 'boom' failed:") {
		t.Fatalf("expected recovered panic as error string, got %q", out)
	}
}

func TestRegistry_CacheableMutationFlags(t *testing.T) {
	r := NewRegistry(DefaultRegistryConfig())
	if err := r.Register(echoTool()); err != nil {
		t.Fatal(err)
	}
	if !r.IsCacheable("echo") {
		t.Fatal("expected echo to be cacheable")
	}
	if r.IsMutation("echo") {
		t.Fatal("expected echo not to be mutation")
	}
}
