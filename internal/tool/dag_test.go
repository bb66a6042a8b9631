package tool

import (
	"testing"

	"github.com/haasonsaas/cinch/pkg/harness"
)

func call(id, dependsOn string) harness.ToolCall {
	args := `{}`
	if dependsOn != "" {
		args = `{"depends_on":"` + dependsOn + `"}`
	}
	return harness.ToolCall{ID: id, Name: "tool_" + id, Arguments: args}
}

func TestBuildExecutionWaves_NoDependencies(t *testing.T) {
	waves, err := BuildExecutionWaves(Annotate([]harness.ToolCall{call("a", ""), call("b", "")}))
	if err != nil {
		t.Fatal(err)
	}
	if len(waves) != 1 || len(waves[0]) != 2 {
		t.Fatalf("expected one wave of two, got %#v", waves)
	}
}

func TestBuildExecutionWaves_DiamondDependency(t *testing.T) {
	calls := []harness.ToolCall{call("a", ""), call("b", "a"), call("c", "a"), call("d", "b")}
	waves, err := BuildExecutionWaves(Annotate(calls))
	if err != nil {
		t.Fatal(err)
	}
	if len(waves) != 3 {
		t.Fatalf("expected 3 waves, got %d", len(waves))
	}
	if len(waves[0]) != 1 || len(waves[1]) != 2 || len(waves[2]) != 1 {
		t.Fatalf("unexpected wave sizes: %v/%v/%v", len(waves[0]), len(waves[1]), len(waves[2]))
	}
	if waves[2][0].Call.ID != "d" {
		t.Fatalf("expected d in final wave, got %s", waves[2][0].Call.ID)
	}
}

func TestBuildExecutionWaves_MixedDepsAndIndependent(t *testing.T) {
	// This is spec §8 S6's shape minus one node: a (free), b depends on a, c (free).
	calls := []harness.ToolCall{call("a", ""), call("b", "a"), call("c", "")}
	waves, err := BuildExecutionWaves(Annotate(calls))
	if err != nil {
		t.Fatal(err)
	}
	if len(waves) != 2 || len(waves[0]) != 2 || len(waves[1]) != 1 {
		t.Fatalf("unexpected waves: %#v", waves)
	}
	if waves[1][0].Call.ID != "b" {
		t.Fatalf("expected b alone in second wave, got %s", waves[1][0].Call.ID)
	}
}

func TestBuildExecutionWaves_CycleDetected(t *testing.T) {
	calls := []harness.ToolCall{call("a", "b"), call("b", "a")}
	_, err := BuildExecutionWaves(Annotate(calls))
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T", err)
	}
}

func TestBuildExecutionWaves_Empty(t *testing.T) {
	waves, err := BuildExecutionWaves(nil)
	if err != nil || waves != nil {
		t.Fatalf("expected nil/nil, got %#v/%v", waves, err)
	}
}

func TestAnnotate_ExtractsDependsOn(t *testing.T) {
	calls := []harness.ToolCall{
		{ID: "call_1", Name: "read_file", Arguments: `{"path":"a.rs"}`},
		{ID: "call_2", Name: "grep", Arguments: `{"pattern":"fn","depends_on":"call_1"}`},
	}
	annotated := Annotate(calls)
	if annotated[0].DependsOn != "" {
		t.Fatalf("expected no dependency, got %q", annotated[0].DependsOn)
	}
	if annotated[1].DependsOn != "call_1" {
		t.Fatalf("expected call_1, got %q", annotated[1].DependsOn)
	}
}
