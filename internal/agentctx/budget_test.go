package agentctx

import (
	"strings"
	"testing"

	"github.com/haasonsaas/cinch/pkg/harness"
)

func TestBudget_EffectiveWindowSaturatesAtZero(t *testing.T) {
	b := NewBudget(100, 80, 50)
	if b.EffectiveWindow() != 0 {
		t.Fatalf("expected 0, got %d", b.EffectiveWindow())
	}
}

func TestBudget_AdvisoryThresholds(t *testing.T) {
	b := NewBudget(1000, 0, 0)
	if b.Advisory(0.5) != nil {
		t.Fatal("expected no advisory below warning threshold")
	}
	if b.Advisory(0.6) == nil {
		t.Fatal("expected advisory at warning threshold")
	}
	if b.Advisory(0.8) == nil {
		t.Fatal("expected advisory at critical threshold")
	}
}

func TestBudget_EstimateAndUsageFraction(t *testing.T) {
	// Spec §8 S5: max_tokens=1000, three 3500-char results ~1000 tokens at
	// cpt=3.5.
	b := NewBudget(1000, 0, 0)
	b.CharsPerToken = 3.5
	msgs := []harness.Message{
		harness.ToolResult("c1", strings.Repeat("a", 3500)),
	}
	usage := b.ComputeUsage(msgs, 0)
	if usage.EstimatedTokens < 900 || usage.EstimatedTokens > 1100 {
		t.Fatalf("expected ~1000 tokens, got %d", usage.EstimatedTokens)
	}
}
