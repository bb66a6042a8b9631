package agent

import (
	"log/slog"
	"time"

	"github.com/haasonsaas/cinch/internal/agentctx"
	"github.com/haasonsaas/cinch/internal/tool"
)

// HarnessConfig ties together the per-component configs that govern a
// single Run: tool dispatch, caching, the three-zone context layout,
// eviction, compaction, plan-execute, and sub-agent limits.
type HarnessConfig struct {
	Registry    tool.RegistryConfig
	Eviction    agentctx.EvictionConfig
	Summarizer  agentctx.SummarizerConfig
	PlanExecute PlanExecuteConfig

	MaxTokens     int
	OutputReserve int
	SystemReserve int

	KeepRecent               int
	MinRoundsBetweenCompaction int

	MaxRounds             int
	EmptyResponseMaxRetries int
	EmptyResponseBackoff  time.Duration

	MaxSubAgentDepth       int
	MaxSiblingSubAgents    int
	SubAgentTokenBudget    int

	FileTrackerCapacity int

	Logger *slog.Logger
}

// DefaultHarnessConfig returns baseline settings: 8K-token budget, a
// 6-message recency window, plan-execute disabled, and a 20-round cap.
func DefaultHarnessConfig() HarnessConfig {
	return HarnessConfig{
		Registry:                   tool.DefaultRegistryConfig(),
		Eviction:                   agentctx.DefaultEvictionConfig(),
		Summarizer:                 agentctx.DefaultSummarizerConfig(),
		PlanExecute:                DefaultPlanExecuteConfig(),
		MaxTokens:                  8192,
		OutputReserve:              1024,
		SystemReserve:              512,
		KeepRecent:                 6,
		MinRoundsBetweenCompaction: 3,
		MaxRounds:                  20,
		EmptyResponseMaxRetries:    3,
		EmptyResponseBackoff:       500 * time.Millisecond,
		MaxSubAgentDepth:           3,
		MaxSiblingSubAgents:        5,
		SubAgentTokenBudget:        50000,
		FileTrackerCapacity:        64,
		Logger:                     slog.Default(),
	}
}

// Budget derives an agentctx.Budget from this config's token reserves.
func (c HarnessConfig) Budget() *agentctx.Budget {
	return agentctx.NewBudget(c.MaxTokens, c.OutputReserve, c.SystemReserve)
}

// WithMaxRounds overrides the round cap.
func (c HarnessConfig) WithMaxRounds(n int) HarnessConfig {
	c.MaxRounds = n
	return c
}

// WithPlanExecute overrides the plan-execute controller config.
func (c HarnessConfig) WithPlanExecute(p PlanExecuteConfig) HarnessConfig {
	c.PlanExecute = p
	return c
}

// WithLogger overrides the logger; a nil logger falls back to slog.Default().
func (c HarnessConfig) WithLogger(l *slog.Logger) HarnessConfig {
	if l == nil {
		l = slog.Default()
	}
	c.Logger = l
	return c
}
