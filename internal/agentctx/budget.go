package agentctx

import (
	"fmt"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// Threshold fractions of the effective window (spec §4.4).
const (
	WarningThreshold  = 0.60
	CriticalThreshold = 0.80
)

// Budget tracks the model's context window and reports advisories as
// usage crosses the warning/critical thresholds (C7).
type Budget struct {
	MaxTokens      int
	OutputReserve  int
	SystemReserve  int
	CharsPerToken  float64
	WarningMessage  string
	CriticalMessage string
}

// NewBudget constructs a Budget with the default chars-per-token ratio and
// default advisory wording.
func NewBudget(maxTokens, outputReserve, systemReserve int) *Budget {
	return &Budget{
		MaxTokens:     maxTokens,
		OutputReserve: outputReserve,
		SystemReserve: systemReserve,
		CharsPerToken: DefaultCharsPerToken,
	}
}

// EffectiveWindow is max_tokens − output_reserve − system_reserve,
// saturating at zero.
func (b *Budget) EffectiveWindow() int {
	w := b.MaxTokens - b.OutputReserve - b.SystemReserve
	if w < 0 {
		return 0
	}
	return w
}

// EstimateTokens estimates the token count of messages plus an optional
// pinned system-prompt length, using the configured chars-per-token ratio.
func (b *Budget) EstimateTokens(messages []harness.Message, systemPromptLen int) int {
	cpt := b.CharsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}
	chars := systemPromptLen
	for _, m := range messages {
		chars += len(m.Content)
	}
	return int(float64(chars) / cpt)
}

// UsageFraction returns estimatedTokens / EffectiveWindow. An effective
// window of zero is treated as already saturated (fraction 1.0) rather
// than dividing by zero.
func (b *Budget) UsageFraction(estimatedTokens int) float64 {
	window := b.EffectiveWindow()
	if window == 0 {
		return 1.0
	}
	return float64(estimatedTokens) / float64(window)
}

// Usage bundles an estimate with the effective window and derived fraction, the
// shape the scheduler emits alongside RoundStart.
type Usage struct {
	EstimatedTokens int
	EffectiveWindow int
	Fraction        float64
}

// ComputeUsage estimates tokens for messages and packages the result.
func (b *Budget) ComputeUsage(messages []harness.Message, systemPromptLen int) Usage {
	est := b.EstimateTokens(messages, systemPromptLen)
	return Usage{
		EstimatedTokens: est,
		EffectiveWindow: b.EffectiveWindow(),
		Fraction:        b.UsageFraction(est),
	}
}

// Advisory returns nil below the warning threshold, the warning message at
// ≥0.60, and the critical message at ≥0.80 (spec §4.4). Defaults are used
// when the configurable messages are empty.
func (b *Budget) Advisory(usageFraction float64) *string {
	var msg string
	switch {
	case usageFraction >= CriticalThreshold:
		msg = b.CriticalMessage
		if msg == "" {
			msg = fmt.Sprintf("Context usage critical (%.0f%% of effective window). Older tool results may be cleared soon.", usageFraction*100)
		}
	case usageFraction >= WarningThreshold:
		msg = b.WarningMessage
		if msg == "" {
			msg = fmt.Sprintf("Context usage elevated (%.0f%% of effective window).", usageFraction*100)
		}
	default:
		return nil
	}
	return &msg
}
