package agentctx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// SummarizerConfig controls the LLM call the Summarizer makes (C9).
type SummarizerConfig struct {
	Temperature float64
	MaxTokens   int
	// ProjectInstructions, if non-empty, is appended to the system prompt
	// (spec §4.7: "optional project-specific compaction instructions").
	ProjectInstructions string
}

// DefaultSummarizerConfig returns a low-temperature, tightly-capped config.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{Temperature: 0.3, MaxTokens: 1024}
}

const summarizerSystemPrompt = `You are compacting an agent's conversation history. Produce a concise summary that preserves file paths touched, decisions made, and outcomes reached. Be terse; this summary replaces the detailed history entirely.`

// Summarizer performs LLM-driven compaction of the middle zone into a
// replaceable running summary (C9). It never blocks correctness: a failed
// call is logged and the caller is expected to proceed uncompacted.
type Summarizer struct {
	client harness.ChatClient
	config SummarizerConfig
	logger *slog.Logger
}

// NewSummarizer constructs a Summarizer bound to client.
func NewSummarizer(client harness.ChatClient, config SummarizerConfig, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, config: config, logger: logger}
}

// Summarize builds the compaction request described in spec §4.7: a system
// prompt instructing concise preservation, and a user prompt containing
// the prior summary (if any) followed by the middle-zone messages and an
// optional file-preservation note. On success it returns the new summary
// text, which the caller feeds to Layout.ApplyCompaction — the summarizer
// itself never mutates the layout, keeping the merge-vs-replace contract
// (spec's compressed_history invariant I5) entirely in the caller's hands.
func (s *Summarizer) Summarize(ctx context.Context, priorSummary string, middle []harness.Message, preservationNote string) (string, error) {
	systemPrompt := summarizerSystemPrompt
	if s.config.ProjectInstructions != "" {
		systemPrompt += "\n\n" + s.config.ProjectInstructions
	}

	var userContent string
	if priorSummary != "" {
		userContent += "Prior summary:\n" + priorSummary + "\n\n"
	}
	userContent += "Messages to compact:\n"
	for _, m := range middle {
		userContent += fmt.Sprintf("[%s] %s\n", m.Role, m.Content)
	}
	if preservationNote != "" {
		userContent += "\nRecently accessed files (preserve awareness of these):\n" + preservationNote
	}

	req := harness.ChatRequest{
		Messages:    []harness.Message{harness.System(systemPrompt), harness.User(userContent)},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	}

	completion, err := s.client.Chat(ctx, req)
	if err != nil {
		s.logger.Warn("summarization call failed; continuing uncompacted", "error", err)
		return "", err
	}
	return completion.Content, nil
}
