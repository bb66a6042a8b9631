// Package agentctx implements the harness's three-zone context management
// stack: the message container (C6), its token-budget accounting (C7),
// non-LLM tool-result eviction (C8), LLM-driven summarization (C9), and the
// file access tracker that keeps compaction aware of recent file focus
// (C10).
//
// # Zones
//
//	prefix            — immutable: system prompt + pinned tool docs
//	compressed_history — at most one summary string, replaced atomically
//	middle            — aged-out messages awaiting compaction, no cap
//	recency_window    — bounded deque of the N most recent messages
//
// Messages flow prefix(fixed) → ... → middle → recency_window → (future).
// push_message always lands at the back of recency; when recency exceeds
// its cap, the oldest recency message slides into the back of middle.
// Compaction periodically collapses middle into compressed_history.
package agentctx

import "github.com/haasonsaas/cinch/pkg/harness"

// DefaultCharsPerToken is the chars-per-token ratio used across the
// context-management stack absent an explicit override (spec §4.4).
const DefaultCharsPerToken = 3.5

const compactionAckText = "Understood. I'll keep this context in mind."

// Layout is the three-zone message container (C6).
type Layout struct {
	prefix             []harness.Message
	compressedHistory  *string
	middle             []harness.Message
	recency            []harness.Message
	keepRecent         int
	compactionCount    int
	lastCompactionRound int
}

// NewLayout constructs a Layout with the given immutable prefix and
// recency-window capacity.
func NewLayout(prefix []harness.Message, keepRecent int) *Layout {
	return &Layout{
		prefix:     append([]harness.Message(nil), prefix...),
		keepRecent: keepRecent,
	}
}

// SetPrefix replaces the immutable prefix. Intended for use before a run
// starts; not exposed as a mutation API during a run.
func (l *Layout) SetPrefix(prefix []harness.Message) {
	l.prefix = append([]harness.Message(nil), prefix...)
}

// PushMessage enqueues m at the back of the recency window. If recency
// exceeds keepRecent, the front message slides into the back of middle.
// Returns the flat index assigned to m — its position within the
// middle+recency concatenation once it lands, stable across later
// recency→middle demotion since demotion preserves relative order.
func (l *Layout) PushMessage(m harness.Message) int {
	l.recency = append(l.recency, m)
	idx := len(l.middle) + len(l.recency) - 1
	for l.keepRecent > 0 && len(l.recency) > l.keepRecent {
		front := l.recency[0]
		l.recency = l.recency[1:]
		l.middle = append(l.middle, front)
	}
	return idx
}

// ToMessages concatenates prefix + (if a summary exists) two synthetic
// wrapper messages + middle + recency. The synthetic pair is a user-role
// <context_summary> block followed by a short assistant acknowledgement,
// so the summary reads as a natural prior turn rather than an injected
// system aside.
func (l *Layout) ToMessages() []harness.Message {
	out := make([]harness.Message, 0, len(l.prefix)+2+len(l.middle)+len(l.recency))
	out = append(out, l.prefix...)
	if l.compressedHistory != nil {
		out = append(out,
			harness.User("<context_summary>"+*l.compressedHistory+"</context_summary>"),
			harness.Assistant(compactionAckText),
		)
	}
	out = append(out, l.middle...)
	out = append(out, l.recency...)
	return out
}

// ApplyCompaction replaces compressed_history with summary (the caller —
// the Summarizer — is responsible for merging the prior summary with new
// material; Layout never concatenates), clears middle, and bumps the
// compaction counters. Returns the number of middle messages that were
// dropped, so the scheduler can re-index any Tool-Result Metadata whose
// message_index referenced one of them (entries pointing into the cleared
// range are stale and must be dropped; surviving entries shift down by
// this count).
func (l *Layout) ApplyCompaction(summary string, round int) int {
	removed := len(l.middle)
	l.compressedHistory = &summary
	l.middle = nil
	l.compactionCount++
	l.lastCompactionRound = round
	return removed
}

// NeedsCompaction reports whether there is anything in middle awaiting
// compaction.
func (l *Layout) NeedsCompaction() bool { return len(l.middle) > 0 }

// ShouldCompact is true iff NeedsCompaction and at least minRoundsBetween
// rounds have elapsed since the last compaction. The gap amortizes
// prompt-cache invalidation: compacting every round would destroy the
// prefix cache on every call.
func (l *Layout) ShouldCompact(round, minRoundsBetween int) bool {
	if !l.NeedsCompaction() {
		return false
	}
	if l.compactionCount == 0 {
		return true
	}
	return round-l.lastCompactionRound >= minRoundsBetween
}

// CompactionCount returns how many compactions have occurred.
func (l *Layout) CompactionCount() int { return l.compactionCount }

// LastCompactionRound returns the round of the most recent compaction, or
// 0 if none has occurred.
func (l *Layout) LastCompactionRound() int { return l.lastCompactionRound }

// CompressedHistory returns the current summary, if any.
func (l *Layout) CompressedHistory() (string, bool) {
	if l.compressedHistory == nil {
		return "", false
	}
	return *l.compressedHistory, true
}

// MiddleLen returns the number of messages currently in middle.
func (l *Layout) MiddleLen() int { return len(l.middle) }

// RecencyLen returns the number of messages currently in the recency
// window. Invariant I4: always ≤ keepRecent.
func (l *Layout) RecencyLen() int { return len(l.recency) }

// Prefix returns a copy of the immutable prefix.
func (l *Layout) Prefix() []harness.Message {
	return append([]harness.Message(nil), l.prefix...)
}

// MessageAt exposes a mutable pointer to the message at flat index idx
// within middle+recency (used by eviction to rewrite tool-result bodies in
// place). Prefix and the synthetic summary pair are deliberately not
// reachable through this API. Returns false if idx is out of range.
func (l *Layout) MessageAt(idx int) (*harness.Message, bool) {
	if idx < 0 {
		return nil, false
	}
	if idx < len(l.middle) {
		return &l.middle[idx], true
	}
	ridx := idx - len(l.middle)
	if ridx < len(l.recency) {
		return &l.recency[ridx], true
	}
	return nil, false
}

// FlatMessagesMut returns mutable pointers to every message in
// middle+recency, in flat order.
func (l *Layout) FlatMessagesMut() []*harness.Message {
	out := make([]*harness.Message, 0, len(l.middle)+len(l.recency))
	for i := range l.middle {
		out = append(out, &l.middle[i])
	}
	for i := range l.recency {
		out = append(out, &l.recency[i])
	}
	return out
}

// MiddleMessages returns a copy of the middle zone, for feeding to the
// summarizer.
func (l *Layout) MiddleMessages() []harness.Message {
	return append([]harness.Message(nil), l.middle...)
}

// FlatMessagesToSlice returns a value copy of middle+recency, for budget
// estimation and other read-only consumers that don't need mutation.
func (l *Layout) FlatMessagesToSlice() []harness.Message {
	out := make([]harness.Message, 0, len(l.middle)+len(l.recency))
	out = append(out, l.middle...)
	out = append(out, l.recency...)
	return out
}
