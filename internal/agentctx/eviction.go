package agentctx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EvictedPrefix marks a message whose content has been replaced by an
// eviction placeholder. Both the writer and the "already evicted?" check
// reference this constant so they cannot drift apart.
const EvictedPrefix = "[Cleared:"

// ToolResultMeta is the bookkeeping the eviction engine (and the
// scheduler's re-indexing after compaction) needs for each retained
// tool-result message (spec §3 "Tool-Result Metadata").
type ToolResultMeta struct {
	ToolName        string
	ArgsSummary     string
	Round           int
	MessageIndex    int
	CharCount       int
	EstimatedTokens int
}

// EvictionConfig controls eviction's victim selection.
type EvictionConfig struct {
	// ProtectedTools never have their results evicted.
	ProtectedTools map[string]bool
	// MinAgeRounds is the minimum age, in rounds, before a result is
	// eligible for eviction.
	MinAgeRounds int
	CharsPerToken float64
}

// DefaultEvictionConfig returns a config with a 3-round minimum age and no
// protected tools.
func DefaultEvictionConfig() EvictionConfig {
	return EvictionConfig{ProtectedTools: map[string]bool{}, MinAgeRounds: 3, CharsPerToken: DefaultCharsPerToken}
}

// EvictToolResults iterates metas oldest-first, replacing eligible
// tool-result message bodies with compact placeholders until the
// estimated token count (via estimateFlatTokens) is at or below targetTokens.
// Already-evicted messages are skipped. Returns total characters freed
// (spec §4.5).
func EvictToolResults(
	layout *Layout,
	metas []ToolResultMeta,
	currentRound, targetTokens int,
	cfg EvictionConfig,
) int {
	candidates := make([]ToolResultMeta, 0, len(metas))
	for _, m := range metas {
		if cfg.ProtectedTools[m.ToolName] {
			continue
		}
		if currentRound-m.Round < cfg.MinAgeRounds {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Round < candidates[j].Round })

	freed := 0
	cpt := cfg.CharsPerToken
	if cpt <= 0 {
		cpt = DefaultCharsPerToken
	}

	for _, meta := range candidates {
		if estimateFlatTokens(layout, cpt) <= targetTokens {
			break
		}
		msg, ok := layout.MessageAt(meta.MessageIndex)
		if !ok {
			continue
		}
		if strings.HasPrefix(msg.Content, EvictedPrefix) {
			continue
		}
		placeholder := fmt.Sprintf("[Cleared: %s(%s) — %d chars, round %d]", meta.ToolName, meta.ArgsSummary, meta.CharCount, meta.Round)
		oldLen := len(msg.Content)
		newLen := len(placeholder)
		if oldLen > newLen {
			freed += oldLen - newLen
		}
		msg.Content = placeholder
	}
	return freed
}

func estimateFlatTokens(layout *Layout, cpt float64) int {
	chars := 0
	for _, m := range layout.FlatMessagesMut() {
		chars += len(m.Content)
	}
	return int(float64(chars) / cpt)
}

// SummarizeArgs extracts a short argument summary from raw JSON arguments
// for use in eviction placeholders: up to 3 key=value pairs (string values
// quoted, long values clipped at 37 chars with an ellipsis), joined with
// ", " and capped at maxLen overall.
func SummarizeArgs(arguments string, maxLen int) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(arguments), &doc); err == nil {
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 3 {
			keys = keys[:3]
		}
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+formatArgValue(doc[k]))
		}
		summary := strings.Join(parts, ", ")
		if len(summary) > maxLen {
			cut := maxLen - 3
			if cut < 0 {
				cut = 0
			}
			return summary[:cut] + "..."
		}
		return summary
	}
	if len(arguments) > maxLen {
		cut := maxLen - 3
		if cut < 0 {
			cut = 0
		}
		return arguments[:cut] + "..."
	}
	return arguments
}

func formatArgValue(v any) string {
	switch s := v.(type) {
	case string:
		if len(s) > 40 {
			return `"` + s[:37] + "...\""
		}
		return `"` + s + `"`
	default:
		b, _ := json.Marshal(v)
		str := string(b)
		if len(str) > 40 {
			return str[:37] + "..."
		}
		return str
	}
}
