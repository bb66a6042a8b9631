// Package harnesscfg loads HarnessConfig overrides from an on-disk YAML
// file, mirroring the teacher's internal/config/loader.go (strict decoding
// via yaml.v3's KnownFields, env-var expansion before parsing).
package harnesscfg

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/cinch/internal/agent"
)

// fileConfig is the on-disk shape: every field optional, zero value means
// "keep the default". Only the scalar knobs a deployment is likely to tune
// are exposed here — nested subsystem configs (Registry, Eviction,
// Summarizer, PlanExecute) are Go-constructed, not file-configured.
type fileConfig struct {
	MaxTokens               int    `yaml:"max_tokens"`
	OutputReserve           int    `yaml:"output_reserve"`
	SystemReserve           int    `yaml:"system_reserve"`
	KeepRecent              int    `yaml:"keep_recent"`
	MinRoundsBetweenCompact int    `yaml:"min_rounds_between_compaction"`
	MaxRounds               int    `yaml:"max_rounds"`
	EmptyResponseMaxRetries int    `yaml:"empty_response_max_retries"`
	EmptyResponseBackoff    string `yaml:"empty_response_backoff"`
	MaxSubAgentDepth        int    `yaml:"max_sub_agent_depth"`
	MaxSiblingSubAgents     int    `yaml:"max_sibling_sub_agents"`
	SubAgentTokenBudget     int    `yaml:"sub_agent_token_budget"`
	FileTrackerCapacity     int    `yaml:"file_tracker_capacity"`
}

// Load reads path, expands environment variables the same way the
// teacher's LoadRaw does, and applies any non-zero fields found on top of
// agent.DefaultHarnessConfig().
func Load(path string) (agent.HarnessConfig, error) {
	cfg := agent.DefaultHarnessConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("harnesscfg: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var fc fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return cfg, fmt.Errorf("harnesscfg: parse %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return cfg, fmt.Errorf("harnesscfg: %s must contain a single YAML document", path)
	}

	applyOverrides(&cfg, fc)
	return cfg, nil
}

func applyOverrides(cfg *agent.HarnessConfig, fc fileConfig) {
	if fc.MaxTokens > 0 {
		cfg.MaxTokens = fc.MaxTokens
	}
	if fc.OutputReserve > 0 {
		cfg.OutputReserve = fc.OutputReserve
	}
	if fc.SystemReserve > 0 {
		cfg.SystemReserve = fc.SystemReserve
	}
	if fc.KeepRecent > 0 {
		cfg.KeepRecent = fc.KeepRecent
	}
	if fc.MinRoundsBetweenCompact > 0 {
		cfg.MinRoundsBetweenCompaction = fc.MinRoundsBetweenCompact
	}
	if fc.MaxRounds > 0 {
		cfg.MaxRounds = fc.MaxRounds
	}
	if fc.EmptyResponseMaxRetries > 0 {
		cfg.EmptyResponseMaxRetries = fc.EmptyResponseMaxRetries
	}
	if fc.EmptyResponseBackoff != "" {
		if d, err := time.ParseDuration(fc.EmptyResponseBackoff); err == nil {
			cfg.EmptyResponseBackoff = d
		}
	}
	if fc.MaxSubAgentDepth > 0 {
		cfg.MaxSubAgentDepth = fc.MaxSubAgentDepth
	}
	if fc.MaxSiblingSubAgents > 0 {
		cfg.MaxSiblingSubAgents = fc.MaxSiblingSubAgents
	}
	if fc.SubAgentTokenBudget > 0 {
		cfg.SubAgentTokenBudget = fc.SubAgentTokenBudget
	}
	if fc.FileTrackerCapacity > 0 {
		cfg.FileTrackerCapacity = fc.FileTrackerCapacity
	}
}
