package harnesscfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "harness.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := writeConfig(t, `
max_tokens: 16000
max_rounds: 40
empty_response_backoff: 250ms
max_sub_agent_depth: 2
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxTokens != 16000 {
		t.Errorf("MaxTokens = %d, want 16000", cfg.MaxTokens)
	}
	if cfg.MaxRounds != 40 {
		t.Errorf("MaxRounds = %d, want 40", cfg.MaxRounds)
	}
	if cfg.EmptyResponseBackoff != 250*time.Millisecond {
		t.Errorf("EmptyResponseBackoff = %v, want 250ms", cfg.EmptyResponseBackoff)
	}
	if cfg.MaxSubAgentDepth != 2 {
		t.Errorf("MaxSubAgentDepth = %d, want 2", cfg.MaxSubAgentDepth)
	}
	// Untouched fields keep their default.
	if cfg.SubAgentTokenBudget != 50000 {
		t.Errorf("SubAgentTokenBudget = %d, want default 50000", cfg.SubAgentTokenBudget)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
max_tokens: 16000
bogus_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("HARNESS_TEST_MAX_ROUNDS", "12")
	path := writeConfig(t, `
max_rounds: ${HARNESS_TEST_MAX_ROUNDS}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxRounds != 12 {
		t.Errorf("MaxRounds = %d, want 12", cfg.MaxRounds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
