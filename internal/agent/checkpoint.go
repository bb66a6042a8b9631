package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/cinch/pkg/harness"
)

// CheckpointSnapshot is the persisted shape of a run at a point in time
// (spec §6 "Checkpoint contract"). Storage layout is opaque to the
// scheduler; CheckpointSink implementations decide how/where it lands.
type CheckpointSnapshot struct {
	TraceID          string            `json:"trace_id"`
	Messages         []harness.Message `json:"messages"`
	TextOutput       []string          `json:"text_output"`
	Round            int               `json:"round"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
}

// CheckpointSink is an optional external collaborator. Its absence (a nil
// Scheduler.sink) is first-class state, not an error condition — runs
// without checkpointing configured simply skip step 13 of the round loop.
type CheckpointSink interface {
	Save(ctx context.Context, snapshot CheckpointSnapshot) (string, error)
	LoadLatest(ctx context.Context, traceID string) (*CheckpointSnapshot, error)
}

// MemoryCheckpointSink is an in-memory CheckpointSink reference
// implementation, useful for tests and for embedding cinch without a real
// persistence layer wired in.
type MemoryCheckpointSink struct {
	mu    sync.Mutex
	byRun map[string][]CheckpointSnapshot
}

// NewMemoryCheckpointSink constructs an empty in-memory sink.
func NewMemoryCheckpointSink() *MemoryCheckpointSink {
	return &MemoryCheckpointSink{byRun: make(map[string][]CheckpointSnapshot)}
}

func (m *MemoryCheckpointSink) Save(_ context.Context, snapshot CheckpointSnapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRun[snapshot.TraceID] = append(m.byRun[snapshot.TraceID], snapshot)
	return fmt.Sprintf("memory://%s/round-%d", snapshot.TraceID, snapshot.Round), nil
}

func (m *MemoryCheckpointSink) LoadLatest(_ context.Context, traceID string) (*CheckpointSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.byRun[traceID]
	if len(snaps) == 0 {
		return nil, fmt.Errorf("no checkpoint for trace %q", traceID)
	}
	latest := snaps[0]
	for _, s := range snaps[1:] {
		if s.Round > latest.Round {
			latest = s
		}
	}
	return &latest, nil
}

// MemoryIndex is the read-only memory contract from spec §6: reading a
// caller-supplied path up to a line cap, with a truncation marker when the
// file exceeds it. Absence of a backing file is reported as ("", false);
// the harness never treats it as an error.
type MemoryIndex interface {
	Read(ctx context.Context, path string, maxLines int) (string, bool)
}

// encodeSnapshot and decodeSnapshot round-trip a CheckpointSnapshot through
// JSON (spec R3: checkpoint serialize/deserialize must round-trip equal).
func encodeSnapshot(s CheckpointSnapshot) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSnapshot(data []byte) (CheckpointSnapshot, error) {
	var s CheckpointSnapshot
	err := json.Unmarshal(data, &s)
	return s, err
}
