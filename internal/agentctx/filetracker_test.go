package agentctx

import (
	"strings"
	"testing"
)

func TestFileTracker_RecordAndPreservationNote(t *testing.T) {
	ft := NewFileTracker(10)
	ft.Record("read_file", `{"path":"src/main.go"}`, 1)
	ft.Record("grep", `{"pattern":"TODO"}`, 2)

	note := ft.BuildPreservationNote()
	if !strings.Contains(note, "src/main.go") || !strings.Contains(note, "TODO") {
		t.Fatalf("unexpected note: %q", note)
	}
}

func TestFileTracker_DedupeMovesToBack(t *testing.T) {
	ft := NewFileTracker(10)
	ft.Record("read_file", `{"path":"a.go"}`, 1)
	ft.Record("read_file", `{"path":"b.go"}`, 2)
	ft.Record("read_file", `{"path":"a.go"}`, 3)

	if ft.Len() != 2 {
		t.Fatalf("expected dedupe to keep len 2, got %d", ft.Len())
	}
	note := ft.BuildPreservationNote()
	lines := strings.Split(note, "\n")
	if !strings.Contains(lines[len(lines)-1], "a.go") {
		t.Fatalf("expected re-accessed path moved to back: %q", note)
	}
}

func TestFileTracker_CapacityEviction(t *testing.T) {
	ft := NewFileTracker(2)
	ft.Record("read_file", `{"path":"a.go"}`, 1)
	ft.Record("read_file", `{"path":"b.go"}`, 2)
	ft.Record("read_file", `{"path":"c.go"}`, 3)

	if ft.Len() != 2 {
		t.Fatalf("expected capacity 2, got %d", ft.Len())
	}
	note := ft.BuildPreservationNote()
	if strings.Contains(note, "a.go") {
		t.Fatal("expected oldest entry evicted")
	}
}

func TestFileTracker_UnknownToolIgnored(t *testing.T) {
	ft := NewFileTracker(10)
	ft.Record("unknown_tool", `{"path":"a.go"}`, 1)
	if ft.Len() != 0 {
		t.Fatalf("expected unrecognized tool to be ignored, got len %d", ft.Len())
	}
}

func TestExtractPath_KeyPriorityOrder(t *testing.T) {
	if got := ExtractPath(`{"file_path":"a","path":"b"}`); got != "b" {
		t.Fatalf("expected 'path' to win over 'file_path', got %q", got)
	}
	if got := ExtractPath(`{"pattern":"x"}`); got != "x" {
		t.Fatalf("expected fallback to pattern, got %q", got)
	}
	if got := ExtractPath(`not json`); got != "" {
		t.Fatalf("expected empty for invalid JSON, got %q", got)
	}
}
