package agentctx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileAccessType categorizes why a file path was touched.
type FileAccessType string

const (
	FileAccessRead   FileAccessType = "read"
	FileAccessWrite  FileAccessType = "write"
	FileAccessSearch FileAccessType = "search"
)

// toolAccessType maps known tool names to the kind of file access they
// represent. Unmapped tools are ignored by the tracker.
var toolAccessType = map[string]FileAccessType{
	"read_file":  FileAccessRead,
	"cat":        FileAccessRead,
	"write_file": FileAccessWrite,
	"edit_file":  FileAccessWrite,
	"apply_patch": FileAccessWrite,
	"grep":        FileAccessSearch,
	"find_files":  FileAccessSearch,
	"list_dir":    FileAccessSearch,
}

// RegisterToolAccessType lets a caller extend the tool→access-type table
// for custom tools, without forking the package.
func RegisterToolAccessType(tool string, accessType FileAccessType) {
	toolAccessType[tool] = accessType
}

// fileAccessKeys is the priority order in which argument keys are checked
// for a path (spec §4.8).
var fileAccessKeys = []string{"path", "file_path", "file", "pattern"}

// ExtractPath pulls a path-like string out of raw JSON tool arguments,
// checking keys in priority order. Returns "" if none present or the
// arguments are not a JSON object.
func ExtractPath(rawArgs string) string {
	var doc map[string]any
	if err := json.Unmarshal([]byte(rawArgs), &doc); err != nil {
		return ""
	}
	for _, key := range fileAccessKeys {
		if v, ok := doc[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// fileAccess records one tracked path.
type fileAccess struct {
	Path       string
	Round      int
	AccessType FileAccessType
}

// FileTracker is a bounded deque of recent file accesses (C10), deduped by
// path with move-to-back-on-reaccess semantics.
type FileTracker struct {
	maxEntries int
	entries    []fileAccess
}

// NewFileTracker constructs a tracker with the given capacity.
func NewFileTracker(maxEntries int) *FileTracker {
	return &FileTracker{maxEntries: maxEntries}
}

// Record extracts a path from a tool call's raw arguments (if the tool is
// recognized and a path is present) and records the access, deduplicating
// by path (the most recent access wins and moves to the back).
func (t *FileTracker) Record(toolName, rawArgs string, round int) {
	accessType, known := toolAccessType[toolName]
	if !known {
		return
	}
	path := ExtractPath(rawArgs)
	if path == "" {
		return
	}

	for i, e := range t.entries {
		if e.Path == path {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			break
		}
	}
	t.entries = append(t.entries, fileAccess{Path: path, Round: round, AccessType: accessType})

	if t.maxEntries > 0 && len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}
}

// BuildPreservationNote emits a newline-separated list of recent file
// accesses, for injection into the summarizer's input so compaction
// retains awareness of recent file focus.
func (t *FileTracker) BuildPreservationNote() string {
	if len(t.entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range t.entries {
		fmt.Fprintf(&b, "%s (%s, round %d)\n", e.Path, e.AccessType, e.Round)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Len reports the number of tracked paths.
func (t *FileTracker) Len() int { return len(t.entries) }
