package agent

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/cinch/internal/tool"
	"github.com/haasonsaas/cinch/pkg/harness"
)

// PromptSection is one ordered, optionally conditional piece of a system
// prompt (spec C16: "ordered sections, stable-before-dynamic, with
// conditional and optional inclusion; turn-context-driven"). Stable
// sections (identity, operating rules) are registered first and rarely
// change between turns; dynamic sections (project instructions, turn
// context) are evaluated fresh on every Assemble call.
type PromptSection struct {
	Name      string
	Stable    bool
	Optional  bool
	Render    func(turn TurnContext) string
}

// TurnContext is the turn-scoped information a dynamic section may key its
// content on, e.g. phase or whether any tool has run yet this run.
type TurnContext struct {
	Phase          Phase
	Round          int
	ToolGuideShown bool
}

// PromptAssembler holds an ordered list of sections and assembles them into
// one system prompt per turn, skipping optional sections whose Render
// returns an empty string.
type PromptAssembler struct {
	mu       sync.Mutex
	sections []PromptSection
}

// NewPromptAssembler builds an assembler with no sections registered; use
// AddStable/AddDynamic to populate it, in the order they should appear.
func NewPromptAssembler() *PromptAssembler {
	return &PromptAssembler{}
}

// AddStable appends a stable section (identity, operating rules) —
// registered before any dynamic section regardless of call order, per
// spec's "stable-before-dynamic" ordering.
func (p *PromptAssembler) AddStable(name string, render func(TurnContext) string) *PromptAssembler {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sections = append(p.sections, PromptSection{Name: name, Stable: true, Render: render})
	return p
}

// AddDynamic appends a dynamic section, evaluated fresh every Assemble
// call. optional sections are dropped entirely (no heading, no blank line)
// when Render returns "".
func (p *PromptAssembler) AddDynamic(name string, optional bool, render func(TurnContext) string) *PromptAssembler {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sections = append(p.sections, PromptSection{Name: name, Optional: optional, Render: render})
	return p
}

// Assemble renders every section for turn, in stable-then-dynamic order
// (registration order is preserved within each group), joining non-empty
// output with blank lines.
func (p *PromptAssembler) Assemble(turn TurnContext) string {
	p.mu.Lock()
	ordered := make([]PromptSection, 0, len(p.sections))
	ordered = append(ordered, p.stableSections()...)
	ordered = append(ordered, p.dynamicSections()...)
	p.mu.Unlock()

	var parts []string
	for _, s := range ordered {
		text := s.Render(turn)
		if s.Optional && strings.TrimSpace(text) == "" {
			continue
		}
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

func (p *PromptAssembler) stableSections() []PromptSection {
	var out []PromptSection
	for _, s := range p.sections {
		if s.Stable {
			out = append(out, s)
		}
	}
	return out
}

func (p *PromptAssembler) dynamicSections() []PromptSection {
	var out []PromptSection
	for _, s := range p.sections {
		if !s.Stable {
			out = append(out, s)
		}
	}
	return out
}

// ProjectInstructions caches the content of an external project-
// instructions file (loading it is an external collaborator, out of scope
// per spec §1) and clears it when an fsnotify watch reports a change, so a
// dynamic prompt section can read it without touching disk on every turn
// and never reads stale text.
type ProjectInstructions struct {
	mu      sync.RWMutex
	content string
	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewProjectInstructions wraps an already-loaded initial value (the load
// itself is the caller's external collaborator) and, if path is non-empty,
// starts an fsnotify watch that clears the cached value (Get then returns
// "") on write, create, remove, or rename events; it does not reload the
// file. Call Close to stop the watch.
func NewProjectInstructions(path, initial string, logger *slog.Logger) *ProjectInstructions {
	if logger == nil {
		logger = slog.Default()
	}
	pi := &ProjectInstructions{content: initial, path: path, logger: logger}
	if path == "" {
		return pi
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("project instructions watcher unavailable", "error", err)
		return pi
	}
	if err := watcher.Add(path); err != nil {
		logger.Warn("project instructions watch failed", "path", path, "error", err)
		_ = watcher.Close()
		return pi
	}
	pi.watcher = watcher
	go pi.watch()
	return pi
}

// Invalidate clears the cached content so the next reload (performed by the
// caller, outside this package) starts from empty rather than stale text.
// Set is the complementary call a reload performs once it has fresh text.
func (pi *ProjectInstructions) Invalidate() { pi.Set("") }

// Set replaces the cached content, e.g. after the caller reloads the file
// following an invalidation.
func (pi *ProjectInstructions) Set(content string) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.content = content
}

// Get returns the currently cached content.
func (pi *ProjectInstructions) Get() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.content
}

func (pi *ProjectInstructions) watch() {
	for {
		select {
		case event, ok := <-pi.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				pi.logger.Debug("project instructions file changed, invalidating cache", "path", pi.path, "op", event.Op.String())
				pi.Invalidate()
			}
		case err, ok := <-pi.watcher.Errors:
			if !ok {
				return
			}
			pi.logger.Warn("project instructions watcher error", "error", err)
		}
	}
}

// Close stops the watch goroutine, if one was started.
func (pi *ProjectInstructions) Close() error {
	if pi.watcher == nil {
		return nil
	}
	return pi.watcher.Close()
}

// DefaultPromptAssembler builds the standard section order this harness
// uses: identity (stable), operating rules (stable), project instructions
// (dynamic, optional), and a one-shot tool guide (dynamic, optional) —
// the progressive-tool-description supplement from SPEC_FULL.md §5.
func DefaultPromptAssembler(identity string, rules string, instructions *ProjectInstructions, toolNames []string) *PromptAssembler {
	p := NewPromptAssembler()
	p.AddStable("identity", func(TurnContext) string { return identity })
	p.AddStable("operating_rules", func(TurnContext) string { return rules })
	p.AddDynamic("project_instructions", true, func(TurnContext) string {
		if instructions == nil {
			return ""
		}
		content := instructions.Get()
		if content == "" {
			return ""
		}
		return "Project instructions:\n" + content
	})
	p.AddDynamic("tool_guide", true, func(turn TurnContext) string {
		if turn.ToolGuideShown || turn.Round > 1 || len(toolNames) == 0 {
			return ""
		}
		return "<tool_guide>\nAvailable tools: " + strings.Join(toolNames, ", ") + "\n</tool_guide>"
	})
	return p
}

// NewSchedulerWithAssembler wraps NewScheduler, substituting assembler's
// rendered output (evaluated once, at turn) for the raw systemPrompt — the
// Layout prefix is fixed for the run per agentctx's "not exposed as a
// mutation API during a run" contract, so Prompt Assembly's turn-context
// sensitivity applies only at construction time, with the caller-supplied
// turn.
func NewSchedulerWithAssembler(config HarnessConfig, client harness.ChatClient, registry *tool.Registry, cache *tool.Cache, handler Handler, router *ModelRouter, sink CheckpointSink, assembler *PromptAssembler, turn TurnContext) *Scheduler {
	systemPrompt := assembler.Assemble(turn)
	return NewScheduler(config, client, registry, cache, handler, router, sink, systemPrompt)
}
