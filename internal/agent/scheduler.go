package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/cinch/internal/agentctx"
	"github.com/haasonsaas/cinch/internal/tool"
	"github.com/haasonsaas/cinch/pkg/harness"
)

// RunAccumulator collects everything a run produces: text, usage, and
// bookkeeping needed to decide whether the run terminated naturally (spec
// §3 "Run Accumulator").
type RunAccumulator struct {
	TraceID            string
	Text               []string
	Annotations        []harness.Annotation
	PromptTokens       int
	CompletionTokens   int
	RoundsUsed         int
	Finished           bool
	LastStructuredText string
}

// RunResult is what Scheduler.Run returns on success; a non-nil error from
// Run always means a permanent condition (spec §7) and RunResult is not
// populated.
type RunResult struct {
	Accumulator RunAccumulator
	Messages    []harness.Message
}

// ModelRouter selects which model to use for the upcoming round. Single is
// the zero value's behavior when Models has exactly one entry.
type ModelRouter struct {
	Models  []string
	current int
}

// NextModel returns the model for the next round under simple round-robin
// routing, or "" if no models are configured (meaning: use the request's
// existing/default model).
func (m *ModelRouter) NextModel() string {
	if len(m.Models) == 0 {
		return ""
	}
	model := m.Models[m.current%len(m.Models)]
	m.current++
	return model
}

// Scheduler runs the per-round loop described in spec §4.10: eviction,
// compaction, model call, plan-execute transitions, tool dispatch, and
// natural-termination detection. One Scheduler instance is built per run;
// it owns no state beyond this run's.
type Scheduler struct {
	config   HarnessConfig
	client   harness.ChatClient
	registry *tool.Registry
	cache    *tool.Cache
	handler  Handler
	router   *ModelRouter
	sink     CheckpointSink

	layout      *agentctx.Layout
	budget      *agentctx.Budget
	fileTracker *agentctx.FileTracker
	summarizer  *agentctx.Summarizer

	metas []agentctx.ToolResultMeta
	phase Phase

	systemPrompt string

	metrics *Metrics
	tracer  oteltrace.Tracer
}

// WithMetrics attaches a Prometheus collector set; nil disables metrics.
func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	return s
}

// WithTracer attaches an OpenTelemetry tracer; one span is opened per round
// and one child span per tool dispatch wave (SPEC_FULL.md §4 "Tracing").
// A nil tracer disables tracing.
func (s *Scheduler) WithTracer(t oteltrace.Tracer) *Scheduler {
	s.tracer = t
	return s
}

func (s *Scheduler) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if s.tracer == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// NewScheduler constructs a Scheduler for a single run. client is required;
// registry, cache, handler, router, and sink may be nil (a NoopHandler,
// fresh empty registry/cache, single-model router, and disabled
// checkpointing are substituted).
func NewScheduler(config HarnessConfig, client harness.ChatClient, registry *tool.Registry, cache *tool.Cache, handler Handler, router *ModelRouter, sink CheckpointSink, systemPrompt string) *Scheduler {
	if registry == nil {
		registry = tool.NewRegistry(config.Registry)
	}
	if cache == nil {
		cache = tool.NewCache()
	}
	if handler == nil {
		handler = NoopHandler{}
	}
	if router == nil {
		router = &ModelRouter{}
	}

	layout := agentctx.NewLayout([]harness.Message{harness.System(systemPrompt)}, config.KeepRecent)
	budget := config.Budget()
	if config.MaxTokens <= 0 {
		// Auto-calibrate from system-prompt length when no explicit budget
		// was supplied (spec §4.10 step: Init).
		budget = agentctx.NewBudget(len(systemPrompt)*8, config.OutputReserve, config.SystemReserve)
	}

	phase := PhaseExecuting
	if config.PlanExecute.Enabled {
		phase = PhasePlanning
	}

	return &Scheduler{
		config:       config,
		client:       client,
		registry:     registry,
		cache:        cache,
		handler:      handler,
		router:       router,
		sink:         sink,
		layout:       layout,
		budget:       budget,
		fileTracker:  agentctx.NewFileTracker(config.FileTrackerCapacity),
		summarizer:   agentctx.NewSummarizer(client, config.Summarizer, config.Logger),
		phase:        phase,
		systemPrompt: systemPrompt,
	}
}

// Run executes the round loop against a single user turn until natural
// termination or the round cap (spec §4.10).
func (s *Scheduler) Run(ctx context.Context, userMessage string) (*RunResult, error) {
	traceID := uuid.NewString()
	acc := RunAccumulator{TraceID: traceID}

	s.layout.PushMessage(harness.User(userMessage))
	if s.phase == PhasePlanning {
		s.layout.PushMessage(harness.User(planningPromptText))
	}

	emptyStreak := 0
	planningRounds := 0

	for round := 1; round <= s.config.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		roundCtx, roundSpan := s.startSpan(ctx, "harness.round", attribute.Int("round", round))
		if s.metrics != nil {
			s.metrics.Rounds.Inc()
		}

		// Step 2: model routing.
		routedModel := s.router.NextModel()
		if routedModel != "" {
			s.handler.OnEvent(ModelRoutedEvent{Model: routedModel})
		}

		// Step 3: eviction if usage crosses critical threshold.
		usage := s.budget.ComputeUsage(s.layout.ToMessages(), len(s.systemPrompt))
		if usage.Fraction >= agentctx.CriticalThreshold {
			target := int(agentctx.WarningThreshold * float64(s.budget.EffectiveWindow()))
			countCleared := func() int {
				n := 0
				for _, m := range s.metas {
					if msg, ok := s.layout.MessageAt(m.MessageIndex); ok && msg.IsEvicted() {
						n++
					}
				}
				return n
			}
			clearedBefore := countCleared()
			freed := agentctx.EvictToolResults(s.layout, s.metas, round, target, s.config.Eviction)
			if freed > 0 {
				s.handler.OnEvent(EvictionEvent{FreedChars: freed, ClearedCount: countCleared() - clearedBefore})
				if s.metrics != nil {
					s.metrics.EvictionsFreed.Add(float64(freed))
				}
			}

			// Step 4: summarization, if still over threshold, boundary-eligible,
			// and cache-spacing allows it.
			usage = s.budget.ComputeUsage(s.layout.ToMessages(), len(s.systemPrompt))
			if usage.Fraction >= agentctx.CriticalThreshold && s.layout.ShouldCompact(round, s.config.MinRoundsBetweenCompaction) {
				s.handler.OnEvent(PreCompactionEvent{})
				prior, _ := s.layout.CompressedHistory()
				note := s.fileTracker.BuildPreservationNote()
				summary, err := s.summarizer.Summarize(ctx, prior, s.layout.MiddleMessages(), note)
				if err == nil && summary != "" {
					removed := s.layout.ApplyCompaction(summary, round)
					s.reindexMetasAfterCompaction(removed)
					s.handler.OnEvent(CompactionEvent{Summary: summary})
				}
			}
		}

		// Step 5: RoundStart.
		usage = s.budget.ComputeUsage(s.layout.ToMessages(), len(s.systemPrompt))
		s.handler.OnEvent(RoundStartEvent{Round: round, UsageFraction: usage.Fraction})

		// Step 6: assemble request (phase-scoped tools) and call the model.
		tools := planningToolSet(s.config.PlanExecute, s.phase, s.registry)
		req := harness.ChatRequest{
			Model:       routedModel,
			Messages:    s.layout.ToMessages(),
			MaxTokens:   s.budget.OutputReserve,
			Temperature: 0.7,
			Tools:       tools,
		}
		completion, err := s.client.Chat(roundCtx, req)
		if err != nil {
			roundSpan.End()
			return nil, fmt.Errorf("%w: %s", ErrTransportPermanent, err.Error())
		}

		// Step 7: usage/text/reasoning bookkeeping.
		var completionUsage harness.Usage
		if completion.Usage != nil {
			completionUsage = *completion.Usage
		}
		acc.PromptTokens += completionUsage.PromptTokens
		acc.CompletionTokens += completionUsage.CompletionTokens
		s.handler.OnEvent(TokenUsageEvent{Usage: completionUsage})
		if completion.Reasoning != "" {
			s.handler.OnEvent(ReasoningEvent{Text: completion.Reasoning})
		}
		if completion.Content != "" {
			s.handler.OnEvent(TextEvent{Text: completion.Content})
			acc.Text = append(acc.Text, completion.Content)
			acc.LastStructuredText = completion.Content
		}

		// Step 8: empty-response handling.
		if completion.Content == "" && len(completion.ToolCalls) == 0 && completionUsage.CompletionTokens == 0 {
			emptyStreak++
			s.handler.OnEvent(EmptyResponseEvent{Attempt: emptyStreak})
			if emptyStreak > s.config.EmptyResponseMaxRetries {
				acc.Finished = true
				acc.RoundsUsed = round
				roundSpan.End()
				return s.finish(ctx, &acc), nil
			}
			time.Sleep(s.config.EmptyResponseBackoff * time.Duration(emptyStreak))
			round--
			roundSpan.End()
			continue
		}
		emptyStreak = 0

		// Step 9/10: plan-execute phase transitions.
		if s.phase == PhasePlanning {
			planningRounds++
			if submission, ok := s.findPlanSubmission(completion.ToolCalls); ok {
				summary := ExtractPlanSummary(submission.Arguments)
				s.appendAssistantAndToolResults(completion.Content, completion.ToolCalls, round, map[string]string{
					submission.ID: fmt.Sprintf("Plan accepted: %s", summary),
				})
				var siblings []harness.ToolCall
				for _, c := range completion.ToolCalls {
					if c.ID != submission.ID {
						siblings = append(siblings, c)
					}
				}
				if len(siblings) > 0 {
					if err := s.dispatchWaves(roundCtx, siblings, round); err != nil {
						roundSpan.End()
						return nil, err
					}
				}
				s.handler.OnEvent(PlanSubmittedEvent{Summary: summary})
				s.handler.OnEvent(PhaseTransitionEvent{From: PhasePlanning, To: PhaseExecuting})
				s.phase = PhaseExecuting
				s.layout.PushMessage(harness.User(executionPromptText))
				roundSpan.End()
				continue
			}
			if planningRounds >= s.config.PlanExecute.MaxPlanningRounds {
				s.phase = PhaseExecuting
				s.layout.PushMessage(harness.User(executionPromptText))
			}
		}

		// Step 11: natural termination.
		if len(completion.ToolCalls) == 0 {
			acc.Finished = true
			acc.RoundsUsed = round
			roundSpan.End()
			return s.finish(ctx, &acc), nil
		}

		// Step 12: tool dispatch.
		s.handler.OnEvent(ToolCallsReceivedEvent{Calls: completion.ToolCalls})
		s.layout.PushMessage(harness.AssistantToolCalls(completion.Content, completion.ToolCalls))
		if err := s.dispatchWaves(roundCtx, completion.ToolCalls, round); err != nil {
			roundSpan.End()
			return nil, err
		}

		// Step 13: checkpoint.
		if s.sink != nil {
			snapshot := CheckpointSnapshot{
				TraceID:          traceID,
				Messages:         s.layout.ToMessages(),
				Round:            round,
				TextOutput:       append([]string(nil), acc.Text...),
				PromptTokens:     acc.PromptTokens,
				CompletionTokens: acc.CompletionTokens,
			}
			if path, err := s.sink.Save(ctx, snapshot); err == nil {
				s.handler.OnEvent(CheckpointSavedEvent{Path: path})
			} else {
				s.config.Logger.Warn("checkpoint save failed", "error", err)
			}
		}

		acc.RoundsUsed = round
		roundSpan.End()
	}

	s.handler.OnEvent(RoundLimitReachedEvent{})
	acc.Finished = false
	return s.finish(ctx, &acc), nil
}

func (s *Scheduler) finish(ctx context.Context, acc *RunAccumulator) *RunResult {
	if acc.Finished {
		s.handler.OnEvent(FinishedEvent{})
	}
	return &RunResult{Accumulator: *acc, Messages: s.layout.ToMessages()}
}

func (s *Scheduler) findPlanSubmission(calls []harness.ToolCall) (harness.ToolCall, bool) {
	for _, c := range calls {
		if IsPlanSubmission(c.Name) {
			return c, true
		}
	}
	return harness.ToolCall{}, false
}

// appendAssistantAndToolResults pushes the assistant tool-calls message and
// synthesizes tool-result messages for calls whose result is already known
// (used for the submit_plan call itself; sibling calls in the same round
// are dispatched by the caller).
func (s *Scheduler) appendAssistantAndToolResults(content string, calls []harness.ToolCall, round int, results map[string]string) {
	s.layout.PushMessage(harness.AssistantToolCalls(content, calls))
	for _, c := range calls {
		if result, ok := results[c.ID]; ok {
			s.layout.PushMessage(harness.ToolResult(c.ID, result))
		}
	}
}

// dispatchWaves runs the dependency-ordered (or sequential-fallback)
// execution plan for one round's tool calls, per spec §4.2.
func (s *Scheduler) dispatchWaves(ctx context.Context, calls []harness.ToolCall, round int) error {
	waves, err := tool.BuildExecutionWaves(tool.Annotate(calls))
	if err != nil {
		s.config.Logger.Warn("dependency cycle detected; falling back to sequential", "error", err)
		waves = []tool.ExecutionWave{}
		for _, c := range calls {
			waves = append(waves, tool.ExecutionWave{{Call: c}})
		}
	}

	for waveIdx, wave := range waves {
		waveCtx, waveSpan := s.startSpan(ctx, "harness.tool_dispatch_wave", attribute.Int("wave", waveIdx), attribute.Int("calls", len(wave)))

		type outcome struct {
			call      harness.ToolCall
			result    string
			cacheHit  bool
			denied    bool
			denyMsg   string
			injected  string
		}
		outcomes := make([]outcome, len(wave))

		// ToolExecuting must fire for every approved call in the wave before
		// any ToolResult is emitted (spec §5 ordering guarantee). An approved
		// call already in the cache is resolved here and emits ToolCacheHit
		// instead of ToolExecuting.
		approved := make([]bool, len(wave))
		for i, ac := range wave {
			resp := s.handler.OnEvent(ApprovalRequiredEvent{Name: ac.Call.Name, CallID: ac.Call.ID, Args: ac.Call.Arguments})
			if resp == nil || resp.Kind == ResponseApprove {
				if s.registry.IsCacheable(ac.Call.Name) {
					if entry, ok := s.cache.Lookup(ac.Call.Name, ac.Call.Arguments); ok {
						if s.metrics != nil {
							s.metrics.CacheHits.Inc()
						}
						outcomes[i] = outcome{call: ac.Call, result: entry.Result, cacheHit: true}
						continue
					}
				}
				approved[i] = true
				s.handler.OnEvent(ToolExecutingEvent{Name: ac.Call.Name, CallID: ac.Call.ID})
				continue
			}
			if resp.Kind == ResponseDeny {
				outcomes[i] = outcome{call: ac.Call, denied: true, denyMsg: resp.Reason}
				continue
			}
			outcomes[i] = outcome{call: ac.Call, injected: resp.Text}
		}

		results := make(chan struct {
			idx int
			res string
			hit bool
		}, len(wave))
		running := 0
		for i, ac := range wave {
			if !approved[i] {
				continue
			}
			running++
			go func(idx int, call harness.ToolCall) {
				if s.registry.IsCacheable(call.Name) {
					if entry, ok := s.cache.Lookup(call.Name, call.Arguments); ok {
						if s.metrics != nil {
							s.metrics.CacheHits.Inc()
						}
						results <- struct {
							idx int
							res string
							hit bool
						}{idx, entry.Result, true}
						return
					}
					if s.metrics != nil {
						s.metrics.CacheMisses.Inc()
					}
				}
				started := time.Now()
				res := s.registry.Execute(waveCtx, call.Name, call.Arguments)
				if s.metrics != nil {
					s.metrics.ToolLatency.Observe(time.Since(started).Seconds())
				}
				if s.registry.IsMutation(call.Name) {
					s.cache.InvalidateAll()
				}
				s.cache.Store(call.Name, call.Arguments, res, round, s.registry.IsCacheable(call.Name))
				results <- struct {
					idx int
					res string
					hit bool
				}{idx, res, false}
			}(i, ac.Call)
		}
		for n := 0; n < running; n++ {
			r := <-results
			outcomes[r.idx].result = r.res
			outcomes[r.idx].cacheHit = r.hit
		}

		for i, o := range outcomes {
			call := wave[i].Call
			switch {
			case o.denied:
				msg := fmt.Sprintf("Tool '%s' was denied by the user: %s", call.Name, o.denyMsg)
				s.layout.PushMessage(harness.ToolResult(call.ID, msg))
			case o.injected != "":
				s.layout.PushMessage(harness.User(o.injected))
				msg := fmt.Sprintf("Tool '%s' was redirected: %s", call.Name, o.injected)
				s.layout.PushMessage(harness.ToolResult(call.ID, msg))
			case o.cacheHit:
				s.handler.OnEvent(ToolCacheHitEvent{Name: call.Name, CallID: call.ID, Result: o.result})
				idx := s.layout.PushMessage(harness.ToolResult(call.ID, o.result))
				s.recordMeta(call, o.result, round, idx)
			default:
				s.handler.OnEvent(ToolResultEvent{Name: call.Name, CallID: call.ID, Result: o.result})
				idx := s.layout.PushMessage(harness.ToolResult(call.ID, o.result))
				s.recordMeta(call, o.result, round, idx)
				s.fileTracker.Record(call.Name, call.Arguments, round)
			}
		}
		waveSpan.End()
	}
	return nil
}

func (s *Scheduler) recordMeta(call harness.ToolCall, result string, round, messageIndex int) {
	s.metas = append(s.metas, agentctx.ToolResultMeta{
		ToolName:        call.Name,
		ArgsSummary:     agentctx.SummarizeArgs(call.Arguments, 120),
		Round:           round,
		MessageIndex:    messageIndex,
		CharCount:       len(result),
		EstimatedTokens: int(float64(len(result)) / s.budget.CharsPerToken),
	})
}

// reindexMetasAfterCompaction drops metadata entries for messages that no
// longer exist once compaction clears the middle zone, per spec §4.6
// ("re-indexing" referenced in §4.10 step 4).
func (s *Scheduler) reindexMetasAfterCompaction(removedCount int) {
	if removedCount <= 0 {
		return
	}
	kept := s.metas[:0]
	for _, m := range s.metas {
		if m.MessageIndex >= removedCount {
			m.MessageIndex -= removedCount
			kept = append(kept, m)
		}
	}
	s.metas = kept
}

const planningPromptText = "Before making changes, first investigate and produce a plan. Call submit_plan with a brief summary when ready to proceed."
const executionPromptText = "The plan has been accepted. Proceed with execution using the full tool set."
