package agent

import (
	"context"
	"time"
)

// GatherEventKind is the closed progress-event taxonomy Gather emits (spec
// §4.13, C15). Distinct from the round-scheduler EventKind taxonomy (C11)
// — the gatherer runs outside the loop proper, pre-computing context before
// a harness call rather than during one.
type GatherEventKind string

const (
	GatherStarted     GatherEventKind = "started"
	GatherTaskDone     GatherEventKind = "task_done"
	GatherTaskTimeout GatherEventKind = "task_timeout"
	GatherDeadline    GatherEventKind = "deadline"
	GatherFinished    GatherEventKind = "finished"
)

// GatherEvent carries whichever fields are meaningful for its Kind: Total
// on Started, {Task, Pending, Done, Total} on TaskDone/TaskTimeout,
// {Abandoned, Pending, Done, Total} on Deadline, {Done, Total} on Finished.
type GatherEvent struct {
	Kind      GatherEventKind
	Task      string
	Pending   int
	Done      int
	Total     int
	Abandoned []string
}

// GatherObserver receives GatherEvents; a nil observer is replaced with a
// no-op.
type GatherObserver func(GatherEvent)

// SetterFor adapts a plain pointer into the typed setter Gather calls on
// task completion, so callers don't hand-write a type assertion per task.
func SetterFor[T any](dst *T) func(any) {
	return func(v any) {
		if typed, ok := v.(T); ok {
			*dst = typed
		}
	}
}

// GatherTask is one named unit of pre-computation: a per-task timeout, the
// work itself, and a typed setter into the caller's accumulator struct. Set
// is never called if the task is still running when the global deadline
// expires, so the accumulator simply keeps its zero value for that field.
type GatherTask struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) (any, error)
	Set     func(result any)
}

// Gather runs tasks concurrently, collecting results as they complete up to
// globalDeadline, and abandons whatever is still running at that point
// (spec §4.13, §5 "Parallel gather global deadline"). Each task additionally
// races its own per-task Timeout, if set, against the shared deadline.
func Gather(ctx context.Context, tasks []GatherTask, globalDeadline time.Duration, observer GatherObserver) {
	if observer == nil {
		observer = func(GatherEvent) {}
	}
	total := len(tasks)
	observer(GatherEvent{Kind: GatherStarted, Total: total})
	if total == 0 {
		observer(GatherEvent{Kind: GatherFinished, Total: 0})
		return
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, globalDeadline)
	defer cancel()

	type outcome struct {
		idx int
		val any
		err error
	}
	results := make(chan outcome, total)

	for i, task := range tasks {
		go func(idx int, t GatherTask) {
			taskCtx := deadlineCtx
			if t.Timeout > 0 {
				var taskCancel context.CancelFunc
				taskCtx, taskCancel = context.WithTimeout(deadlineCtx, t.Timeout)
				defer taskCancel()
			}
			val, err := t.Run(taskCtx)
			select {
			case results <- outcome{idx: idx, val: val, err: err}:
			case <-deadlineCtx.Done():
			}
		}(i, task)
	}

	completed := make(map[int]bool, total)
	done := 0
collect:
	for done < total {
		select {
		case r := <-results:
			completed[r.idx] = true
			done++
			if r.err != nil {
				observer(GatherEvent{Kind: GatherTaskTimeout, Task: tasks[r.idx].Name, Pending: total - done, Done: done, Total: total})
				continue
			}
			tasks[r.idx].Set(r.val)
			observer(GatherEvent{Kind: GatherTaskDone, Task: tasks[r.idx].Name, Pending: total - done, Done: done, Total: total})
		case <-deadlineCtx.Done():
			break collect
		}
	}

	if done < total {
		var abandoned []string
		for i, t := range tasks {
			if !completed[i] {
				abandoned = append(abandoned, t.Name)
			}
		}
		observer(GatherEvent{Kind: GatherDeadline, Abandoned: abandoned, Pending: total - done, Done: done, Total: total})
	}

	observer(GatherEvent{Kind: GatherFinished, Done: done, Total: total})
}
