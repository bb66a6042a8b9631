package agent

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// BudgetResetScheduler periodically replenishes a SharedResources tree's
// token budget back to a ceiling, for long-running supervisors that keep
// one delegation tree alive across many sub-agent calls instead of
// constructing a fresh SharedResources per run (spec §5's sub-agent token
// semaphore is otherwise exhausted once and never replenished).
type BudgetResetScheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewBudgetResetScheduler builds (but does not start) a scheduler.
func NewBudgetResetScheduler(logger *slog.Logger) *BudgetResetScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BudgetResetScheduler{cron: cron.New(), logger: logger}
}

// ScheduleReset registers a periodic reset of resources' token budget back
// to ceiling, on the given cron spec (standard five-field cron, or
// "@every 1h"-style descriptors). Returns the registered entry ID, so
// callers can later remove it via Cron().Remove.
func (s *BudgetResetScheduler) ScheduleReset(spec string, resources *SharedResources, ceiling int) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		resources.resetBudget(ceiling)
		s.logger.Debug("sub-agent token budget reset", "ceiling", ceiling)
	})
}

// Start begins running scheduled resets in their own goroutine.
func (s *BudgetResetScheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any running job to complete.
func (s *BudgetResetScheduler) Stop() { s.cron.Stop() }
