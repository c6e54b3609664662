package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alynlabs/alyn/internal/metrics"
)

// Default poll cadence and the slack added to the due-candidate window.
const (
	DefaultPollInterval = 10 * time.Second
	dueBuffer           = 5 * time.Second
)

// AgentRunner dispatches a fired trigger to its execution agent. A nil
// error means the run succeeded.
type AgentRunner interface {
	RunAgent(ctx context.Context, agentName, instructions string) error
}

// Scheduler polls the store and fires due triggers, at most one concurrent
// execution per trigger.
type Scheduler struct {
	store        *Store
	runner       AgentRunner
	logger       *slog.Logger
	now          func() time.Time
	pollInterval time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	// inFlightMu guards only the in-flight set; execution goroutines take
	// it at dispatch and cleanup, never across the run itself.
	inFlightMu sync.Mutex
	inFlight   map[int64]struct{}
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerLogger configures the scheduler logger.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPollInterval overrides the poll cadence.
func WithPollInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// NewScheduler creates a scheduler over the given store and runner.
func NewScheduler(store *Store, runner AgentRunner, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        store,
		runner:       runner,
		logger:       slog.Default().With("component", "trigger-scheduler"),
		now:          time.Now,
		pollInterval: DefaultPollInterval,
		inFlight:     make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the poll loop. It returns immediately; the loop stops
// when ctx is cancelled. Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("trigger scheduler started", "poll_interval", s.pollInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the poll loop and outstanding executions to drain, or
// until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("trigger scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs a single poll cycle and returns the number of triggers
// dispatched.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	now := s.now().UTC()
	candidates, err := s.store.Due(ctx, now.Add(s.pollInterval+dueBuffer))
	if err != nil {
		s.logger.Error("trigger poll failed", "error", err)
		return 0
	}

	// Cancelling the poll context stops new dispatches only; runs already
	// in flight finish on their own and Stop waits for them.
	execCtx := context.WithoutCancel(ctx)

	dispatched := 0
	for _, trigger := range candidates {
		if trigger.NextFire == nil {
			continue
		}
		// Candidates inside the look-ahead window still may not be due
		// this tick.
		if trigger.NextFire.Sub(now) > s.pollInterval {
			continue
		}

		s.inFlightMu.Lock()
		if _, running := s.inFlight[trigger.ID]; running {
			s.inFlightMu.Unlock()
			s.logger.Info("trigger already in flight", "trigger_id", trigger.ID, "agent", trigger.AgentName)
			continue
		}
		s.inFlight[trigger.ID] = struct{}{}
		s.inFlightMu.Unlock()

		dispatched++
		s.wg.Add(1)
		go func(trigger Record) {
			defer s.wg.Done()
			s.execute(execCtx, trigger)
		}(trigger)
	}
	return dispatched
}

func (s *Scheduler) execute(ctx context.Context, trigger Record) {
	defer func() {
		s.inFlightMu.Lock()
		delete(s.inFlight, trigger.ID)
		s.inFlightMu.Unlock()
	}()

	firedAt := s.now().UTC()
	instructions := formatInstructions(trigger, firedAt)
	s.logger.Info("dispatching trigger",
		"trigger_id", trigger.ID,
		"agent", trigger.AgentName,
		"scheduled_for", trigger.NextFire,
		"fired_at", firedAt,
	)
	metrics.TriggersFired.Inc()

	if err := s.runner.RunAgent(ctx, trigger.AgentName, instructions); err != nil {
		s.handleFailure(ctx, trigger, firedAt, err)
		return
	}
	s.handleSuccess(ctx, trigger, firedAt)
}

func (s *Scheduler) handleSuccess(ctx context.Context, trigger Record, firedAt time.Time) {
	s.logger.Info("trigger completed", "trigger_id", trigger.ID, "agent", trigger.AgentName)
	if trigger.RecurrenceRule == "" {
		if err := s.store.MarkCompleted(ctx, trigger.ID, firedAt); err != nil {
			s.logger.Error("trigger completion update failed", "trigger_id", trigger.ID, "error", err)
		}
		return
	}
	s.advance(ctx, trigger, firedAt)
}

func (s *Scheduler) handleFailure(ctx context.Context, trigger Record, firedAt time.Time, runErr error) {
	s.logger.Warn("trigger execution failed",
		"trigger_id", trigger.ID, "agent", trigger.AgentName, "error", runErr)
	metrics.TriggerFailures.Inc()
	if err := s.store.RecordFailure(ctx, trigger.ID, runErr.Error(), firedAt); err != nil {
		s.logger.Error("trigger failure update failed", "trigger_id", trigger.ID, "error", err)
	}
	if trigger.RecurrenceRule != "" {
		// Recurring triggers keep their schedule even after a failed run.
		s.advance(ctx, trigger, firedAt)
		return
	}
	if err := s.store.SetNextFire(ctx, trigger.ID, nil, firedAt); err != nil {
		s.logger.Error("trigger clear failed", "trigger_id", trigger.ID, "error", err)
	}
}

// advance writes the next occurrence strictly after firedAt; a rule with
// no further occurrences completes the trigger.
func (s *Scheduler) advance(ctx context.Context, trigger Record, firedAt time.Time) {
	next, ok, err := NextOccurrence(trigger.RecurrenceRule, trigger.Timezone, trigger.StartTime, firedAt)
	if err != nil {
		s.logger.Error("recurrence evaluation failed", "trigger_id", trigger.ID, "rule", trigger.RecurrenceRule, "error", err)
		if recErr := s.store.RecordFailure(ctx, trigger.ID, err.Error(), firedAt); recErr != nil {
			s.logger.Error("trigger failure update failed", "trigger_id", trigger.ID, "error", recErr)
		}
		return
	}
	if !ok {
		if err := s.store.MarkCompleted(ctx, trigger.ID, firedAt); err != nil {
			s.logger.Error("trigger completion update failed", "trigger_id", trigger.ID, "error", err)
		}
		return
	}
	if err := s.store.SetNextFire(ctx, trigger.ID, &next, firedAt); err != nil {
		s.logger.Error("trigger reschedule failed", "trigger_id", trigger.ID, "error", err)
	}
}

func formatInstructions(trigger Record, firedAt time.Time) string {
	scheduledFor := formatTime(firedAt)
	if trigger.NextFire != nil {
		scheduledFor = formatTime(*trigger.NextFire)
	}
	metadata := fmt.Sprintf("- Trigger ID: %d", trigger.ID)
	if trigger.RecurrenceRule != "" {
		metadata += fmt.Sprintf("\n- Recurrence: %s", trigger.RecurrenceRule)
	}
	if trigger.Timezone != "" {
		metadata += fmt.Sprintf("\n- Timezone: %s", trigger.Timezone)
	}
	if !trigger.StartTime.IsZero() {
		metadata += fmt.Sprintf("\n- Start Time (UTC): %s", formatTime(trigger.StartTime))
	}
	return fmt.Sprintf(
		"Trigger fired at %s (UTC).\nScheduled occurrence time: %s.\n\nMetadata:\n%s\n\nPayload:\n%s",
		formatTime(firedAt), scheduledFor, metadata, trigger.Payload)
}
