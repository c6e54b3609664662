package triggers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	inputs  []string
	ctxs    []context.Context
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) RunAgent(ctx context.Context, agentName, instructions string) error {
	f.mu.Lock()
	f.calls = append(f.calls, agentName)
	f.inputs = append(f.inputs, instructions)
	f.ctxs = append(f.ctxs, ctx)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestRunOnceDispatchesDueTrigger(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	rec, err := s.Create(ctx, Record{AgentName: "worker", Payload: "do the thing", StartTime: now.Add(5 * time.Second)}, now)
	require.NoError(t, err)

	runner := &fakeRunner{}
	sched := NewScheduler(s, runner, WithNow(func() time.Time { return now }))

	assert.Equal(t, 1, sched.RunOnce(ctx))
	require.NoError(t, sched.Stop(ctx))

	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, "worker", runner.calls[0])
	assert.Contains(t, runner.inputs[0], "Trigger fired at")
	assert.Contains(t, runner.inputs[0], "do the thing")
	assert.True(t, strings.Contains(runner.inputs[0], "Trigger ID:"))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Nil(t, got.NextFire)
}

func TestRunOnceSkipsNotYetDue(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Inside the look-ahead window but beyond one poll interval.
	_, err := s.Create(ctx, Record{AgentName: "worker", Payload: "later", StartTime: now.Add(12 * time.Second)}, now)
	require.NoError(t, err)

	runner := &fakeRunner{}
	sched := NewScheduler(s, runner, WithNow(func() time.Time { return now }))
	assert.Equal(t, 0, sched.RunOnce(ctx))
	assert.Zero(t, runner.callCount())
}

func TestInFlightTriggerNotRedispatched(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	_, err := s.Create(ctx, Record{AgentName: "slow", Payload: "p", StartTime: now}, now)
	require.NoError(t, err)

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	sched := NewScheduler(s, runner, WithNow(func() time.Time { return now }))

	assert.Equal(t, 1, sched.RunOnce(ctx))
	<-runner.started

	// Two more ticks while the execution is still running.
	assert.Equal(t, 0, sched.RunOnce(ctx))
	assert.Equal(t, 0, sched.RunOnce(ctx))
	assert.Equal(t, 1, runner.callCount())

	close(runner.block)
	require.NoError(t, sched.Stop(ctx))
}

func TestPollCancellationSparesInFlightRuns(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	pollCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec, err := s.Create(context.Background(), Record{AgentName: "worker", Payload: "p", StartTime: now}, now)
	require.NoError(t, err)

	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	sched := NewScheduler(s, runner, WithNow(func() time.Time { return now }))

	assert.Equal(t, 1, sched.RunOnce(pollCtx))
	<-runner.started

	// Shutdown: the poll context is cancelled while the run is mid-flight.
	cancel()
	close(runner.block)
	require.NoError(t, sched.Stop(context.Background()))

	runner.mu.Lock()
	runCtx := runner.ctxs[0]
	runner.mu.Unlock()
	assert.NoError(t, runCtx.Err(), "in-flight run keeps a live context")

	got, err := s.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.LastError)
}

func TestRecurringFailureAdvancesAndRecordsError(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	rec, err := s.Create(ctx, Record{
		AgentName:      "worker",
		Payload:        "p",
		RecurrenceRule: "FREQ=MINUTELY;INTERVAL=1",
		StartTime:      now,
	}, now)
	require.NoError(t, err)
	// Force it due now.
	fireAt := now
	_, err = s.Update(ctx, rec.ID, UpdateFields{NextFire: ptrPtr(&fireAt)}, now)
	require.NoError(t, err)

	runner := &fakeRunner{err: errors.New("integration down")}
	sched := NewScheduler(s, runner, WithNow(func() time.Time { return now }))
	assert.Equal(t, 1, sched.RunOnce(ctx))
	require.NoError(t, sched.Stop(ctx))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, "integration down", got.LastError)
	require.NotNil(t, got.NextFire)
	assert.True(t, got.NextFire.Sub(now) >= time.Minute, "next fire advanced by at least one interval")
}

func TestOneShotFailureClearsNextFireKeepsStatus(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	rec, err := s.Create(ctx, Record{AgentName: "worker", Payload: "p", StartTime: now}, now)
	require.NoError(t, err)

	runner := &fakeRunner{err: errors.New("boom")}
	sched := NewScheduler(s, runner, WithNow(func() time.Time { return now }))
	assert.Equal(t, 1, sched.RunOnce(ctx))
	require.NoError(t, sched.Stop(ctx))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status, "failed one-shots stay inspectable")
	assert.Nil(t, got.NextFire)
	assert.Equal(t, "boom", got.LastError)
}

func TestRecurringSuccessAdvances(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	rec, err := s.Create(ctx, Record{
		AgentName:      "worker",
		Payload:        "p",
		RecurrenceRule: "FREQ=MINUTELY;INTERVAL=5",
		StartTime:      now,
	}, now)
	require.NoError(t, err)
	fireAt := now
	_, err = s.Update(ctx, rec.ID, UpdateFields{NextFire: ptrPtr(&fireAt)}, now)
	require.NoError(t, err)

	runner := &fakeRunner{}
	sched := NewScheduler(s, runner, WithNow(func() time.Time { return now }))
	assert.Equal(t, 1, sched.RunOnce(ctx))
	require.NoError(t, sched.Stop(ctx))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)
	require.NotNil(t, got.NextFire)
	assert.True(t, got.NextFire.Sub(now) >= 5*time.Minute)
}

func TestStartStopLifecycle(t *testing.T) {
	s := testStore(t)
	runner := &fakeRunner{}
	sched := NewScheduler(s, runner, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))
	require.NoError(t, sched.Start(ctx), "second start is a no-op")
	time.Sleep(30 * time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, sched.Stop(stopCtx))
}

func ptrPtr(t *time.Time) **time.Time {
	return &t
}
