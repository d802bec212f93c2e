package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renholm/stagehand/internal/engine"
	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/pkg/schema"
)

// memStore is an in-memory Store stub covering only what the scheduler uses.
type memStore struct {
	store.Store

	mu      sync.Mutex
	jobs    map[string]*store.ScheduledJob
	updates map[string][]store.ScheduledJobUpdate
}

func newMemStore(jobs ...*store.ScheduledJob) *memStore {
	m := &memStore{
		jobs:    make(map[string]*store.ScheduledJob),
		updates: make(map[string][]store.ScheduledJobUpdate),
	}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ScheduledJob
	for _, j := range m.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (m *memStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[id] = append(m.updates[id], update)
	if j, ok := m.jobs[id]; ok {
		if update.LastRunAt != nil {
			j.LastRunAt = update.LastRunAt
		}
		if update.NextRunAt != nil {
			j.NextRunAt = update.NextRunAt
		}
		if update.LastRunStatus != "" {
			j.LastRunStatus = update.LastRunStatus
		}
	}
	return nil
}

func (m *memStore) updatesFor(id string) []store.ScheduledJobUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.ScheduledJobUpdate(nil), m.updates[id]...)
}

// recordingRunner records Run invocations and optionally fails.
type recordingRunner struct {
	mu    sync.Mutex
	calls []runCall
	err   error
	block chan struct{}
}

type runCall struct {
	workflow string
	vars     map[string]any
}

func (r *recordingRunner) Run(_ context.Context, workflowName string, vars map[string]any) (*engine.RunResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runCall{workflow: workflowName, vars: vars})
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
	}
	if r.err != nil {
		return nil, r.err
	}
	return &engine.RunResult{Status: schema.RunStatusCompleted}, nil
}

func (r *recordingRunner) Calls() []runCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runCall(nil), r.calls...)
}

func pastTime() *time.Time {
	t := time.Now().UTC().Add(-time.Hour)
	return &t
}

func futureTime() *time.Time {
	t := time.Now().UTC().Add(time.Hour)
	return &t
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(newMemStore(), &recordingRunner{}, 1, nil)

	from := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 9 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(15*time.Minute), next)

	_, err = s.CalculateNextRun("not a cron", from)
	require.Error(t, err)
}

func TestTick_RunsDueJobs(t *testing.T) {
	due := &store.ScheduledJob{
		ID:             "job-due",
		Workflow:       "nightly",
		CronExpression: "0 3 * * *",
		Vars:           json.RawMessage(`{"env":"prod"}`),
		Enabled:        true,
		NextRunAt:      pastTime(),
	}
	notDue := &store.ScheduledJob{
		ID:             "job-later",
		Workflow:       "weekly",
		CronExpression: "0 3 * * 0",
		Enabled:        true,
		NextRunAt:      futureTime(),
	}
	disabled := &store.ScheduledJob{
		ID:             "job-off",
		Workflow:       "nightly",
		CronExpression: "0 3 * * *",
		Enabled:        false,
		NextRunAt:      pastTime(),
	}

	ms := newMemStore(due, notDue, disabled)
	runner := &recordingRunner{}
	s := NewScheduler(ms, runner, 2, nil)

	s.tick(context.Background())
	s.pool.Wait()

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nightly", calls[0].workflow)
	assert.Equal(t, map[string]any{"env": "prod"}, calls[0].vars)

	updates := ms.updatesFor("job-due")
	require.Len(t, updates, 1)
	assert.Equal(t, "success", updates[0].LastRunStatus)
	require.NotNil(t, updates[0].NextRunAt)
	assert.True(t, updates[0].NextRunAt.After(time.Now().UTC().Add(-time.Minute)))

	assert.Empty(t, ms.updatesFor("job-later"))
	assert.Empty(t, ms.updatesFor("job-off"))
}

func TestTick_InflightJobNotResubmitted(t *testing.T) {
	job := &store.ScheduledJob{
		ID:             "job-slow",
		Workflow:       "slow",
		CronExpression: "* * * * *",
		Enabled:        true,
		NextRunAt:      pastTime(),
	}

	ms := newMemStore(job)
	runner := &recordingRunner{block: make(chan struct{})}
	s := NewScheduler(ms, runner, 2, nil)

	s.tick(context.Background())
	// Second tick while the first run is still blocked inside the runner.
	require.Eventually(t, func() bool {
		return len(runner.Calls()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	s.tick(context.Background())

	close(runner.block)
	s.pool.Wait()

	assert.Len(t, runner.Calls(), 1)
}

func TestRunJob_FailureRecordsErrorStatus(t *testing.T) {
	job := &store.ScheduledJob{
		ID:             "job-bad",
		Workflow:       "broken",
		CronExpression: "0 * * * *",
		Enabled:        true,
	}

	ms := newMemStore(job)
	runner := &recordingRunner{err: schema.NewError(schema.ErrKindWorkflow, "unknown workflow")}
	s := NewScheduler(ms, runner, 1, nil)

	require.NoError(t, s.runJob(context.Background(), job, time.Now().UTC()))

	updates := ms.updatesFor("job-bad")
	require.Len(t, updates, 1)
	assert.Equal(t, "error", updates[0].LastRunStatus)
}

func TestRunJob_InvalidVars(t *testing.T) {
	job := &store.ScheduledJob{
		ID:             "job-garbage",
		Workflow:       "nightly",
		CronExpression: "0 * * * *",
		Vars:           json.RawMessage(`{not json`),
		Enabled:        true,
	}

	ms := newMemStore(job)
	runner := &recordingRunner{}
	s := NewScheduler(ms, runner, 1, nil)

	require.NoError(t, s.runJob(context.Background(), job, time.Now().UTC()))

	assert.Empty(t, runner.Calls(), "the workflow is never launched with unparseable vars")
	updates := ms.updatesFor("job-garbage")
	require.Len(t, updates, 1)
	assert.Equal(t, "error", updates[0].LastRunStatus)
}

func TestRecoverMissed(t *testing.T) {
	missed := &store.ScheduledJob{
		ID:             "job-missed",
		Workflow:       "nightly",
		CronExpression: "0 3 * * *",
		Enabled:        true,
		NextRunAt:      pastTime(),
	}
	current := &store.ScheduledJob{
		ID:             "job-current",
		Workflow:       "weekly",
		CronExpression: "0 3 * * 0",
		Enabled:        true,
		NextRunAt:      futureTime(),
	}
	unscheduled := &store.ScheduledJob{
		ID:             "job-new",
		Workflow:       "adhoc",
		CronExpression: "0 3 * * *",
		Enabled:        true,
	}

	ms := newMemStore(missed, current, unscheduled)
	runner := &recordingRunner{}
	s := NewScheduler(ms, runner, 1, nil)

	require.NoError(t, s.RecoverMissed(context.Background()))

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "nightly", calls[0].workflow)

	updates := ms.updatesFor("job-missed")
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].NextRunAt)
	assert.True(t, updates[0].NextRunAt.After(time.Now().UTC()))
}

func TestStartStop(t *testing.T) {
	ms := newMemStore()
	s := NewScheduler(ms, &recordingRunner{}, 1, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start is rejected")

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}
