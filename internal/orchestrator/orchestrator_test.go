package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyhq/applypilot/internal/broadcast"
	"github.com/applyhq/applypilot/internal/config"
	"github.com/applyhq/applypilot/internal/enrich"
	"github.com/applyhq/applypilot/internal/jobboard"
	"github.com/applyhq/applypilot/pkg/models"
)

// --- fakes ---

type fakeBoard struct {
	jobs      []models.Job
	err       error
	calls     int
	gotParams models.SearchParams
}

func (f *fakeBoard) Search(_ context.Context, params models.SearchParams) ([]models.Job, error) {
	f.calls++
	f.gotParams = params
	return f.jobs, f.err
}

func (f *fakeBoard) Submit(context.Context, jobboard.SubmitRequest) (*jobboard.SubmitReceipt, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBoard) Ready(context.Context) error { return nil }

type fakeBroadcaster struct {
	err      error
	calls    int
	gotUser  uuid.UUID
	gotJobs  []models.Job
	gotStats broadcast.Stats
}

func (f *fakeBroadcaster) Publish(_ context.Context, userID uuid.UUID, jobs []models.Job, stats broadcast.Stats) (int, error) {
	f.calls++
	f.gotUser = userID
	f.gotJobs = jobs
	f.gotStats = stats
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

type fakeStore struct {
	err      error
	upserted [][]models.Job
}

func (f *fakeStore) UpsertJobs(_ context.Context, jobs []models.Job) (int, error) {
	f.upserted = append(f.upserted, jobs)
	if f.err != nil {
		return 0, f.err
	}
	return len(jobs), nil
}

type failingEnricher struct{}

func (failingEnricher) Name() string { return "failing" }

func (failingEnricher) Enrich(context.Context, []models.Job) ([]models.Job, error) {
	return nil, errors.New("enrich blew up")
}

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		TickInterval:    time.Minute,
		CallTimeout:     5 * time.Second,
		MaxJobsPerCycle: 100,
	}
}

func newTestOrchestrator(board *fakeBoard, bc *fakeBroadcaster, st *fakeStore) *Orchestrator {
	return New(board, enrich.Noop{}, bc, st, testConfig(), "board")
}

func someJobs(n int) []models.Job {
	jobs := make([]models.Job, n)
	for i := range jobs {
		jobs[i] = models.Job{ExternalID: uuid.NewString(), Source: "board", Title: "Go Engineer"}
	}
	return jobs
}

// --- pipeline ---

func TestFetchNow_SuccessAdvancesLastRun(t *testing.T) {
	board := &fakeBoard{jobs: someJobs(3)}
	bc := &fakeBroadcaster{}
	st := &fakeStore{}
	o := newTestOrchestrator(board, bc, st)

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{
		UserID:   userID,
		Params:   models.SearchParams{Keywords: []string{"go"}},
		Enabled:  true,
		Interval: time.Hour,
	}))

	before := time.Now()
	require.NoError(t, o.FetchNow(context.Background(), userID))

	assert.Equal(t, 1, board.calls)
	assert.Equal(t, []string{"go"}, board.gotParams.Keywords)

	require.Len(t, st.upserted, 1)
	assert.Len(t, st.upserted[0], 3)

	assert.Equal(t, 1, bc.calls)
	assert.Equal(t, userID, bc.gotUser)
	assert.Len(t, bc.gotJobs, 3)
	assert.Equal(t, 3, bc.gotStats.Count)
	assert.Equal(t, "board", bc.gotStats.Source)

	sched, ok := o.GetSchedule(userID)
	require.True(t, ok)
	assert.False(t, sched.LastRun.IsZero())
	assert.False(t, sched.LastRun.Before(before))
}

func TestFetchNow_FetchFailureKeepsLastRunZero(t *testing.T) {
	board := &fakeBoard{err: jobboard.ErrBoardUnreachable}
	bc := &fakeBroadcaster{}
	st := &fakeStore{}
	o := newTestOrchestrator(board, bc, st)

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))

	err := o.FetchNow(context.Background(), userID)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, userID, fetchErr.UserID)
	assert.ErrorIs(t, err, jobboard.ErrBoardUnreachable)

	assert.Equal(t, 0, bc.calls)
	assert.Empty(t, st.upserted)

	sched, _ := o.GetSchedule(userID)
	assert.True(t, sched.LastRun.IsZero())
}

func TestFetchNow_BroadcastFailureKeepsLastRunZero(t *testing.T) {
	board := &fakeBoard{jobs: someJobs(2)}
	bc := &fakeBroadcaster{err: errors.New("redis down")}
	st := &fakeStore{}
	o := newTestOrchestrator(board, bc, st)

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))

	err := o.FetchNow(context.Background(), userID)
	require.Error(t, err)

	var bcErr *BroadcastError
	require.ErrorAs(t, err, &bcErr)
	assert.Equal(t, userID, bcErr.UserID)

	// The fetch half still ran: postings were persisted.
	assert.Len(t, st.upserted, 1)

	sched, _ := o.GetSchedule(userID)
	assert.True(t, sched.LastRun.IsZero())
}

func TestFetchNow_EnrichFailureDegradesToRawBatch(t *testing.T) {
	board := &fakeBoard{jobs: someJobs(2)}
	bc := &fakeBroadcaster{}
	st := &fakeStore{}
	o := New(board, failingEnricher{}, bc, st, testConfig(), "board")

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))

	require.NoError(t, o.FetchNow(context.Background(), userID))
	assert.Len(t, bc.gotJobs, 2)
	require.Len(t, st.upserted, 1)
	assert.Len(t, st.upserted[0], 2)
}

func TestFetchNow_StoreFailureDoesNotFailCycle(t *testing.T) {
	board := &fakeBoard{jobs: someJobs(1)}
	bc := &fakeBroadcaster{}
	st := &fakeStore{err: errors.New("postgres down")}
	o := newTestOrchestrator(board, bc, st)

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))

	require.NoError(t, o.FetchNow(context.Background(), userID))

	sched, _ := o.GetSchedule(userID)
	assert.False(t, sched.LastRun.IsZero())
}

func TestFetchNow_CapsBatchSize(t *testing.T) {
	board := &fakeBoard{jobs: someJobs(150)}
	bc := &fakeBroadcaster{}
	st := &fakeStore{}
	o := newTestOrchestrator(board, bc, st)

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))

	require.NoError(t, o.FetchNow(context.Background(), userID))
	assert.Len(t, bc.gotJobs, 100)
	require.Len(t, st.upserted, 1)
	assert.Len(t, st.upserted[0], 100)
}

func TestFetchNow_UnknownUser(t *testing.T) {
	o := newTestOrchestrator(&fakeBoard{}, &fakeBroadcaster{}, &fakeStore{})
	err := o.FetchNow(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schedule registered")
}

// --- one-off fetch ---

func TestFetch_DoesNotTouchSchedule(t *testing.T) {
	board := &fakeBoard{jobs: someJobs(2)}
	bc := &fakeBroadcaster{}
	st := &fakeStore{}
	o := newTestOrchestrator(board, bc, st)

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))

	jobs, err := o.Fetch(context.Background(), userID, models.SearchParams{Keywords: []string{"sre"}})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, 0, bc.calls)

	sched, _ := o.GetSchedule(userID)
	assert.True(t, sched.LastRun.IsZero())
}

// --- schedule management ---

func TestSchedule_RejectsNonPositiveInterval(t *testing.T) {
	o := newTestOrchestrator(&fakeBoard{}, &fakeBroadcaster{}, &fakeStore{})
	err := o.Schedule(models.Schedule{UserID: uuid.New(), Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval must be positive")
}

func TestSchedule_ReplaceResetsLastRun(t *testing.T) {
	board := &fakeBoard{jobs: someJobs(1)}
	o := newTestOrchestrator(board, &fakeBroadcaster{}, &fakeStore{})

	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))
	require.NoError(t, o.FetchNow(context.Background(), userID))

	sched, _ := o.GetSchedule(userID)
	require.False(t, sched.LastRun.IsZero())

	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: 2 * time.Hour}))
	sched, _ = o.GetSchedule(userID)
	assert.True(t, sched.LastRun.IsZero())
	assert.Equal(t, 2*time.Hour, sched.Interval)
}

func TestUnschedule(t *testing.T) {
	o := newTestOrchestrator(&fakeBoard{}, &fakeBroadcaster{}, &fakeStore{})
	userID := uuid.New()
	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))

	o.Unschedule(userID)
	_, ok := o.GetSchedule(userID)
	assert.False(t, ok)

	// Removing twice is fine.
	o.Unschedule(userID)
}

func TestSchedules_Snapshot(t *testing.T) {
	o := newTestOrchestrator(&fakeBoard{}, &fakeBroadcaster{}, &fakeStore{})
	require.NoError(t, o.Schedule(models.Schedule{UserID: uuid.New(), Enabled: true, Interval: time.Hour}))
	require.NoError(t, o.Schedule(models.Schedule{UserID: uuid.New(), Enabled: false, Interval: time.Hour}))

	assert.Len(t, o.Schedules(), 2)
}

// --- due selection ---

func TestDueSchedules(t *testing.T) {
	o := newTestOrchestrator(&fakeBoard{}, &fakeBroadcaster{}, &fakeStore{})
	now := time.Now()

	neverRun := uuid.New()
	recentlyRun := uuid.New()
	overdue := uuid.New()
	disabled := uuid.New()

	require.NoError(t, o.Schedule(models.Schedule{UserID: neverRun, Enabled: true, Interval: time.Hour}))
	require.NoError(t, o.Schedule(models.Schedule{UserID: recentlyRun, Enabled: true, Interval: time.Hour}))
	require.NoError(t, o.Schedule(models.Schedule{UserID: overdue, Enabled: true, Interval: time.Hour}))
	require.NoError(t, o.Schedule(models.Schedule{UserID: disabled, Enabled: false, Interval: time.Hour}))

	o.mu.Lock()
	o.schedules[recentlyRun].LastRun = now.Add(-10 * time.Minute)
	o.schedules[overdue].LastRun = now.Add(-2 * time.Hour)
	o.mu.Unlock()

	due := o.dueSchedules(now)
	dueUsers := make(map[uuid.UUID]bool, len(due))
	for _, s := range due {
		dueUsers[s.UserID] = true
	}

	assert.True(t, dueUsers[neverRun], "never-run schedule should be due")
	assert.True(t, dueUsers[overdue], "overdue schedule should be due")
	assert.False(t, dueUsers[recentlyRun], "recently run schedule should not be due")
	assert.False(t, dueUsers[disabled], "disabled schedule should not be due")
}

func TestDueSchedules_ExactInterval(t *testing.T) {
	o := newTestOrchestrator(&fakeBoard{}, &fakeBroadcaster{}, &fakeStore{})
	now := time.Now()
	userID := uuid.New()

	require.NoError(t, o.Schedule(models.Schedule{UserID: userID, Enabled: true, Interval: time.Hour}))
	o.mu.Lock()
	o.schedules[userID].LastRun = now.Add(-time.Hour)
	o.mu.Unlock()

	due := o.dueSchedules(now)
	require.Len(t, due, 1)
	assert.Equal(t, userID, due[0].UserID)
}
