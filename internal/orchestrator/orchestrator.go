// Package orchestrator owns the recurring fetch pipeline: on every tick it
// finds due schedules, pulls postings from the job board, enriches and stores
// them, and broadcasts the batch to the schedule's user.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/applyhq/applypilot/internal/broadcast"
	"github.com/applyhq/applypilot/internal/config"
	"github.com/applyhq/applypilot/internal/enrich"
	"github.com/applyhq/applypilot/internal/jobboard"
	"github.com/applyhq/applypilot/pkg/models"
)

// JobStore is the slice of the store the orchestrator needs.
type JobStore interface {
	UpsertJobs(ctx context.Context, jobs []models.Job) (int, error)
}

// FetchError reports a failed board fetch for one user's schedule.
type FetchError struct {
	UserID uuid.UUID
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching jobs for user %s: %v", e.UserID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// BroadcastError reports a failed delivery of a fetched batch.
type BroadcastError struct {
	UserID uuid.UUID
	Err    error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcasting jobs for user %s: %v", e.UserID, e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// Orchestrator runs the periodic fetch loop. Schedules live only in memory;
// they are lost on restart and must be re-registered through the API.
//
// Two locks: mu guards the schedule map and is held only for map access,
// runMu serializes pipeline runs so a slow board call never overlaps with
// the next tick or a FetchNow from the API.
type Orchestrator struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*models.Schedule

	runMu sync.Mutex

	board       jobboard.Client
	enricher    enrich.Enricher
	broadcaster broadcast.Broadcaster
	store       JobStore
	cfg         config.OrchestratorConfig
	source      string
}

func New(board jobboard.Client, enricher enrich.Enricher, broadcaster broadcast.Broadcaster, store JobStore, cfg config.OrchestratorConfig, source string) *Orchestrator {
	return &Orchestrator{
		schedules:   map[uuid.UUID]*models.Schedule{},
		board:       board,
		enricher:    enricher,
		broadcaster: broadcaster,
		store:       store,
		cfg:         cfg,
		source:      source,
	}
}

// Run ticks until ctx is cancelled. Each tick runs the pipeline for every
// due schedule, one at a time.
func (o *Orchestrator) Run(ctx context.Context) {
	slog.Info("orchestrator started", "tick_interval", o.cfg.TickInterval)
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("orchestrator stopped")
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	now := time.Now()
	for _, sched := range o.dueSchedules(now) {
		if err := o.runPipeline(ctx, sched); err != nil {
			slog.Error("fetch cycle failed", "user_id", sched.UserID, "error", err)
		}
	}
}

// dueSchedules snapshots the enabled schedules whose interval has elapsed.
// A schedule that has never run successfully is always due.
func (o *Orchestrator) dueSchedules(now time.Time) []models.Schedule {
	o.mu.Lock()
	defer o.mu.Unlock()

	var due []models.Schedule
	for _, s := range o.schedules {
		if !s.Enabled {
			continue
		}
		if s.LastRun.IsZero() || now.Sub(s.LastRun) >= s.Interval {
			due = append(due, *s)
		}
	}
	return due
}

// runPipeline executes one fetch cycle for a schedule. LastRun advances only
// when both the fetch and the broadcast succeed, so a failed cycle is retried
// on the next tick.
func (o *Orchestrator) runPipeline(ctx context.Context, sched models.Schedule) error {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	jobs, err := o.fetch(ctx, sched.UserID, sched.Params)
	if err != nil {
		return err
	}

	if err := o.deliver(ctx, sched.UserID, jobs); err != nil {
		return err
	}

	o.mu.Lock()
	if cur, ok := o.schedules[sched.UserID]; ok {
		cur.LastRun = time.Now()
	}
	o.mu.Unlock()

	slog.Info("fetch cycle complete", "user_id", sched.UserID, "jobs", len(jobs))
	return nil
}

// fetch pulls postings from the board, caps the batch, enriches it and
// persists it. Enrichment and persistence failures degrade the cycle but do
// not fail it: consumers still get the raw batch.
func (o *Orchestrator) fetch(ctx context.Context, userID uuid.UUID, params models.SearchParams) ([]models.Job, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	jobs, err := o.board.Search(callCtx, params)
	if err != nil {
		return nil, &FetchError{UserID: userID, Err: err}
	}

	if len(jobs) > o.cfg.MaxJobsPerCycle {
		jobs = jobs[:o.cfg.MaxJobsPerCycle]
	}

	enriched, err := o.enricher.Enrich(ctx, jobs)
	if err != nil {
		slog.Warn("enrichment failed, using raw batch", "user_id", userID, "error", err)
		enriched = jobs
	}

	storeCtx, cancelStore := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancelStore()
	if _, err := o.store.UpsertJobs(storeCtx, enriched); err != nil {
		slog.Error("persisting fetched jobs failed", "user_id", userID, "error", err)
	}

	return enriched, nil
}

func (o *Orchestrator) deliver(ctx context.Context, userID uuid.UUID, jobs []models.Job) error {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	stats := broadcast.Stats{Count: len(jobs), Source: o.source, FetchedAt: time.Now().UTC()}
	received, err := o.broadcaster.Publish(callCtx, userID, jobs, stats)
	if err != nil {
		return &BroadcastError{UserID: userID, Err: err}
	}

	slog.Debug("batch broadcast", "user_id", userID, "jobs", len(jobs), "receivers", received)
	return nil
}

// Schedule registers or replaces the user's recurring fetch. A replaced
// schedule starts over: its LastRun resets to zero.
func (o *Orchestrator) Schedule(s models.Schedule) error {
	if s.Interval <= 0 {
		return fmt.Errorf("schedule interval must be positive, got %v", s.Interval)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s.LastRun = time.Time{}
	o.schedules[s.UserID] = &s
	return nil
}

// Unschedule removes the user's schedule. Removing an absent schedule is a no-op.
func (o *Orchestrator) Unschedule(userID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.schedules, userID)
}

// Schedules returns a snapshot of all registered schedules.
func (o *Orchestrator) Schedules() []models.Schedule {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.Schedule, 0, len(o.schedules))
	for _, s := range o.schedules {
		out = append(out, *s)
	}
	return out
}

// GetSchedule returns the user's schedule, if registered.
func (o *Orchestrator) GetSchedule(userID uuid.UUID) (models.Schedule, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.schedules[userID]
	if !ok {
		return models.Schedule{}, false
	}
	return *s, true
}

// FetchNow runs the user's registered schedule immediately, regardless of
// its interval. The cycle counts: LastRun advances on success.
func (o *Orchestrator) FetchNow(ctx context.Context, userID uuid.UUID) error {
	sched, ok := o.GetSchedule(userID)
	if !ok {
		return fmt.Errorf("no schedule registered for user %s", userID)
	}
	return o.runPipeline(ctx, sched)
}

// Fetch runs a one-off fetch with explicit params. It does not touch any
// registered schedule and returns the batch to the caller instead of
// broadcasting it.
func (o *Orchestrator) Fetch(ctx context.Context, userID uuid.UUID, params models.SearchParams) ([]models.Job, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.fetch(ctx, userID, params)
}
