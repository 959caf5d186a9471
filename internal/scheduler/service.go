// Package scheduler turns a workflow's queue into a paced submission plan:
// it scores every schedulable item, packs the items into business-hour slots
// and writes priority and next_run_at back to the store.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/applyhq/applypilot/internal/cache"
	"github.com/applyhq/applypilot/internal/ratelimit"
	"github.com/applyhq/applypilot/internal/store"
	"github.com/applyhq/applypilot/pkg/models"
	"github.com/applyhq/applypilot/pkg/scheduling"
)

const progressCacheTTL = 30 * time.Second

// Store is the slice of the data layer the scheduler needs.
type Store interface {
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetQueueItems(ctx context.Context, workflowID uuid.UUID) ([]*models.QueueItem, error)
	GetJobsByExternalIDs(ctx context.Context, externalIDs []string) ([]*models.Job, error)
	BulkUpdateSchedule(ctx context.Context, updates []store.ScheduleUpdate) (int, error)
	GetWorkflowProgress(ctx context.Context, workflowID uuid.UUID) (map[string]int, error)
}

// Report summarizes one optimizer pass.
type Report struct {
	WorkflowID     uuid.UUID `json:"workflow_id"`
	ScheduledCount int       `json:"scheduled_count"`
	TotalCount     int       `json:"total_count"`
}

// WorkflowEstimate is the progress endpoint's companion: a coarse completion
// projection plus the owning user's current submission budget.
type WorkflowEstimate struct {
	WorkflowID uuid.UUID           `json:"workflow_id"`
	Estimate   scheduling.Estimate `json:"estimate"`
	Progress   map[string]int      `json:"progress"`
	RateLimit  ratelimit.Status    `json:"rate_limit"`
}

// Service wires the pure scheduling package to the store, the cache and the
// rate limiter.
type Service struct {
	store   Store
	cache   cache.Cache
	limiter *ratelimit.Limiter
}

func NewService(st Store, c cache.Cache, limiter *ratelimit.Limiter) *Service {
	return &Service{store: st, cache: c, limiter: limiter}
}

// schedulable statuses: items already in flight or finished keep their slots.
func schedulable(status string) bool {
	switch status {
	case models.QueueStatusPending, models.QueueStatusReady, models.QueueStatusRateLimited:
		return true
	}
	return false
}

// OptimizeWorkflow recomputes priorities and submission slots for every
// schedulable item in the workflow.
func (s *Service) OptimizeWorkflow(ctx context.Context, workflowID uuid.UUID) (*Report, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return s.OptimizeWorkflowAt(ctx, workflowID, time.Now(), rng)
}

// OptimizeWorkflowAt is OptimizeWorkflow with an explicit clock and RNG.
func (s *Service) OptimizeWorkflowAt(ctx context.Context, workflowID uuid.UUID, now time.Time, rng *rand.Rand) (*Report, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}

	items, err := s.store.GetQueueItems(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading queue items: %w", err)
	}

	var candidates []*models.QueueItem
	externalIDs := make([]string, 0, len(items))
	for _, item := range items {
		if schedulable(item.Status) {
			candidates = append(candidates, item)
			externalIDs = append(externalIDs, item.JobExternalID)
		}
	}
	if len(candidates) == 0 {
		return &Report{WorkflowID: workflowID, TotalCount: len(items)}, nil
	}

	jobs, err := s.store.GetJobsByExternalIDs(ctx, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("loading jobs: %w", err)
	}
	jobsByID := make(map[string]*models.Job, len(jobs))
	for _, j := range jobs {
		jobsByID[j.ExternalID] = j
	}

	user, err := s.store.GetUser(ctx, wf.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow owner: %w", err)
	}

	scored := make([]scheduling.ScoredItem, 0, len(candidates))
	for _, item := range candidates {
		match := 0
		if item.MatchScore != nil {
			match = *item.MatchScore
		}
		var title, description string
		if job, ok := jobsByID[item.JobExternalID]; ok {
			title, description = job.Title, job.Description
		}
		scored = append(scored, scheduling.ScoredItem{
			Item:  *item,
			Score: scheduling.PriorityScore(match, now.Sub(item.CreatedAt), title, description),
		})
	}

	planned := scheduling.Optimize(scored, user.Timezone, now, rng)

	updates := make([]store.ScheduleUpdate, len(planned))
	for i, p := range planned {
		updates[i] = store.ScheduleUpdate{
			ItemID:    p.Item.ID,
			Priority:  p.Score,
			NextRunAt: p.ScheduledAt,
		}
	}

	updated, err := s.store.BulkUpdateSchedule(ctx, updates)
	if err != nil {
		return nil, fmt.Errorf("writing schedule back: %w", err)
	}

	slog.Info("workflow optimized",
		"workflow_id", workflowID,
		"scheduled", updated,
		"total", len(items))

	return &Report{
		WorkflowID:     workflowID,
		ScheduledCount: updated,
		TotalCount:     len(items),
	}, nil
}

// Progress returns the workflow's status counts, serving a short-lived cached
// snapshot when one exists.
func (s *Service) Progress(ctx context.Context, workflowID uuid.UUID) (map[string]int, error) {
	if s.cache != nil {
		if snapshot, found, err := s.cache.GetWorkflowProgress(ctx, workflowID); err == nil && found {
			return snapshot, nil
		}
	}

	progress, err := s.store.GetWorkflowProgress(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow progress: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetWorkflowProgress(ctx, workflowID, progress, progressCacheTTL); err != nil {
			slog.Warn("caching workflow progress failed", "workflow_id", workflowID, "error", err)
		}
	}
	return progress, nil
}

// EstimateWorkflow projects when the workflow's remaining items complete and
// reports the owner's current rate limit budget alongside.
func (s *Service) EstimateWorkflow(ctx context.Context, workflowID uuid.UUID) (*WorkflowEstimate, error) {
	return s.EstimateWorkflowAt(ctx, workflowID, time.Now())
}

// EstimateWorkflowAt is EstimateWorkflow with an explicit clock.
func (s *Service) EstimateWorkflowAt(ctx context.Context, workflowID uuid.UUID, now time.Time) (*WorkflowEstimate, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}

	progress, err := s.Progress(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	remaining := 0
	for status, count := range progress {
		if status != models.QueueStatusSubmitted && status != models.QueueStatusFailed {
			remaining += count
		}
	}

	return &WorkflowEstimate{
		WorkflowID: workflowID,
		Estimate:   scheduling.EstimateCompletion(remaining, now),
		Progress:   progress,
		RateLimit:  s.limiter.StatusAt(wf.UserID, now),
	}, nil
}
