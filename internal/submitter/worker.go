// Package submitter drains the queue: on every tick it requeues rate-limited
// items whose retry time has come, then walks the due items through the
// lifecycle and submits them to the job board, one token per submission.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applyhq/applypilot/internal/config"
	"github.com/applyhq/applypilot/internal/jobboard"
	"github.com/applyhq/applypilot/internal/ratelimit"
	"github.com/applyhq/applypilot/internal/store"
	"github.com/applyhq/applypilot/pkg/models"
)

// Store is the slice of the data layer the worker needs.
type Store interface {
	RequeueRateLimited(ctx context.Context, now time.Time) (int, error)
	ListDueItems(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error)
	UpdateQueueItemStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.ItemUpdateOption) error
}

// Customizer prepares the per-item cover letter before submission.
type Customizer interface {
	Name() string
	Customize(ctx context.Context, item models.QueueItem) (string, error)
}

// NopCustomizer submits without a cover letter.
type NopCustomizer struct{}

func (NopCustomizer) Name() string { return "none" }

func (NopCustomizer) Customize(context.Context, models.QueueItem) (string, error) {
	return "", nil
}

// Worker is the submission loop. One worker runs per process; batches are
// processed sequentially so the rate limiter sees submissions in priority order.
type Worker struct {
	store      Store
	board      jobboard.Client
	limiter    *ratelimit.Limiter
	customizer Customizer
	cfg        config.SubmitterConfig
}

func New(st Store, board jobboard.Client, limiter *ratelimit.Limiter, customizer Customizer, cfg config.SubmitterConfig) *Worker {
	if customizer == nil {
		customizer = NopCustomizer{}
	}
	return &Worker{
		store:      st,
		board:      board,
		limiter:    limiter,
		customizer: customizer,
		cfg:        cfg,
	}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("submitter started", "interval", w.cfg.Interval, "batch_size", w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("submitter stopped")
			return
		case <-ticker.C:
			w.Tick(ctx, time.Now())
		}
	}
}

// Tick runs one drain pass: requeue, list, process.
func (w *Worker) Tick(ctx context.Context, now time.Time) {
	requeued, err := w.store.RequeueRateLimited(ctx, now)
	if err != nil {
		slog.Error("requeue of rate limited items failed", "error", err)
	} else if requeued > 0 {
		slog.Info("rate limited items requeued", "count", requeued)
	}

	items, err := w.store.ListDueItems(ctx, now, w.cfg.BatchSize)
	if err != nil {
		slog.Error("listing due items failed", "error", err)
		return
	}

	for _, item := range items {
		w.processItem(ctx, item, now)
	}
}

// processItem walks one queue item through the lifecycle. A panic in one item
// must not take down the batch.
func (w *Worker) processItem(ctx context.Context, item *models.QueueItem, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing queue item", "item_id", item.ID, "panic", r)
			w.markStatus(ctx, item.ID, models.QueueStatusFailed,
				store.WithError(fmt.Sprintf("panic: %v", r)))
		}
	}()

	letter := ""
	if item.Status == models.QueueStatusPending {
		if !w.markStatus(ctx, item.ID, models.QueueStatusCustomizing) {
			return
		}

		var err error
		letter, err = w.customizer.Customize(ctx, *item)
		if err != nil {
			slog.Error("customization failed", "item_id", item.ID, "error", err)
			w.markStatus(ctx, item.ID, models.QueueStatusFailed,
				store.WithError(fmt.Sprintf("customization: %v", err)))
			return
		}

		if !w.markStatus(ctx, item.ID, models.QueueStatusReady) {
			return
		}
	}

	if !w.markStatus(ctx, item.ID, models.QueueStatusSubmitting) {
		return
	}

	decision := w.limiter.AcquireAt(item.UserID, 1, now)
	if !decision.Allowed {
		retryAt := now.Add(w.limiter.RetryDelay())
		slog.Info("submission deferred by rate limit",
			"item_id", item.ID, "user_id", item.UserID, "retry_at", retryAt)
		w.markStatus(ctx, item.ID, models.QueueStatusRateLimited, store.WithNextRunAt(retryAt))
		return
	}

	receipt, err := w.board.Submit(ctx, jobboard.SubmitRequest{
		JobExternalID: item.JobExternalID,
		CVID:          item.CVID.String(),
		CoverLetter:   letter,
	})
	if err != nil {
		// Board-side throttling is transient; defer like a limiter denial.
		if errors.Is(err, jobboard.ErrThrottled) {
			retryAt := now.Add(w.limiter.RetryDelay())
			slog.Warn("submission throttled by board",
				"item_id", item.ID, "user_id", item.UserID, "retry_at", retryAt)
			w.markStatus(ctx, item.ID, models.QueueStatusRateLimited, store.WithNextRunAt(retryAt))
			return
		}
		slog.Error("submission failed", "item_id", item.ID, "error", err)
		w.markStatus(ctx, item.ID, models.QueueStatusFailed, store.WithError(err.Error()))
		return
	}

	slog.Info("application submitted",
		"item_id", item.ID,
		"job_external_id", item.JobExternalID,
		"reference_id", receipt.ReferenceID,
		"tokens_remaining", decision.Remaining)
	w.markStatus(ctx, item.ID, models.QueueStatusSubmitted)
}

// markStatus applies a transition and reports whether processing may continue.
// A failed transition usually means another pass already picked the item up.
func (w *Worker) markStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.ItemUpdateOption) bool {
	if err := w.store.UpdateQueueItemStatus(ctx, id, status, opts...); err != nil {
		slog.Error("queue status update failed", "item_id", id, "status", status, "error", err)
		return false
	}
	return true
}
