package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/applyhq/applypilot/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// InvalidTransitionError is returned when a status update falls outside the
// queue item lifecycle table.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid queue status transition: %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	GetDefaultUser(ctx context.Context) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)

	CreateQueueItems(ctx context.Context, workflowID, userID, cvID uuid.UUID, targets []QueueTarget) (int, error)
	GetQueueItems(ctx context.Context, workflowID uuid.UUID) ([]*models.QueueItem, error)
	GetReadyQueueItems(ctx context.Context, workflowID uuid.UUID, now time.Time) ([]*models.QueueItem, error)
	ListDueItems(ctx context.Context, now time.Time, limit int) ([]*models.QueueItem, error)
	UpdateQueueItemStatus(ctx context.Context, id uuid.UUID, status string, opts ...ItemUpdateOption) error
	GetWorkflowProgress(ctx context.Context, workflowID uuid.UUID) (map[string]int, error)
	UpdateQueueItemPriority(ctx context.Context, id uuid.UUID, priority int) error
	BulkUpdateSchedule(ctx context.Context, updates []ScheduleUpdate) (int, error)
	RequeueRateLimited(ctx context.Context, now time.Time) (int, error)

	UpsertJobs(ctx context.Context, jobs []models.Job) (int, error)
	GetJobsByExternalIDs(ctx context.Context, externalIDs []string) ([]*models.Job, error)
}

// QueueTarget is one job posting to enqueue for a workflow. MatchScore is the
// externally supplied (job, CV) quality signal, nil when absent.
type QueueTarget struct {
	JobExternalID string
	MatchScore    *int
}

// ScheduleUpdate is one optimizer write-back: the computed priority and the
// assigned submission slot for a queue item.
type ScheduleUpdate struct {
	ItemID    uuid.UUID
	Priority  int
	NextRunAt time.Time
}

// ItemUpdate collects the side effects of a status change. Exposed so store
// implementations and test doubles can apply the same option set.
type ItemUpdate struct {
	ErrorMessage *string
	NextRunAt    *time.Time
}

type ItemUpdateOption func(*ItemUpdate)

// ApplyItemUpdateOptions folds a set of options into one ItemUpdate.
func ApplyItemUpdateOptions(opts []ItemUpdateOption) ItemUpdate {
	var u ItemUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

// WithError appends msg to the item's last_error and increments attempts.
func WithError(msg string) ItemUpdateOption {
	return func(p *ItemUpdate) {
		p.ErrorMessage = &msg
	}
}

// WithNextRunAt overrides the item's next_run_at alongside the status change.
func WithNextRunAt(at time.Time) ItemUpdateOption {
	return func(p *ItemUpdate) {
		p.NextRunAt = &at
	}
}
