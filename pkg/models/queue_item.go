package models

import (
	"time"

	"github.com/google/uuid"
)

// Queue item statuses. An item is created pending, moves through
// customizing/ready/submitting, and ends in submitted or failed.
// rate_limited is the only status with an automatic retry path back to pending.
const (
	QueueStatusPending     = "pending"
	QueueStatusCustomizing = "customizing"
	QueueStatusReady       = "ready"
	QueueStatusSubmitting  = "submitting"
	QueueStatusSubmitted   = "submitted"
	QueueStatusFailed      = "failed"
	QueueStatusRateLimited = "rate_limited"
)

// AllQueueStatuses lists every known status in lifecycle order.
// Progress reports are zero-filled against this list.
var AllQueueStatuses = []string{
	QueueStatusPending,
	QueueStatusCustomizing,
	QueueStatusReady,
	QueueStatusSubmitting,
	QueueStatusSubmitted,
	QueueStatusFailed,
	QueueStatusRateLimited,
}

// QueueItem is one (job, CV) submission unit. A batch of items is created
// together when a workflow is initiated; the priority scorer mutates priority
// and next_run_at, submission workers mutate status, attempts and last_error.
type QueueItem struct {
	ID            uuid.UUID `db:"id"              json:"id"`
	WorkflowID    uuid.UUID `db:"workflow_id"     json:"workflow_id"`
	UserID        uuid.UUID `db:"user_id"         json:"user_id"`
	CVID          uuid.UUID `db:"cv_id"           json:"cv_id"`
	JobExternalID string    `db:"job_external_id" json:"job_external_id"`
	Status        string    `db:"status"          json:"status"`
	Priority      int       `db:"priority"        json:"priority"`
	Attempts      int       `db:"attempts"        json:"attempts"`
	MatchScore    *int      `db:"match_score"     json:"match_score,omitempty"`
	LastError     *string   `db:"last_error"      json:"last_error,omitempty"`
	NextRunAt     time.Time `db:"next_run_at"     json:"next_run_at"`
	CreatedAt     time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"      json:"updated_at"`
}

// Terminal reports whether the item is in a terminal status.
func (q *QueueItem) Terminal() bool {
	return q.Status == QueueStatusSubmitted || q.Status == QueueStatusFailed
}
