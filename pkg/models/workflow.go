package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow groups the queue items created together for one user/CV across
// many job postings.
type Workflow struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	UserID    uuid.UUID `db:"user_id"    json:"user_id"`
	CVID      uuid.UUID `db:"cv_id"      json:"cv_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
