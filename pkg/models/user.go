// Package models contains shared data models used across the ApplyPilot codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a job seeker on whose behalf applications are submitted.
// Every other entity belongs to a user. Timezone is an IANA-style name resolved
// against a fixed offset table (see pkg/scheduling); unknown zones fall back to UTC.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	Timezone  string    `db:"timezone"   json:"timezone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
