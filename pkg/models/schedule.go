package models

import (
	"time"

	"github.com/google/uuid"
)

// SearchParams describe a recurring job-board query.
type SearchParams struct {
	Keywords []string `json:"keywords"`
	Location string   `json:"location,omitempty"`
	Remote   bool     `json:"remote,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Schedule is a per-user recurring fetch configuration. Schedules live only in
// the orchestrator's memory: they are lost on restart and must be re-registered.
// LastRun stays zero until the first fully successful fetch+broadcast cycle.
type Schedule struct {
	UserID   uuid.UUID     `json:"user_id"`
	Params   SearchParams  `json:"params"`
	Enabled  bool          `json:"enabled"`
	LastRun  time.Time     `json:"last_run,omitzero"`
	Interval time.Duration `json:"interval"`
}
