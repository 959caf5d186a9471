package models

import (
	"time"

	"github.com/google/uuid"
)

// Job is a posting fetched from the external job board. Postings are upserted
// on every fetch cycle; external_id is unique per source.
type Job struct {
	ID          uuid.UUID  `db:"id"          json:"id"`
	ExternalID  string     `db:"external_id" json:"external_id"`
	Source      string     `db:"source"      json:"source"`
	Title       string     `db:"title"       json:"title"`
	Company     string     `db:"company"     json:"company"`
	Location    string     `db:"location"    json:"location"`
	URL         string     `db:"url"         json:"url"`
	Description string     `db:"description" json:"description"`
	Remote      bool       `db:"remote"      json:"remote"`
	Tags        []string   `db:"tags"        json:"tags"`
	PostedAt    *time.Time `db:"posted_at"   json:"posted_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"  json:"updated_at"`
}
