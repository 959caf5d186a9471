package jobboard

import "time"

// Wire types for the board's HTTP API.

type boardSearchResponse struct {
	Results []boardPosting `json:"results"`
	Total   int            `json:"total"`
}

type boardPosting struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Company     string     `json:"company"`
	Location    string     `json:"location"`
	URL         string     `json:"url"`
	Description string     `json:"description"`
	Remote      bool       `json:"remote"`
	Tags        []string   `json:"tags"`
	PostedAt    *time.Time `json:"posted_at"`
}

type boardErrorResponse struct {
	Message string `json:"message"`
}
