package jobboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/applyhq/applypilot/pkg/models"
)

// Sentinel errors for job board client failures.
var (
	ErrBoardUnreachable   = errors.New("job board unreachable")
	ErrBoardTimeout       = errors.New("job board timeout")
	ErrSubmissionRejected = errors.New("submission rejected")
	ErrThrottled          = errors.New("job board throttled request")
	ErrBoardResponseError = errors.New("job board error response")
)

// Client is the interface for talking to the external job board.
type Client interface {
	Search(ctx context.Context, params models.SearchParams) ([]models.Job, error)
	Submit(ctx context.Context, req SubmitRequest) (*SubmitReceipt, error)
	Ready(ctx context.Context) error
}

// SubmitRequest carries one application submission.
type SubmitRequest struct {
	JobExternalID string `json:"job_external_id"`
	CVID          string `json:"cv_id"`
	CoverLetter   string `json:"cover_letter,omitempty"`
}

// SubmitReceipt is the board's acknowledgment of an accepted submission.
type SubmitReceipt struct {
	ReferenceID string    `json:"reference_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// HTTPClient implements Client against the board's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	source  string
	client  *http.Client
}

// NewHTTPClient creates a new job board HTTP client.
func NewHTTPClient(baseURL, apiKey, source string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		source:  source,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Search(ctx context.Context, params models.SearchParams) ([]models.Job, error) {
	q := url.Values{}
	if len(params.Keywords) > 0 {
		q.Set("q", strings.Join(params.Keywords, " "))
	}
	if params.Location != "" {
		q.Set("location", params.Location)
	}
	if params.Remote {
		q.Set("remote", "true")
	}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}

	u := fmt.Sprintf("%s/api/v1/jobs/search?%s", c.baseURL, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", ErrThrottled, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBoardResponseError, resp.StatusCode)
	}

	var searchResp boardSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	return parsePostings(searchResp.Results, c.source), nil
}

func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitReceipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding submission: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/applications", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", ErrThrottled, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var rejection boardErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&rejection); err == nil && rejection.Message != "" {
			return nil, fmt.Errorf("%w: %s (status %d)", ErrSubmissionRejected, rejection.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d", ErrSubmissionRejected, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, fmt.Errorf("%w: status %d", ErrBoardResponseError, resp.StatusCode)
	}

	var receipt SubmitReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("decoding submit response: %w", err)
	}

	return &receipt, nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/ready", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBoardUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: board not ready (status %d)", ErrBoardUnreachable, resp.StatusCode)
	}

	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBoardTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrBoardTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrBoardUnreachable, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrBoardUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrBoardUnreachable, err)
}

// parsePostings converts board search results into Job models. Every job
// gets a fresh ID and timestamps; the upsert dedupes on external_id.
func parsePostings(postings []boardPosting, source string) []models.Job {
	now := time.Now().UTC()
	var jobs []models.Job
	for _, p := range postings {
		jobs = append(jobs, models.Job{
			ID:          uuid.New(),
			ExternalID:  p.ID,
			Source:      source,
			Title:       p.Title,
			Company:     p.Company,
			Location:    p.Location,
			URL:         p.URL,
			Description: p.Description,
			Remote:      p.Remote,
			Tags:        p.Tags,
			PostedAt:    p.PostedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return jobs
}
