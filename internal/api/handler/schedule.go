package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	mw "github.com/applyhq/applypilot/internal/api/middleware"
	"github.com/applyhq/applypilot/internal/api/response"
	"github.com/applyhq/applypilot/internal/jobboard"
	"github.com/applyhq/applypilot/internal/orchestrator"
	"github.com/applyhq/applypilot/pkg/models"
)

const minFetchInterval = time.Minute

// Fetcher is the orchestrator surface the schedule handlers need.
type Fetcher interface {
	Schedule(s models.Schedule) error
	Unschedule(userID uuid.UUID)
	GetSchedule(userID uuid.UUID) (models.Schedule, bool)
	FetchNow(ctx context.Context, userID uuid.UUID) error
	Fetch(ctx context.Context, userID uuid.UUID, params models.SearchParams) ([]models.Job, error)
}

// NewPutScheduleHandler returns the handler for PUT /api/v1/schedule.
// Registering replaces any existing schedule for the user.
func NewPutScheduleHandler(f Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			Params   models.SearchParams `json:"params"`
			Interval string              `json:"interval"`
			Enabled  *bool               `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		interval, err := time.ParseDuration(req.Interval)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "interval must be a duration like 30m", nil)
			return
		}
		if interval < minFetchInterval {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "interval too short", map[string]string{"min": minFetchInterval.String()})
			return
		}
		if len(req.Params.Keywords) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "params.keywords must not be empty", nil)
			return
		}

		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}

		sched := models.Schedule{
			UserID:   userID,
			Params:   req.Params,
			Enabled:  enabled,
			Interval: interval,
		}
		if err := f.Schedule(sched); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		response.JSON(w, sched)
	}
}

// NewGetScheduleHandler returns the handler for GET /api/v1/schedule.
func NewGetScheduleHandler(f Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		sched, found := f.GetSchedule(userID)
		if !found {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "No schedule registered", nil)
			return
		}
		response.JSON(w, sched)
	}
}

// NewDeleteScheduleHandler returns the handler for DELETE /api/v1/schedule.
// Deleting an absent schedule succeeds.
func NewDeleteScheduleHandler(f Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		f.Unschedule(userID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewFetchNowHandler returns the handler for POST /api/v1/schedule/run.
// It runs the registered schedule synchronously.
func NewFetchNowHandler(f Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		if _, found := f.GetSchedule(userID); !found {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "No schedule registered", nil)
			return
		}

		if err := f.FetchNow(r.Context(), userID); err != nil {
			writeFetchError(w, err)
			return
		}
		response.JSON(w, map[string]string{"status": "completed"})
	}
}

// NewFetchHandler returns the handler for POST /api/v1/fetch: a one-off board
// query that bypasses any registered schedule and returns the batch inline.
func NewFetchHandler(f Fetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var params models.SearchParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if len(params.Keywords) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "keywords must not be empty", nil)
			return
		}

		jobs, err := f.Fetch(r.Context(), userID, params)
		if err != nil {
			writeFetchError(w, err)
			return
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:  1,
			Limit: len(jobs),
			Total: len(jobs),
		})
	}
}

// writeFetchError maps pipeline failures to upstream-flavored status codes.
func writeFetchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobboard.ErrThrottled):
		response.Error(w, http.StatusTooManyRequests, "UPSTREAM_THROTTLED", "Job board throttled the request", nil)
	case errors.Is(err, jobboard.ErrBoardTimeout):
		response.Error(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Job board timed out", nil)
	case errors.Is(err, jobboard.ErrBoardUnreachable):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Job board unreachable", nil)
	default:
		var bcErr *orchestrator.BroadcastError
		if errors.As(err, &bcErr) {
			response.Error(w, http.StatusBadGateway, "BROADCAST_ERROR", "Fetched batch could not be delivered", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Fetch failed", nil)
	}
}
