package handler

import (
	"net/http"

	"github.com/google/uuid"

	mw "github.com/applyhq/applypilot/internal/api/middleware"
	"github.com/applyhq/applypilot/internal/api/response"
	"github.com/applyhq/applypilot/internal/ratelimit"
)

// LimitReader exposes the submission token bucket for the limits endpoint.
type LimitReader interface {
	Status(userID uuid.UUID) ratelimit.Status
}

// NewLimitsHandler returns the handler for GET /api/v1/limits.
func NewLimitsHandler(limiter LimitReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		response.JSON(w, limiter.Status(userID))
	}
}
