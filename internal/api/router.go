package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/applyhq/applypilot/internal/api/middleware"
	"github.com/applyhq/applypilot/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateWorkflowHandler   http.HandlerFunc
	GetWorkflowHandler      http.HandlerFunc
	WorkflowQueueHandler    http.HandlerFunc
	WorkflowProgressHandler http.HandlerFunc
	OptimizeHandler         http.HandlerFunc
	EstimateHandler         http.HandlerFunc

	PutScheduleHandler    http.HandlerFunc
	GetScheduleHandler    http.HandlerFunc
	DeleteScheduleHandler http.HandlerFunc
	FetchNowHandler       http.HandlerFunc
	FetchHandler          http.HandlerFunc

	LimitsHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/workflows", orNotImplemented(deps.CreateWorkflowHandler))
		r.Get("/api/v1/workflows/{workflowID}", orNotImplemented(deps.GetWorkflowHandler))
		r.Get("/api/v1/workflows/{workflowID}/queue", orNotImplemented(deps.WorkflowQueueHandler))
		r.Get("/api/v1/workflows/{workflowID}/progress", orNotImplemented(deps.WorkflowProgressHandler))
		r.Post("/api/v1/workflows/{workflowID}/optimize", orNotImplemented(deps.OptimizeHandler))
		r.Get("/api/v1/workflows/{workflowID}/estimate", orNotImplemented(deps.EstimateHandler))

		r.Put("/api/v1/schedule", orNotImplemented(deps.PutScheduleHandler))
		r.Get("/api/v1/schedule", orNotImplemented(deps.GetScheduleHandler))
		r.Delete("/api/v1/schedule", orNotImplemented(deps.DeleteScheduleHandler))
		r.Post("/api/v1/schedule/run", orNotImplemented(deps.FetchNowHandler))

		r.Post("/api/v1/fetch", orNotImplemented(deps.FetchHandler))

		r.Get("/api/v1/limits", orNotImplemented(deps.LimitsHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
