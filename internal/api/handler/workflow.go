package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/applyhq/applypilot/internal/api/middleware"
	"github.com/applyhq/applypilot/internal/api/response"
	"github.com/applyhq/applypilot/internal/scheduler"
	"github.com/applyhq/applypilot/internal/store"
	"github.com/applyhq/applypilot/pkg/models"
)

// maxTargetsPerWorkflow caps one submission batch.
const maxTargetsPerWorkflow = 500

// WorkflowStore is the store surface the workflow handlers need.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *models.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	CreateQueueItems(ctx context.Context, workflowID, userID, cvID uuid.UUID, targets []store.QueueTarget) (int, error)
	GetQueueItems(ctx context.Context, workflowID uuid.UUID) ([]*models.QueueItem, error)
	GetReadyQueueItems(ctx context.Context, workflowID uuid.UUID, now time.Time) ([]*models.QueueItem, error)
}

// Scheduler is the optimizer service surface the workflow handlers need.
type Scheduler interface {
	OptimizeWorkflow(ctx context.Context, workflowID uuid.UUID) (*scheduler.Report, error)
	EstimateWorkflow(ctx context.Context, workflowID uuid.UUID) (*scheduler.WorkflowEstimate, error)
	Progress(ctx context.Context, workflowID uuid.UUID) (map[string]int, error)
}

// ownedWorkflow loads the workflow and enforces that it belongs to the
// authenticated user. Foreign workflows read as not found.
func ownedWorkflow(w http.ResponseWriter, r *http.Request, st WorkflowStore) (*models.Workflow, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "workflowID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid workflow ID", nil)
		return nil, false
	}

	wf, err := st.GetWorkflow(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Workflow not found", nil)
		return nil, false
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load workflow", nil)
		return nil, false
	}
	if wf.UserID != userID {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Workflow not found", nil)
		return nil, false
	}
	return wf, true
}

// NewCreateWorkflowHandler returns the handler for POST /api/v1/workflows.
// It creates the workflow and its queue items in one request.
func NewCreateWorkflowHandler(st WorkflowStore) http.HandlerFunc {
	type target struct {
		JobExternalID string `json:"job_external_id"`
		MatchScore    *int   `json:"match_score"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}

		var req struct {
			CVID    string   `json:"cv_id"`
			Targets []target `json:"targets"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		cvID, err := uuid.Parse(req.CVID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "cv_id must be a UUID", nil)
			return
		}
		if len(req.Targets) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "targets must not be empty", nil)
			return
		}
		if len(req.Targets) > maxTargetsPerWorkflow {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "too many targets", map[string]int{"max": maxTargetsPerWorkflow})
			return
		}

		targets := make([]store.QueueTarget, len(req.Targets))
		for i, tg := range req.Targets {
			if tg.JobExternalID == "" {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "every target needs a job_external_id", nil)
				return
			}
			targets[i] = store.QueueTarget{JobExternalID: tg.JobExternalID, MatchScore: tg.MatchScore}
		}

		now := time.Now().UTC()
		wf := &models.Workflow{
			ID:        uuid.New(),
			UserID:    userID,
			CVID:      cvID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := st.CreateWorkflow(r.Context(), wf); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create workflow", nil)
			return
		}

		queued, err := st.CreateQueueItems(r.Context(), wf.ID, userID, cvID, targets)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to enqueue items", nil)
			return
		}

		response.Created(w, map[string]any{
			"workflow":     wf,
			"queued_count": queued,
		})
	}
}

// NewGetWorkflowHandler returns the handler for GET /api/v1/workflows/{workflowID}.
func NewGetWorkflowHandler(st WorkflowStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := ownedWorkflow(w, r, st)
		if !ok {
			return
		}
		response.JSON(w, wf)
	}
}

// NewWorkflowQueueHandler returns the handler for GET /api/v1/workflows/{workflowID}/queue.
// With ?due=true only items whose slot has arrived are returned.
func NewWorkflowQueueHandler(st WorkflowStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := ownedWorkflow(w, r, st)
		if !ok {
			return
		}

		var items []*models.QueueItem
		var err error
		if r.URL.Query().Get("due") == "true" {
			items, err = st.GetReadyQueueItems(r.Context(), wf.ID, time.Now())
		} else {
			items, err = st.GetQueueItems(r.Context(), wf.ID)
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load queue", nil)
			return
		}

		response.Collection(w, items, response.PaginationMeta{
			Page:  1,
			Limit: len(items),
			Total: len(items),
		})
	}
}

// NewWorkflowProgressHandler returns the handler for GET /api/v1/workflows/{workflowID}/progress.
func NewWorkflowProgressHandler(st WorkflowStore, svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := ownedWorkflow(w, r, st)
		if !ok {
			return
		}

		progress, err := svc.Progress(r.Context(), wf.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load progress", nil)
			return
		}

		response.JSON(w, map[string]any{
			"workflow_id": wf.ID,
			"progress":    progress,
		})
	}
}

// NewOptimizeWorkflowHandler returns the handler for POST /api/v1/workflows/{workflowID}/optimize.
func NewOptimizeWorkflowHandler(st WorkflowStore, svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := ownedWorkflow(w, r, st)
		if !ok {
			return
		}

		report, err := svc.OptimizeWorkflow(r.Context(), wf.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Optimization failed", nil)
			return
		}
		response.JSON(w, report)
	}
}

// NewEstimateWorkflowHandler returns the handler for GET /api/v1/workflows/{workflowID}/estimate.
func NewEstimateWorkflowHandler(st WorkflowStore, svc Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, ok := ownedWorkflow(w, r, st)
		if !ok {
			return
		}

		est, err := svc.EstimateWorkflow(r.Context(), wf.ID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Estimate failed", nil)
			return
		}
		response.JSON(w, est)
	}
}
