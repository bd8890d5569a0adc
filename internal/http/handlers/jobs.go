package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"server/internal/domain"
)

type createJobRequest struct {
	Keyword    string `json:"keyword"`
	CategoryID string `json:"category_id"`
	AuthorID   string `json:"author_id"`
	BrandID    string `json:"brand_id"`
	UserID     string `json:"user_id"`
}

type jobStatusResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	CurrentStage  string `json:"current_stage,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// CreateJob enqueues a pending pipeline job; a worker claims it.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Keyword = strings.TrimSpace(req.Keyword)
	if req.Keyword == "" || req.CategoryID == "" || req.AuthorID == "" || req.BrandID == "" || req.UserID == "" {
		a.error(w, http.StatusBadRequest, "keyword, category_id, author_id, brand_id and user_id are required")
		return
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		Keyword:    req.Keyword,
		CategoryID: req.CategoryID,
		AuthorID:   req.AuthorID,
		BrandID:    req.BrandID,
		UserID:     req.UserID,
		Status:     domain.JobStatusPending,
	}
	if err := a.Jobs.Create(r.Context(), job); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: create job")
		a.error(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	a.json(w, http.StatusAccepted, jobStatusResponse{
		ID:       job.ID,
		Status:   string(job.Status),
		Progress: job.Progress,
	})
}

// GetJob returns the job status read model.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: get job")
		a.error(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	a.json(w, http.StatusOK, jobStatusResponse{
		ID:            job.ID,
		Status:        string(job.Status),
		Progress:      job.Progress,
		CurrentStage:  job.CurrentStage,
		StatusMessage: job.StatusMessage,
		ErrorMessage:  job.ErrorMessage,
	})
}

// CancelJob requests cooperative cancellation of a running job. The worker
// observes the request at the next stage boundary.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := a.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: cancel job lookup")
		a.error(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.Status.Terminal() {
		a.error(w, http.StatusConflict, "job already finished")
		return
	}

	if err := a.Cancels.RequestCancel(r.Context(), jobID); err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: cancel job")
		a.error(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}
