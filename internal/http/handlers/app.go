package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"server/internal/domain"
	"server/internal/infra"
)

// CancelRequester is the cancellation ingress the handlers depend on.
type CancelRequester interface {
	RequestCancel(ctx context.Context, jobID string) error
}

// App bundles the dependencies of the HTTP handlers.
type App struct {
	Jobs    domain.JobRepository
	Cancels CancelRequester
	Logger  infra.Logger
}

// NewApp creates the handler container.
func NewApp(jobs domain.JobRepository, cancels CancelRequester, logger infra.Logger) *App {
	return &App{Jobs: jobs, Cancels: cancels, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, msg string) {
	a.json(w, code, map[string]string{"error": msg})
}

// Health reports service liveness.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
