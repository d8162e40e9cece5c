// Package jobsfeature lets admins inspect and trigger maintenance jobs.
package jobsfeature

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/tasks"
	"github.com/dalemusser/stratavault/internal/app/system/timeouts"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Runner is the part of the task runner the handler needs.
type Runner interface {
	Statuses() []tasks.Status
	RunOnce(ctx context.Context, name string) error
}

// Handler handles job monitoring requests.
type Handler struct {
	runner Runner
	log    *zap.Logger
}

// NewHandler creates a new jobs handler.
func NewHandler(runner Runner, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, log: logger}
}

// Routes is mounted at /api/admin/jobs.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/{name}/run", h.run)
	return r
}

// ListResponse wraps the job statuses.
type ListResponse struct {
	Jobs []tasks.Status `json:"jobs"`
}

// RunResponse reports a manual run.
type RunResponse struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	jsonutil.OK(w, ListResponse{Jobs: h.runner.Statuses()})
}

// run executes the job on the request goroutine. A job failure is reported
// in the body with 200; only an unknown name is an HTTP error.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Batch())
	defer cancel()

	start := time.Now()
	err := h.runner.RunOnce(ctx, name)
	if errors.Is(err, tasks.ErrUnknownJob) {
		jsonutil.WriteError(w, r, h.log, apperr.NotFound("unknown job %q", name))
		return
	}

	p, _ := identity.FromRequest(r)
	resp := RunResponse{Name: name, Duration: time.Since(start)}
	if err != nil {
		resp.Error = err.Error()
		h.log.Warn("manual job run failed",
			zap.String("job", name),
			zap.String("actor_id", p.AccountID.Hex()),
			zap.Error(err))
	} else {
		h.log.Info("manual job run",
			zap.String("job", name),
			zap.String("actor_id", p.AccountID.Hex()),
			zap.Duration("duration", resp.Duration))
	}
	jsonutil.OK(w, resp)
}
