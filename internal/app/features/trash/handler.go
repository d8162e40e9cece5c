// Package trash serves the lifecycle API.
//
// ItemRoutes (mounted at /api/items):
//   - POST   /{id}/trash     move an item and its subtree to trash
//   - POST   /{id}/restore   restore a trashed item
//   - DELETE /{id}           purge a trashed item permanently
//
// Routes (mounted at /api/trash):
//   - GET    /               list the caller's trash
//   - DELETE /               empty the caller's trash
package trash

import (
	"net/http"
	"time"

	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/system/formutil"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/lifecycle"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves lifecycle endpoints.
type Handler struct {
	engine    *lifecycle.Engine
	retention time.Duration
	logger    *zap.Logger
}

// NewHandler creates a trash handler. retention is reported to clients as
// each entry's expiry; zero means entries never expire.
func NewHandler(engine *lifecycle.Engine, retention time.Duration, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, retention: retention, logger: logger}
}

// MountItems adds the per-item lifecycle routes to r, which is mounted at
// /api/items alongside the share routes.
func MountItems(r chi.Router, h *Handler) {
	r.Post("/{id}/trash", h.trash)
	r.Post("/{id}/restore", h.restore)
	r.Delete("/{id}", h.purge)
}

// Routes returns the trash listing router.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Delete("/", h.empty)
	return r
}

// Entry is a trashed item with its scheduled purge time.
type Entry struct {
	items.Record
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListResponse wraps the trash listing.
type ListResponse struct {
	Items []Entry `json:"items"`
}

func (h *Handler) entry(rec items.Record) Entry {
	e := Entry{Record: rec}
	if h.retention > 0 && rec.DeletedAt != nil {
		at := rec.DeletedAt.Add(h.retention)
		e.ExpiresAt = &at
	}
	return e
}

func (h *Handler) trash(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	rec, err := h.engine.Trash(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, h.entry(*rec))
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	rec, err := h.engine.Restore(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, rec)
}

func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	res, err := h.engine.Purge(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, res)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	opts, err := formutil.ListOptions(r)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	recs, err := h.engine.ListTrash(r.Context(), p.AccountID, opts)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.entry(rec))
	}
	jsonutil.OK(w, ListResponse{Items: out})
}

func (h *Handler) empty(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	res, err := h.engine.EmptyTrash(r.Context(), p.AccountID)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, res)
}
