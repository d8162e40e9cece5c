// Package folders serves the namespace API: creating, browsing, renaming,
// moving and deleting folders.
//
// Endpoints (mounted at /api/folders):
//   - GET    /                 list the caller's root
//   - POST   /                 create a folder
//   - GET    /{id}             folder details and path
//   - GET    /{id}/children    list children
//   - GET    /{id}/path        ancestor chain
//   - PATCH  /{id}             rename, move, recolor
//   - DELETE /{id}             delete an empty folder
package folders

import (
	"net/http"

	"github.com/dalemusser/stratavault/internal/app/system/formutil"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/namespace"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves folder endpoints.
type Handler struct {
	ns     *namespace.Manager
	logger *zap.Logger
}

// NewHandler creates a folders handler.
func NewHandler(ns *namespace.Manager, logger *zap.Logger) *Handler {
	return &Handler{ns: ns, logger: logger}
}

// Routes returns the folder router. Callers must be authenticated.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.listRoot)
	r.Post("/", h.create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/children", h.children)
		r.Get("/path", h.path)
		r.Patch("/", h.update)
		r.Delete("/", h.delete)
	})
	return r
}

type createRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
	Color    string `json:"color"`
}

// ListResponse wraps a listing.
type ListResponse struct {
	Items []sharing.Entry `json:"items"`
}

// FolderResponse is a folder with its computed path.
type FolderResponse struct {
	Item  sharing.Entry   `json:"item"`
	Path  string          `json:"path"`
	Trail []models.Folder `json:"trail,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)

	var req createRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	parentID, err := formutil.OptionalID(req.ParentID, "parent_id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}

	f, err := h.ns.CreateFolder(r.Context(), p.AccountID, namespace.CreateFolderInput{
		Name:     req.Name,
		ParentID: parentID,
		Color:    req.Color,
	})
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.Created(w, f)
}

func (h *Handler) listRoot(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, nil)
}

func (h *Handler) children(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	h.list(w, r, &id)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, parentID *primitive.ObjectID) {
	p, _ := identity.FromRequest(r)
	opts, err := formutil.ListOptions(r)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	entries, err := h.ns.ListChildren(r.Context(), p.AccountID, parentID, opts)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []sharing.Entry{}
	}
	jsonutil.OK(w, ListResponse{Items: entries})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.describe(w, r, false)
}

func (h *Handler) path(w http.ResponseWriter, r *http.Request) {
	h.describe(w, r, true)
}

func (h *Handler) describe(w http.ResponseWriter, r *http.Request, withTrail bool) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	entry, err := h.ns.Get(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	if !entry.IsFolder() {
		jsonutil.NotFound(w, "folder not found")
		return
	}
	path, trail, err := h.ns.Path(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	resp := FolderResponse{Item: *entry, Path: path}
	if withTrail {
		resp.Trail = trail
	}
	jsonutil.OK(w, resp)
}

// updateRequest changes any combination of name, location and color.
// ParentID "" or "root" moves to the root; omitting it leaves the folder in
// place.
type updateRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parent_id"`
	Color    *string `json:"color"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	var req updateRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	if req.Name == nil && req.ParentID == nil && req.Color == nil {
		jsonutil.BadRequest(w, "nothing to update")
		return
	}

	ctx := r.Context()
	entry, err := h.ns.Get(ctx, p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	if !entry.IsFolder() {
		jsonutil.NotFound(w, "folder not found")
		return
	}
	if req.Name != nil {
		if _, err := h.ns.Rename(ctx, p.AccountID, id, *req.Name); err != nil {
			jsonutil.WriteError(w, r, h.logger, err)
			return
		}
	}
	if req.ParentID != nil {
		parentID, err := formutil.OptionalID(*req.ParentID, "parent_id")
		if err != nil {
			jsonutil.WriteError(w, r, h.logger, err)
			return
		}
		if _, err := h.ns.Move(ctx, p.AccountID, id, parentID); err != nil {
			jsonutil.WriteError(w, r, h.logger, err)
			return
		}
	}
	if req.Color != nil {
		if _, err := h.ns.SetColor(ctx, p.AccountID, id, *req.Color); err != nil {
			jsonutil.WriteError(w, r, h.logger, err)
			return
		}
	}
	h.describe(w, r, false)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	if err := h.ns.DeleteFolder(r.Context(), p.AccountID, id); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.NoContent(w)
}
