// Package shares serves the sharing API.
//
// MountItems (under /api/items):
//   - GET    /{id}/shares          list grants on an item
//   - POST   /{id}/shares          grant or update a share
//
// Routes (mounted at /api/shares):
//   - PATCH  /{id}                 change a grant's permission
//   - DELETE /{id}                 revoke a grant
//
// Also served: GET /api/shared-with-me and GET /api/shared/{id}/children.
package shares

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/stratavault/internal/app/system/auditlog"
	"github.com/dalemusser/stratavault/internal/app/system/formutil"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/inputval"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/normalize"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// AccountFinder resolves a grantee by email.
type AccountFinder interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

// Handler serves share endpoints.
type Handler struct {
	access   *sharing.Resolver
	accounts AccountFinder
	audit    *auditlog.Logger
	logger   *zap.Logger
}

// NewHandler creates a shares handler. audit may be nil.
func NewHandler(access *sharing.Resolver, accounts AccountFinder, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{access: access, accounts: accounts, audit: audit, logger: logger}
}

// MountItems adds the per-item share routes to r, which is mounted at
// /api/items alongside the lifecycle routes.
func MountItems(r chi.Router, h *Handler) {
	r.Get("/{id}/shares", h.list)
	r.Post("/{id}/shares", h.grant)
}

// Routes returns the grant management router.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.revoke)
	return r
}

// MountShared adds the grantee views to r.
func MountShared(r chi.Router, h *Handler) {
	r.Get("/shared-with-me", h.sharedWithMe)
	r.Get("/shared/{id}/children", h.browse)
}

type grantRequest struct {
	GranteeID    string     `json:"grantee_id"`
	GranteeEmail string     `json:"grantee_email"`
	Permission   string     `json:"permission" validate:"required,permission" label:"Permission"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (h *Handler) grantee(ctx context.Context, req grantRequest) (primitive.ObjectID, error) {
	if req.GranteeID != "" {
		id, err := primitive.ObjectIDFromHex(strings.TrimSpace(req.GranteeID))
		if err != nil {
			return primitive.NilObjectID, apperr.Invalid("invalid grantee_id")
		}
		return id, nil
	}
	email := normalize.Email(req.GranteeEmail)
	if email == "" {
		return primitive.NilObjectID, apperr.Invalid("grantee_id or grantee_email is required")
	}
	a, err := h.accounts.GetByEmail(ctx, email)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return primitive.NilObjectID, apperr.NotFound("no account with email %s", email)
	}
	if err != nil {
		return primitive.NilObjectID, apperr.Internal(err, "look up grantee")
	}
	return a.ID, nil
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	itemID, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	var req grantRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	req.Permission = normalize.Permission(req.Permission)
	if err := inputval.Validate(req).Err(); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	// Only callers who may manage shares on the item learn whether an email
	// has an account.
	if _, _, err := h.access.Require(r.Context(), p.AccountID, itemID, models.PermissionAdmin); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	granteeID, err := h.grantee(r.Context(), req)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}

	g, err := h.access.Grant(r.Context(), p.AccountID, sharing.GrantInput{
		ItemID:     itemID,
		GranteeID:  granteeID,
		Permission: models.Permission(req.Permission),
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	h.audit.ShareGranted(r, p.AccountID, g.GranteeID, g.ItemID, string(g.Permission))
	jsonutil.Created(w, g)
}

// GrantList wraps the grants on an item.
type GrantList struct {
	Grants []sharing.GrantView `json:"grants"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	itemID, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	grants, err := h.access.ListGrants(r.Context(), p.AccountID, itemID)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, GrantList{Grants: grants})
}

type updateRequest struct {
	Permission string `json:"permission" validate:"required,permission" label:"Permission"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	grantID, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	var req updateRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	req.Permission = normalize.Permission(req.Permission)
	if err := inputval.Validate(req).Err(); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	g, err := h.access.UpdatePermission(r.Context(), p.AccountID, grantID, models.Permission(req.Permission))
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	h.audit.ShareUpdated(r, p.AccountID, g.GranteeID, g.ItemID, string(g.Permission))
	jsonutil.OK(w, g)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	grantID, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	g, err := h.access.Revoke(r.Context(), p.AccountID, grantID)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	h.audit.ShareRevoked(r, p.AccountID, g.GranteeID, g.ItemID)
	jsonutil.NoContent(w)
}

// SharedList wraps the items shared with the caller.
type SharedList struct {
	Items []sharing.SharedItem `json:"items"`
}

func (h *Handler) sharedWithMe(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	t, err := formutil.ItemType(r)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	shared, err := h.access.ListGrantedToMe(r.Context(), p.AccountID, t)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, SharedList{Items: shared})
}

// EntryList wraps the children of a shared folder.
type EntryList struct {
	Items []sharing.Entry `json:"items"`
}

func (h *Handler) browse(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	folderID, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	opts, err := formutil.ListOptions(r)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	entries, err := h.access.BrowseSharedFolder(r.Context(), p.AccountID, folderID, opts)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, EntryList{Items: entries})
}
