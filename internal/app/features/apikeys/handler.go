// Package apikeysfeature issues and revokes API keys.
//
// MyRoutes (mounted at /api/me/keys) lets an account manage its own keys.
// AdminRoutes (mounted at /api/admin/accounts/{accountID}/keys) lets admins
// issue keys for any account.
package apikeysfeature

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	apikeystore "github.com/dalemusser/stratavault/internal/app/store/apikeys"
	"github.com/dalemusser/stratavault/internal/app/system/auditlog"
	"github.com/dalemusser/stratavault/internal/app/system/formutil"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/timeouts"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// maxNameLen bounds key names.
const maxNameLen = 100

// Handler handles API key requests.
type Handler struct {
	keys     *apikeystore.Store
	accounts *accountstore.Store
	audit    *auditlog.Logger
	log      *zap.Logger
}

// NewHandler creates a new API keys handler. audit may be nil.
func NewHandler(db *mongo.Database, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		keys:     apikeystore.New(db),
		accounts: accountstore.New(db),
		audit:    audit,
		log:      logger,
	}
}

// MyRoutes returns the self-service router.
func MyRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listMine)
	r.Post("/", h.createMine)
	r.Delete("/{id}", h.revokeMine)
	return r
}

// AdminRoutes returns the admin router. The mount point must provide the
// {accountID} URL parameter.
func AdminRoutes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listFor)
	r.Post("/", h.createFor)
	r.Delete("/{id}", h.revokeFor)
	return r
}

// CreatedResponse carries the full key. It is only ever shown once.
type CreatedResponse struct {
	apikeystore.APIKey
	Key string `json:"key"`
}

// ListResponse wraps an account's keys.
type ListResponse struct {
	Keys []apikeystore.APIKey `json:"keys"`
}

type createRequest struct {
	Name string `json:"name"`
}

func keyName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperr.Invalid("name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", apperr.Invalid("name must be at most %d characters", maxNameLen)
	}
	return name, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, accountID primitive.ObjectID) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	keys, err := h.keys.ListByAccount(ctx, accountID)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "list api keys"))
		return
	}
	if keys == nil {
		keys = []apikeystore.APIKey{}
	}
	jsonutil.OK(w, ListResponse{Keys: keys})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, accountID primitive.ObjectID) {
	var req createRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	name, err := keyName(req.Name)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	res, err := h.keys.Create(ctx, accountID, name)
	if errors.Is(err, apikeystore.ErrDuplicateName) {
		jsonutil.WriteError(w, r, h.log, apperr.Conflict("a key named %q already exists", name))
		return
	}
	if err != nil {
		jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "create api key"))
		return
	}

	p, _ := identity.FromRequest(r)
	h.log.Info("api key created",
		zap.String("key_id", res.Key.ID.Hex()),
		zap.String("key_prefix", res.Key.KeyPrefix),
		zap.String("account_id", accountID.Hex()),
		zap.String("actor_id", p.AccountID.Hex()))
	h.audit.APIKeyCreated(r, p.AccountID, accountID, res.Key.ID, name)
	jsonutil.Created(w, CreatedResponse{APIKey: res.Key, Key: res.FullKey})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request, accountID primitive.ObjectID) {
	keyID, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	key, err := h.keys.GetByID(ctx, keyID)
	if errors.Is(err, apikeystore.ErrNotFound) || (err == nil && key.AccountID != accountID) {
		jsonutil.NotFound(w, "api key not found")
		return
	}
	if err != nil {
		jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "load api key"))
		return
	}
	if key.Status == apikeystore.StatusRevoked {
		jsonutil.NoContent(w)
		return
	}
	if err := h.keys.Revoke(ctx, keyID); err != nil && !errors.Is(err, apikeystore.ErrNotFound) {
		jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "revoke api key"))
		return
	}

	p, _ := identity.FromRequest(r)
	h.log.Info("api key revoked",
		zap.String("key_id", keyID.Hex()),
		zap.String("account_id", accountID.Hex()),
		zap.String("actor_id", p.AccountID.Hex()))
	h.audit.APIKeyRevoked(r, p.AccountID, accountID, keyID)
	jsonutil.NoContent(w)
}

func (h *Handler) listMine(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	h.list(w, r, p.AccountID)
}

func (h *Handler) createMine(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	h.create(w, r, p.AccountID)
}

func (h *Handler) revokeMine(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	h.revoke(w, r, p.AccountID)
}

// targetAccount resolves {accountID} and checks the account exists.
func (h *Handler) targetAccount(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	id, err := formutil.PathID(r, "accountID")
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return id, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()
	if _, err := h.accounts.GetByID(ctx, id); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			jsonutil.NotFound(w, "account not found")
		} else {
			jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "load account"))
		}
		return id, false
	}
	return id, true
}

func (h *Handler) listFor(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.targetAccount(w, r); ok {
		h.list(w, r, id)
	}
}

func (h *Handler) createFor(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.targetAccount(w, r); ok {
		h.create(w, r, id)
	}
}

func (h *Handler) revokeFor(w http.ResponseWriter, r *http.Request) {
	if id, ok := h.targetAccount(w, r); ok {
		h.revoke(w, r, id)
	}
}
