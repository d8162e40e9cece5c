// Package accounts serves the caller's own account view and the admin
// account management endpoints.
package accounts

import (
	"context"
	"errors"
	"net/http"
	"time"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	"github.com/dalemusser/stratavault/internal/app/system/auditlog"
	"github.com/dalemusser/stratavault/internal/app/system/formutil"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/inputval"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/normalize"
	"github.com/dalemusser/stratavault/internal/app/system/quota"
	"github.com/dalemusser/stratavault/internal/app/system/timeouts"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler serves account endpoints.
type Handler struct {
	accounts     *accountstore.Store
	ledger       *quota.Ledger
	defaultQuota int64
	audit        *auditlog.Logger
	log          *zap.Logger
}

// NewHandler creates an accounts handler. New accounts created without an
// explicit quota get defaultQuota bytes. audit may be nil.
func NewHandler(db *mongo.Database, ledger *quota.Ledger, defaultQuota int64, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		accounts:     accountstore.New(db),
		ledger:       ledger,
		defaultQuota: defaultQuota,
		audit:        audit,
		log:          logger,
	}
}

// TokenSigner mints bearer tokens for an account.
type TokenSigner interface {
	Sign(accountID primitive.ObjectID, ttl time.Duration) (string, error)
}

// Tokens enables POST /api/me/token.
type Tokens struct {
	Signer TokenSigner
	TTL    time.Duration
}

// MeRoutes is mounted at /api/me. keys, when non-nil, is mounted at /keys;
// tokens, when non-nil, serves POST /token.
func MeRoutes(h *Handler, keys http.Handler, tokens *Tokens) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.me)
	r.Get("/usage", h.myUsage)
	if keys != nil {
		r.Mount("/keys", keys)
	}
	if tokens != nil && tokens.Signer != nil {
		r.Post("/token", h.issueToken(*tokens))
	}
	return r
}

// AdminRoutes is mounted at /api/admin/accounts. keys, when non-nil, is
// mounted under each account as /{accountID}/keys.
func AdminRoutes(h *Handler, keys http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Route("/{accountID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/quota", h.setQuota)
		r.Put("/status", h.setStatus)
		r.Put("/role", h.setRole)
		r.Post("/reconcile", h.reconcile)
		if keys != nil {
			r.Mount("/keys", keys)
		}
	})
	return r
}

// AccountResponse is an account plus its usage snapshot.
type AccountResponse struct {
	models.Account
	Usage quota.Usage `json:"usage"`
}

// ListResponse is a page of accounts.
type ListResponse struct {
	Accounts []AccountResponse `json:"accounts"`
	Total    int64             `json:"total"`
	Page     int64             `json:"page"`
	Limit    int64             `json:"limit"`
}

// TokenResponse carries a short-lived bearer token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReconcileResponse reports the cached usage before and after reconciliation.
type ReconcileResponse struct {
	Before    int64 `json:"before"`
	After     int64 `json:"after"`
	Corrected bool  `json:"corrected"`
}

type createRequest struct {
	Email    string `json:"email" validate:"required,email,max=254" label:"Email"`
	FullName string `json:"full_name" validate:"max=200" label:"Full name"`
	Role     string `json:"role" validate:"oneof=admin user" label:"Role"`
	Quota    string `json:"quota"`
}

type quotaRequest struct {
	Quota      string `json:"quota"`
	QuotaBytes *int64 `json:"quota_bytes"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled" label:"Status"`
}

type roleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin user" label:"Role"`
}

func respond(a *models.Account) AccountResponse {
	return AccountResponse{Account: *a, Usage: quota.UsageOf(a)}
}

func (h *Handler) loadAccount(ctx context.Context, id primitive.ObjectID) (*models.Account, error) {
	a, err := h.accounts.GetByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("account not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load account")
	}
	return a, nil
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	a, err := h.loadAccount(ctx, p.AccountID)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	jsonutil.OK(w, respond(a))
}

func (h *Handler) myUsage(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	u, err := h.ledger.Usage(ctx, p.AccountID)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	jsonutil.OK(w, u)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := formutil.Int64(r, "limit", defaultPageSize)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	page, err := formutil.Int64(r, "page", 1)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if page < 1 {
		page = 1
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	accts, err := h.accounts.List(ctx, limit, page)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "list accounts"))
		return
	}
	total, err := h.accounts.Count(ctx, nil)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "count accounts"))
		return
	}
	out := ListResponse{Accounts: make([]AccountResponse, 0, len(accts)), Total: total, Page: page, Limit: limit}
	for i := range accts {
		out.Accounts = append(out.Accounts, respond(&accts[i]))
	}
	jsonutil.OK(w, out)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	req.Email = normalize.Email(req.Email)
	req.FullName = normalize.Name(req.FullName)
	req.Role = normalize.Role(req.Role)
	if req.Role == "" {
		req.Role = models.RoleUser
	}
	if err := inputval.Validate(req).Err(); err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	quotaBytes := h.defaultQuota
	if req.Quota != "" {
		n, err := quota.ParseSize(req.Quota)
		if err != nil {
			jsonutil.WriteError(w, r, h.log, err)
			return
		}
		quotaBytes = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	a, err := h.accounts.Create(ctx, accountstore.CreateInput{
		Email:      req.Email,
		FullName:   req.FullName,
		Role:       req.Role,
		QuotaBytes: quotaBytes,
	})
	if errors.Is(err, accountstore.ErrDuplicateEmail) {
		jsonutil.WriteError(w, r, h.log, apperr.Conflict("an account with email %q already exists", req.Email))
		return
	}
	if err != nil {
		jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "create account"))
		return
	}

	p, _ := identity.FromRequest(r)
	h.log.Info("account created",
		zap.String("account_id", a.ID.Hex()),
		zap.String("email", a.Email),
		zap.String("role", a.Role),
		zap.Int64("quota_bytes", a.StorageQuotaBytes),
		zap.String("actor_id", p.AccountID.Hex()))
	h.audit.AccountCreated(r, p.AccountID, a.ID, a.Email, a.Role, a.StorageQuotaBytes)
	jsonutil.Created(w, respond(&a))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.PathID(r, "accountID")
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	a, err := h.loadAccount(ctx, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	jsonutil.OK(w, respond(a))
}

func (h *Handler) setQuota(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.PathID(r, "accountID")
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	var req quotaRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	var bytes int64
	switch {
	case req.QuotaBytes != nil:
		bytes = *req.QuotaBytes
	default:
		if bytes, err = quota.ParseSize(req.Quota); err != nil {
			jsonutil.WriteError(w, r, h.log, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := h.ledger.SetQuota(ctx, id, bytes); err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	p, _ := identity.FromRequest(r)
	h.audit.QuotaChanged(r, p.AccountID, id, bytes)
	u, err := h.ledger.Usage(ctx, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	jsonutil.OK(w, u)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	h.update(w, r, &req, func(ctx context.Context, id primitive.ObjectID) error {
		req.Status = normalize.Status(req.Status)
		if err := inputval.Validate(req).Err(); err != nil {
			return err
		}
		if err := h.accounts.SetStatus(ctx, id, req.Status); err != nil {
			return err
		}
		p, _ := identity.FromRequest(r)
		h.audit.StatusChanged(r, p.AccountID, id, req.Status)
		return nil
	})
}

func (h *Handler) setRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	h.update(w, r, &req, func(ctx context.Context, id primitive.ObjectID) error {
		req.Role = normalize.Role(req.Role)
		if err := inputval.Validate(req).Err(); err != nil {
			return err
		}
		p, _ := identity.FromRequest(r)
		if id == p.AccountID && req.Role != models.RoleAdmin {
			return apperr.Forbidden("admins cannot demote themselves")
		}
		if err := h.accounts.SetRole(ctx, id, req.Role); err != nil {
			return err
		}
		h.audit.RoleChanged(r, p.AccountID, id, req.Role)
		return nil
	})
}

// update decodes req, applies fn to the {accountID} account and responds
// with the reloaded account.
func (h *Handler) update(w http.ResponseWriter, r *http.Request, req any, fn func(context.Context, primitive.ObjectID) error) {
	id, err := formutil.PathID(r, "accountID")
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	if err := jsonutil.Decode(r, req); err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	defer cancel()

	if err := fn(ctx, id); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = apperr.NotFound("account not found")
		}
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.Internal(err, "update account")
		}
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	a, err := h.loadAccount(ctx, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}

	p, _ := identity.FromRequest(r)
	h.log.Info("account updated",
		zap.String("account_id", id.Hex()),
		zap.String("role", a.Role),
		zap.String("status", a.Status),
		zap.String("actor_id", p.AccountID.Hex()))
	jsonutil.OK(w, respond(a))
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.PathID(r, "accountID")
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	before, after, err := h.ledger.Reconcile(ctx, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.log, err)
		return
	}
	if before != after {
		p, _ := identity.FromRequest(r)
		h.audit.QuotaReconciled(r, p.AccountID, id, before, after)
	}
	jsonutil.OK(w, ReconcileResponse{Before: before, After: after, Corrected: before != after})
}

// issueToken exchanges the caller's credential for a short-lived token,
// typically so a browser can open /api/live without holding an API key.
func (h *Handler) issueToken(t Tokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := identity.FromRequest(r)
		tok, err := t.Signer.Sign(p.AccountID, t.TTL)
		if err != nil {
			jsonutil.WriteError(w, r, h.log, apperr.Internal(err, "sign token"))
			return
		}
		jsonutil.Created(w, TokenResponse{Token: tok, ExpiresAt: time.Now().UTC().Add(t.TTL)})
	}
}
