// Package files serves uploads, downloads and public links.
//
// Endpoints (mounted at /api/files):
//   - POST   /                   upload; raw body, ?name=&folder_id=
//   - GET    /{id}               file details
//   - GET    /{id}/content       file bytes; ?download=1 forces attachment
//   - PATCH  /{id}               rename or move
//   - POST   /{id}/public-link   publish a public link
//   - DELETE /{id}/public-link   revoke the public link
//
// PublicRoutes serves GET /public/{token} without authentication.
package files

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/system/auditlog"
	"github.com/dalemusser/stratavault/internal/app/system/formutil"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/namespace"
	"github.com/dalemusser/stratavault/internal/app/system/placement"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// FilenameHeader carries the filename when it is not given as ?name=.
// The value is URL-escaped.
const FilenameHeader = "X-Filename"

// Handler serves file endpoints.
type Handler struct {
	placement *placement.Service
	ns        *namespace.Manager
	access    *sharing.Resolver
	baseURL   string
	audit     *auditlog.Logger
	logger    *zap.Logger
}

// NewHandler creates a files handler. baseURL prefixes public link URLs;
// audit may be nil.
func NewHandler(p *placement.Service, ns *namespace.Manager, access *sharing.Resolver, baseURL string, audit *auditlog.Logger, logger *zap.Logger) *Handler {
	return &Handler{
		placement: p,
		ns:        ns,
		access:    access,
		baseURL:   strings.TrimRight(baseURL, "/"),
		audit:     audit,
		logger:    logger,
	}
}

// Routes returns the authenticated file router.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/", h.upload)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Get("/content", h.content)
		r.Patch("/", h.update)
		r.Post("/public-link", h.createPublicLink)
		r.Delete("/public-link", h.revokePublicLink)
	})
	return r
}

// PublicRoutes returns the unauthenticated public link router.
func PublicRoutes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/{token}", h.public)
	return r
}

// FileResponse is a file as seen by the caller.
type FileResponse struct {
	sharing.Entry
	Category  string `json:"category"`
	SizeHuman string `json:"size_human"`
	PublicURL string `json:"public_url,omitempty"`
}

func (h *Handler) respond(e sharing.Entry, token *string) FileResponse {
	resp := FileResponse{
		Entry:     e,
		Category:  Category(e.ContentType),
		SizeHuman: humanize.IBytes(uint64(e.Size)),
	}
	if token != nil && *token != "" && e.Owned {
		resp.PublicURL = h.publicURL(*token)
	}
	return resp
}

func (h *Handler) publicURL(token string) string {
	return h.baseURL + "/public/" + url.PathEscape(token)
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	q := r.URL.Query()

	folderID, err := formutil.OptionalID(q.Get("folder_id"), "folder_id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	name := q.Get("name")
	if name == "" {
		if raw := r.Header.Get(FilenameHeader); raw != "" {
			if name, err = url.PathUnescape(raw); err != nil {
				jsonutil.BadRequest(w, "invalid "+FilenameHeader+" header")
				return
			}
		}
	}
	if r.ContentLength < 0 {
		jsonutil.Error(w, http.StatusLengthRequired, "Content-Length is required")
		return
	}

	f, err := h.placement.Place(r.Context(), p.AccountID, placement.PlaceInput{
		FolderID:     folderID,
		Body:         r.Body,
		DeclaredSize: r.ContentLength,
		MediaType:    r.Header.Get("Content-Type"),
		FilenameHint: name,
	})
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}

	entry, err := h.ns.Get(r.Context(), p.AccountID, f.ID)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.Created(w, h.respond(*entry, nil))
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (*sharing.Entry, bool) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return nil, false
	}
	e, err := h.ns.Get(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return nil, false
	}
	if e.IsFolder() {
		jsonutil.NotFound(w, "file not found")
		return nil, false
	}
	return e, true
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	e, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonutil.OK(w, h.respond(*e, e.PublicLinkToken))
}

func (h *Handler) content(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	f, rc, err := h.placement.Open(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	defer rc.Close()
	download, _ := strconv.ParseBool(r.URL.Query().Get("download"))
	h.stream(w, f, rc, !download)
}

func (h *Handler) public(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	f, rc, err := h.placement.OpenPublic(r.Context(), token)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	defer rc.Close()
	h.stream(w, f, rc, false)
}

func (h *Handler) stream(w http.ResponseWriter, f *models.File, rc io.Reader, inline bool) {
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", ContentDisposition(f.Name, inline && IsViewable(ct)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream file",
			zap.String("file_id", f.ID.Hex()),
			zap.String("content_key", f.ContentKey),
			zap.Error(err))
	}
}

type updateRequest struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parent_id"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	e, ok := h.load(w, r)
	if !ok {
		return
	}
	p, _ := identity.FromRequest(r)
	var req updateRequest
	if err := jsonutil.Decode(r, &req); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	if req.Name == nil && req.ParentID == nil {
		jsonutil.BadRequest(w, "nothing to update")
		return
	}

	ctx := r.Context()
	if req.Name != nil {
		if _, err := h.ns.Rename(ctx, p.AccountID, e.ID, *req.Name); err != nil {
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
		if _, err := h.ns.Move(ctx, p.AccountID, e.ID, parentID); err != nil {
			jsonutil.WriteError(w, r, h.logger, err)
			return
		}
	}

	updated, err := h.ns.Get(ctx, p.AccountID, e.ID)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	jsonutil.OK(w, h.respond(*updated, updated.PublicLinkToken))
}

// PublicLinkResponse is returned when a link is published.
type PublicLinkResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (h *Handler) createPublicLink(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	token, err := h.access.CreatePublicLink(r.Context(), p.AccountID, id)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	h.audit.PublicLinkCreated(r, p.AccountID, id)
	jsonutil.OK(w, PublicLinkResponse{Token: token, URL: h.publicURL(token)})
}

func (h *Handler) revokePublicLink(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	id, err := formutil.PathID(r, "id")
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	if err := h.access.RevokePublicLink(r.Context(), p.AccountID, id); err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}
	h.audit.PublicLinkRevoked(r, p.AccountID, id)
	jsonutil.NoContent(w)
}
