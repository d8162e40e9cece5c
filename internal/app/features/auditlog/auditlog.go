// Package auditlog serves the admin audit trail at /api/admin/audit.
//
// Query parameters: category, event_type, account_id, actor_id, item_id,
// start_date and end_date (YYYY-MM-DD, interpreted in tz), page and limit.
package auditlog

import (
	"context"
	"net/http"
	"strings"
	"time"

	accountstore "github.com/dalemusser/stratavault/internal/app/store/accounts"
	"github.com/dalemusser/stratavault/internal/app/store/audit"
	"github.com/dalemusser/stratavault/internal/app/system/formutil"
	"github.com/dalemusser/stratavault/internal/app/system/jsonutil"
	"github.com/dalemusser/stratavault/internal/app/system/timeouts"
	"github.com/dalemusser/stratavault/internal/domain/apperr"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Handler provides the audit log endpoint.
type Handler struct {
	auditStore *audit.Store
	accounts   *accountstore.Store
	logger     *zap.Logger
}

func NewHandler(db *mongo.Database, logger *zap.Logger) *Handler {
	return &Handler{
		auditStore: audit.New(db),
		accounts:   accountstore.New(db),
		logger:     logger,
	}
}

// Routes returns the audit router. Callers enforce the admin role.
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.list)
	return r
}

// Entry is an event with account emails resolved where still possible.
type Entry struct {
	audit.Event
	AccountEmail string `json:"account_email,omitempty"`
	ActorEmail   string `json:"actor_email,omitempty"`
}

// ListResponse is one page of the audit trail.
type ListResponse struct {
	Events     []Entry  `json:"events"`
	Total      int64    `json:"total"`
	Page       int64    `json:"page"`
	Limit      int64    `json:"limit"`
	TotalPages int64    `json:"total_pages"`
	Categories []string `json:"categories"`
	EventTypes []string `json:"event_types"`
}

// eventTypesForCategory lists the event types of category, or all of
// them when category is empty.
func eventTypesForCategory(category string) []string {
	adminEvents := []string{
		audit.EventAccountCreated,
		audit.EventQuotaChanged,
		audit.EventAccountStatusChanged,
		audit.EventRoleChanged,
		audit.EventQuotaReconciled,
		audit.EventAPIKeyCreated,
		audit.EventAPIKeyRevoked,
	}
	sharingEvents := []string{
		audit.EventShareGranted,
		audit.EventShareUpdated,
		audit.EventShareRevoked,
		audit.EventPublicLinkCreated,
		audit.EventPublicLinkRevoked,
	}

	switch category {
	case audit.CategoryAdmin:
		return adminEvents
	case audit.CategorySharing:
		return sharingEvents
	case "":
		return append(append([]string{}, adminEvents...), sharingEvents...)
	default:
		return nil
	}
}

func (h *Handler) filter(r *http.Request) (audit.QueryFilter, int64, int64, error) {
	q := r.URL.Query()
	f := audit.QueryFilter{
		Category:  strings.TrimSpace(q.Get("category")),
		EventType: strings.TrimSpace(q.Get("event_type")),
	}
	if f.Category != "" && eventTypesForCategory(f.Category) == nil {
		return f, 0, 0, apperr.Invalid("unknown category %q", f.Category)
	}

	var err error
	for _, p := range []struct {
		name string
		dst  **primitive.ObjectID
	}{{"account_id", &f.AccountID}, {"actor_id", &f.ActorID}, {"item_id", &f.ItemID}} {
		if *p.dst, err = formutil.OptionalID(q.Get(p.name), p.name); err != nil {
			return f, 0, 0, err
		}
	}

	loc := time.UTC
	if tz := strings.TrimSpace(q.Get("tz")); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return f, 0, 0, apperr.Invalid("unknown time zone %q", tz)
		}
	}
	if s := strings.TrimSpace(q.Get("start_date")); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return f, 0, 0, apperr.Invalid("start_date must be YYYY-MM-DD")
		}
		f.StartTime = &t
	}
	if s := strings.TrimSpace(q.Get("end_date")); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return f, 0, 0, apperr.Invalid("end_date must be YYYY-MM-DD")
		}
		endOfDay := t.Add(24*time.Hour - time.Nanosecond)
		f.EndTime = &endOfDay
	}

	limit, err := formutil.Int64(r, "limit", defaultPageSize)
	if err != nil {
		return f, 0, 0, err
	}
	page, err := formutil.Int64(r, "page", 1)
	if err != nil {
		return f, 0, 0, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	if page < 1 {
		page = 1
	}
	f.Limit = limit
	f.Offset = (page - 1) * limit
	return f, page, limit, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	f, page, limit, err := h.filter(r)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Long())
	defer cancel()

	events, err := h.auditStore.Query(ctx, f)
	if err != nil {
		jsonutil.WriteError(w, r, h.logger, apperr.Internal(err, "query audit events"))
		return
	}
	total, err := h.auditStore.Count(ctx, f)
	if err != nil {
		h.logger.Warn("failed to count audit events", zap.Error(err))
		total = int64(len(events))
	}

	emails := h.emails(ctx, events)
	out := ListResponse{
		Events:     make([]Entry, 0, len(events)),
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
		Categories: []string{audit.CategoryAdmin, audit.CategorySharing},
		EventTypes: eventTypesForCategory(f.Category),
	}
	if out.TotalPages < 1 {
		out.TotalPages = 1
	}
	for _, e := range events {
		entry := Entry{Event: e}
		if e.AccountID != nil {
			entry.AccountEmail = emails[*e.AccountID]
		}
		if e.ActorID != nil {
			entry.ActorEmail = emails[*e.ActorID]
		}
		out.Events = append(out.Events, entry)
	}
	jsonutil.OK(w, out)
}

// emails batch-loads the addresses of accounts named in events. Deleted
// accounts are left blank.
func (h *Handler) emails(ctx context.Context, events []audit.Event) map[primitive.ObjectID]string {
	seen := make(map[primitive.ObjectID]struct{})
	for _, e := range events {
		if e.ActorID != nil {
			seen[*e.ActorID] = struct{}{}
		}
		if e.AccountID != nil {
			seen[*e.AccountID] = struct{}{}
		}
	}
	out := make(map[primitive.ObjectID]string, len(seen))
	if len(seen) == 0 {
		return out
	}
	ids := make([]primitive.ObjectID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	accts, err := h.accounts.GetByIDs(ctx, ids)
	if err != nil {
		h.logger.Warn("failed to resolve audit account emails", zap.Error(err))
		return out
	}
	for _, a := range accts {
		out[a.ID] = a.Email
	}
	return out
}
