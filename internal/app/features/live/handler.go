// Package live upgrades authenticated requests to a websocket that streams
// change events for the scopes the caller may read.
package live

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/store/items"
	"github.com/dalemusser/stratavault/internal/app/system/events"
	"github.com/dalemusser/stratavault/internal/app/system/identity"
	"github.com/dalemusser/stratavault/internal/app/system/sharing"
	"github.com/dalemusser/stratavault/internal/app/system/timeouts"
	"github.com/dalemusser/stratavault/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// maxScopes caps how many scopes, the caller's root included, one
// connection may watch. It also bounds the access lookups per request.
const maxScopes = 64

// FolderAccess checks read access to a folder.
type FolderAccess interface {
	Require(ctx context.Context, accountID, itemID primitive.ObjectID, level models.Permission) (*items.Record, sharing.Access, error)
}

// Handler serves the live endpoint.
type Handler struct {
	hub    *events.Hub
	access FolderAccess
	log    *zap.Logger
}

func NewHandler(hub *events.Hub, access FolderAccess, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, access: access, log: logger}
}

// Routes is mounted at /api/live.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.serve)
	return r
}

// serve subscribes the caller to their root scope plus any folder scopes
// listed in ?scopes=folder:<id>,... and hands the connection to the hub.
// Clients change scopes later by sending {"scopes": [...]}.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.FromRequest(r)
	accountID := p.AccountID

	var requested []string
	if raw := r.URL.Query().Get("scopes"); raw != "" {
		requested = strings.Split(raw, ",")
	}
	initial := h.authorize(r.Context(), accountID, requested)

	conn, err := events.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("live upgrade failed", zap.String("account_id", accountID.Hex()), zap.Error(err))
		return
	}
	sub := h.hub.Subscribe(accountID.Hex(), initial)
	h.log.Debug("live connected", zap.String("account_id", accountID.Hex()), zap.Int("scopes", len(initial)))

	// The request context ends with the handler; scope checks after the
	// upgrade get their own.
	h.hub.Serve(conn, sub, func(scopes []string) []string {
		return h.authorize(context.Background(), accountID, scopes)
	})
}

// authorize keeps the scopes accountID may watch. The caller's own root is
// always included; folder scopes need read access to an active folder. The
// hub also calls it over the current scopes after a share change.
func (h *Handler) authorize(parent context.Context, accountID primitive.ObjectID, requested []string) []string {
	root := events.RootScope(accountID)
	out := []string{root}
	seen := map[string]bool{root: true}
	lookups := 0

	for _, sc := range requested {
		if len(out) >= maxScopes || lookups >= maxScopes {
			break
		}
		sc = strings.TrimSpace(sc)
		if sc == "" || seen[sc] {
			continue
		}
		seen[sc] = true

		hex, ok := strings.CutPrefix(sc, "folder:")
		if !ok {
			continue
		}
		id, err := primitive.ObjectIDFromHex(hex)
		if err != nil {
			continue
		}
		lookups++
		ctx, cancel := context.WithTimeout(parent, timeouts.Short())
		rec, _, err := h.access.Require(ctx, accountID, id, models.PermissionRead)
		cancel()
		if err != nil || !rec.IsFolder() {
			continue
		}
		out = append(out, events.FolderScope(id))
	}
	return out
}
