// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/dalemusser/stratavault/internal/app/store/audit"
	"github.com/dalemusser/stratavault/internal/app/system/network"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Destinations accepted by the Config fields.
const (
	All = "all" // MongoDB and zap
	DB  = "db"  // MongoDB only
	Log = "log" // zap only
	Off = "off"
)

// Config chooses where each event category is recorded.
type Config struct {
	// Admin covers account management and API key events.
	Admin string
	// Sharing covers grants and public links.
	Sharing string
}

// Valid reports whether v is an accepted destination. Empty means All.
func Valid(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", All, DB, Log, Off:
		return true
	}
	return false
}

// Logger records audit events to the audit store and to zap.
// A nil *Logger drops everything, so handlers can run without one in tests.
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	if zapLog == nil {
		zapLog = zap.NewNop()
	}
	return &Logger{store: store, zapLog: zapLog, config: config}
}

func (l *Logger) destination(category string) string {
	var v string
	switch category {
	case audit.CategoryAdmin:
		v = l.config.Admin
	case audit.CategorySharing:
		v = l.config.Sharing
	}
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return All
	}
	return v
}

func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("ip", event.IP),
	}
	if event.AccountID != nil {
		fields = append(fields, zap.String("account_id", event.AccountID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.ItemID != nil {
		fields = append(fields, zap.String("item_id", event.ItemID.Hex()))
	}
	if event.FailureReason != "" {
		fields = append(fields, zap.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log records event according to its category's destination. Store
// failures are logged and never returned; auditing must not fail the
// request that triggered it.
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}
	dest := l.destination(event.Category)
	if dest == Off {
		return
	}
	if dest == All || dest == Log {
		l.logToZap(event)
	}
	if (dest == All || dest == DB) && l.store != nil {
		if err := l.store.Log(ctx, event); err != nil {
			l.zapLog.Error("failed to store audit event",
				zap.Error(err),
				zap.String("event_type", event.EventType),
			)
		}
	}
}

func (l *Logger) record(r *http.Request, category, eventType string, actor primitive.ObjectID, account, item *primitive.ObjectID, details map[string]string) {
	l.Log(r.Context(), audit.Event{
		Category:  category,
		EventType: eventType,
		AccountID: account,
		ActorID:   &actor,
		ItemID:    item,
		IP:        network.ClientIP(r),
		UserAgent: r.UserAgent(),
		Success:   true,
		Details:   details,
	})
}

// --- Admin events ---

func (l *Logger) AccountCreated(r *http.Request, actor, account primitive.ObjectID, email, role string, quotaBytes int64) {
	l.record(r, audit.CategoryAdmin, audit.EventAccountCreated, actor, &account, nil, map[string]string{
		"email":       email,
		"role":        role,
		"quota_bytes": strconv.FormatInt(quotaBytes, 10),
	})
}

func (l *Logger) QuotaChanged(r *http.Request, actor, account primitive.ObjectID, quotaBytes int64) {
	l.record(r, audit.CategoryAdmin, audit.EventQuotaChanged, actor, &account, nil, map[string]string{
		"quota_bytes": strconv.FormatInt(quotaBytes, 10),
	})
}

func (l *Logger) StatusChanged(r *http.Request, actor, account primitive.ObjectID, status string) {
	l.record(r, audit.CategoryAdmin, audit.EventAccountStatusChanged, actor, &account, nil, map[string]string{
		"status": status,
	})
}

func (l *Logger) RoleChanged(r *http.Request, actor, account primitive.ObjectID, role string) {
	l.record(r, audit.CategoryAdmin, audit.EventRoleChanged, actor, &account, nil, map[string]string{
		"role": role,
	})
}

func (l *Logger) QuotaReconciled(r *http.Request, actor, account primitive.ObjectID, before, after int64) {
	l.record(r, audit.CategoryAdmin, audit.EventQuotaReconciled, actor, &account, nil, map[string]string{
		"before": strconv.FormatInt(before, 10),
		"after":  strconv.FormatInt(after, 10),
	})
}

func (l *Logger) APIKeyCreated(r *http.Request, actor, account primitive.ObjectID, keyID primitive.ObjectID, name string) {
	l.record(r, audit.CategoryAdmin, audit.EventAPIKeyCreated, actor, &account, nil, map[string]string{
		"key_id": keyID.Hex(),
		"name":   name,
	})
}

func (l *Logger) APIKeyRevoked(r *http.Request, actor, account primitive.ObjectID, keyID primitive.ObjectID) {
	l.record(r, audit.CategoryAdmin, audit.EventAPIKeyRevoked, actor, &account, nil, map[string]string{
		"key_id": keyID.Hex(),
	})
}

// --- Sharing events ---

func (l *Logger) ShareGranted(r *http.Request, actor, grantee, item primitive.ObjectID, level string) {
	l.record(r, audit.CategorySharing, audit.EventShareGranted, actor, &grantee, &item, map[string]string{
		"level": level,
	})
}

func (l *Logger) ShareUpdated(r *http.Request, actor, grantee, item primitive.ObjectID, level string) {
	l.record(r, audit.CategorySharing, audit.EventShareUpdated, actor, &grantee, &item, map[string]string{
		"level": level,
	})
}

func (l *Logger) ShareRevoked(r *http.Request, actor, grantee, item primitive.ObjectID) {
	l.record(r, audit.CategorySharing, audit.EventShareRevoked, actor, &grantee, &item, nil)
}

func (l *Logger) PublicLinkCreated(r *http.Request, actor, item primitive.ObjectID) {
	l.record(r, audit.CategorySharing, audit.EventPublicLinkCreated, actor, nil, &item, nil)
}

func (l *Logger) PublicLinkRevoked(r *http.Request, actor, item primitive.ObjectID) {
	l.record(r, audit.CategorySharing, audit.EventPublicLinkRevoked, actor, nil, &item, nil)
}
