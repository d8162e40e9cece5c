package auditlog

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/stratavault/internal/app/store/audit"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestValid(t *testing.T) {
	for _, v := range []string{"", "all", "DB", " log ", "off"} {
		assert.True(t, Valid(v), v)
	}
	assert.False(t, Valid("syslog"))
}

func TestLog_Destinations(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := New(nil, zap.New(core), Config{Admin: "log", Sharing: "off"})

	r := httptest.NewRequest("POST", "/", nil)
	actor, account := primitive.NewObjectID(), primitive.NewObjectID()

	l.QuotaChanged(r, actor, account, 2048)
	l.ShareRevoked(r, actor, account, primitive.NewObjectID())

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, audit.EventQuotaChanged, fields["event_type"])
		assert.Equal(t, account.Hex(), fields["account_id"])
		assert.Equal(t, "2048", fields["detail_quota_bytes"])
		assert.Equal(t, "192.0.2.1", fields["ip"])
	}
}

func TestLog_NilLogger(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Log(context.Background(), audit.Event{Category: audit.CategoryAdmin})
		l.PublicLinkCreated(httptest.NewRequest("POST", "/", nil), primitive.NewObjectID(), primitive.NewObjectID())
	})
}
