package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func validConfig() AppConfig {
	return AppConfig{
		MongoURI:               "mongodb://localhost:27017",
		MongoDatabase:          "stratavault",
		StorageType:            "local",
		StorageLocalPath:       "./content",
		BaseURL:                "http://localhost:8080",
		TrashRetention:         30 * 24 * time.Hour,
		TrashSweepInterval:     time.Hour,
		GrantReapInterval:      time.Hour,
		QuotaReconcileInterval: time.Hour,
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{".exe", ".bat"}, splitList(" .exe, ,.bat ,"))
	assert.Equal(t, []string{"image/*"}, splitList("image/*"))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"valid", func(*AppConfig) {}, ""},
		{"bad mongo uri", func(c *AppConfig) { c.MongoURI = "postgres://x" }, "MongoDB URI"},
		{"unknown storage", func(c *AppConfig) { c.StorageType = "ftp" }, "unknown storage type"},
		{"s3 without bucket", func(c *AppConfig) { c.StorageType = "s3" }, "storage_s3_bucket"},
		{"short jwt secret", func(c *AppConfig) { c.JWTSecret = "short" }, "jwt_secret"},
		{"long jwt secret", func(c *AppConfig) { c.JWTSecret = "0123456789abcdef0123456789abcdef" }, ""},
		{"zero token ttl", func(c *AppConfig) { c.JWTSecret = "0123456789abcdef0123456789abcdef"; c.JWTTokenTTL = 0 }, "jwt_token_ttl"},
		{"relative base url", func(c *AppConfig) { c.BaseURL = "/vault" }, "base_url"},
		{"bad redis url", func(c *AppConfig) { c.RedisURL = "http://redis" }, "redis_url"},
		{"redis url", func(c *AppConfig) { c.RedisURL = "redis://localhost:6379/0" }, ""},
		{"negative retention", func(c *AppConfig) { c.TrashRetention = -time.Hour }, "trash_retention"},
		{"retention disabled", func(c *AppConfig) { c.TrashRetention = 0 }, ""},
		{"audit destination", func(c *AppConfig) { c.AuditLogSharing = "DB" }, ""},
		{"bad audit destination", func(c *AppConfig) { c.AuditLogAdmin = "syslog" }, "audit_log_admin"},
		{"zero interval", func(c *AppConfig) { c.GrantReapInterval = 0 }, "grant_reap_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(nil, cfg, zap.NewNop())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
