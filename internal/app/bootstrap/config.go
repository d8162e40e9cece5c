// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/stratavault/internal/app/system/auditlog"
	"github.com/dalemusser/stratavault/internal/app/system/quota"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EnvVarPrefix is the prefix for environment variables.
const EnvVarPrefix = "STRATAVAULT"

// minJWTSecretLen is the shortest HMAC secret accepted.
const minJWTSecretLen = 32

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, default_quota, etc.
//   - Environment variables: STRATAVAULT_MONGO_URI, STRATAVAULT_DEFAULT_QUOTA, etc.
//   - Command-line flags: --mongo_uri, --default_quota, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "stratavault", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Bearer token verification
	{Name: "jwt_secret", Default: "", Desc: "HMAC secret for JWT bearer tokens (leave empty to accept API keys only)"},
	{Name: "jwt_issuer", Default: "stratavault", Desc: "Expected JWT issuer"},
	{Name: "jwt_token_ttl", Default: "15m", Desc: "Lifetime of tokens issued by POST /api/me/token"},
	{Name: "api_cors_origins", Default: "", Desc: "Comma-separated origins allowed to call /api (empty allows any)"},

	// Content storage configuration
	{Name: "storage_type", Default: "local", Desc: "Storage backend: 'local' or 's3'"},
	{Name: "storage_local_path", Default: "./content", Desc: "Local storage path for file content"},
	{Name: "storage_local_url", Default: "/content", Desc: "URL prefix reported by the local store"},

	// S3/CloudFront configuration
	{Name: "storage_s3_region", Default: "", Desc: "AWS region for S3"},
	{Name: "storage_s3_bucket", Default: "", Desc: "S3 bucket name"},
	{Name: "storage_s3_prefix", Default: "content/", Desc: "S3 key prefix"},
	{Name: "storage_cf_url", Default: "", Desc: "CloudFront distribution URL"},
	{Name: "storage_cf_keypair_id", Default: "", Desc: "CloudFront key pair ID"},
	{Name: "storage_cf_key_path", Default: "", Desc: "Path to CloudFront private key file"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "", Desc: "SMTP server host (empty disables share emails)"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@example.com", Desc: "From email address"},
	{Name: "mail_from_name", Default: "StrataVault", Desc: "From display name"},

	{Name: "base_url", Default: "http://localhost:8080", Desc: "Base URL for email and public links"},

	// Live event relay
	{Name: "redis_url", Default: "", Desc: "Redis URL for relaying live events between instances (empty keeps events local)"},
	{Name: "redis_channel", Default: "stratavault:events", Desc: "Redis pub/sub channel for live events"},

	// Quota and upload policy
	{Name: "default_quota", Default: "10GiB", Desc: "Storage quota for new accounts (e.g., 10GiB, 500MB, 1073741824)"},
	{Name: "max_upload_size", Default: "2GiB", Desc: "Largest accepted upload (0 for unlimited)"},
	{Name: "allowed_media_types", Default: "", Desc: "Comma-separated accepted media types, 'type/*' allowed (empty accepts all)"},
	{Name: "blocked_extensions", Default: ".exe,.bat,.cmd,.com,.msi,.scr", Desc: "Comma-separated rejected filename extensions"},

	// Maintenance schedule
	{Name: "trash_retention", Default: "720h", Desc: "How long trashed items are kept before purge (0 keeps them)"},
	{Name: "trash_sweep_interval", Default: "1h", Desc: "How often expired trash is purged"},
	{Name: "grant_reap_interval", Default: "6h", Desc: "How often grants on purged items are removed"},
	{Name: "quota_reconcile_interval", Default: "24h", Desc: "How often cached usage is recomputed"},

	// Operation timeouts
	{Name: "timeout_ping", Default: "2s", Desc: "Health probe timeout"},
	{Name: "timeout_short", Default: "5s", Desc: "Single-record operation timeout"},
	{Name: "timeout_long", Default: "30s", Desc: "Subtree operation timeout"},
	{Name: "timeout_batch", Default: "5m", Desc: "Background job timeout"},

	{Name: "metrics_enabled", Default: true, Desc: "Expose Prometheus metrics at /metrics"},

	// Audit trail destinations: all, db, log or off
	{Name: "audit_log_admin", Default: "all", Desc: "Audit destination for account and API key changes"},
	{Name: "audit_log_sharing", Default: "all", Desc: "Audit destination for shares and public links"},

	// Admin seeding configuration
	{Name: "seed_admin_email", Default: "", Desc: "Email of admin account to create on startup"},
	{Name: "seed_admin_name", Default: "Admin", Desc: "Name of admin account to create on startup"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, STRATAVAULT_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	defaultQuota, err := quota.ParseSize(appValues.String("default_quota"))
	if err != nil {
		return nil, AppConfig{}, fmt.Errorf("default_quota: %w", err)
	}
	maxUpload, err := quota.ParseSize(appValues.String("max_upload_size"))
	if err != nil {
		return nil, AppConfig{}, fmt.Errorf("max_upload_size: %w", err)
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		JWTSecret:      appValues.String("jwt_secret"),
		JWTIssuer:      appValues.String("jwt_issuer"),
		JWTTokenTTL:    appValues.Duration("jwt_token_ttl", 15*time.Minute),
		APICORSOrigins: splitList(appValues.String("api_cors_origins")),

		// Content storage
		StorageType:      strings.ToLower(strings.TrimSpace(appValues.String("storage_type"))),
		StorageLocalPath: appValues.String("storage_local_path"),
		StorageLocalURL:  appValues.String("storage_local_url"),

		// S3/CloudFront
		StorageS3Region:    appValues.String("storage_s3_region"),
		StorageS3Bucket:    appValues.String("storage_s3_bucket"),
		StorageS3Prefix:    appValues.String("storage_s3_prefix"),
		StorageCFURL:       appValues.String("storage_cf_url"),
		StorageCFKeyPairID: appValues.String("storage_cf_keypair_id"),
		StorageCFKeyPath:   appValues.String("storage_cf_key_path"),

		// Email/SMTP
		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		BaseURL: strings.TrimRight(appValues.String("base_url"), "/"),

		RedisURL:     appValues.String("redis_url"),
		RedisChannel: appValues.String("redis_channel"),

		DefaultQuota:      defaultQuota,
		MaxUploadSize:     maxUpload,
		AllowedMediaTypes: splitList(appValues.String("allowed_media_types")),
		BlockedExtensions: splitList(appValues.String("blocked_extensions")),

		TrashRetention:         appValues.Duration("trash_retention", 30*24*time.Hour),
		TrashSweepInterval:     appValues.Duration("trash_sweep_interval", time.Hour),
		GrantReapInterval:      appValues.Duration("grant_reap_interval", 6*time.Hour),
		QuotaReconcileInterval: appValues.Duration("quota_reconcile_interval", 24*time.Hour),

		TimeoutPing:  appValues.Duration("timeout_ping", 2*time.Second),
		TimeoutShort: appValues.Duration("timeout_short", 5*time.Second),
		TimeoutLong:  appValues.Duration("timeout_long", 30*time.Second),
		TimeoutBatch: appValues.Duration("timeout_batch", 5*time.Minute),

		MetricsEnabled: appValues.Bool("metrics_enabled"),

		AuditLogAdmin:   appValues.String("audit_log_admin"),
		AuditLogSharing: appValues.String("audit_log_sharing"),

		SeedAdminEmail: appValues.String("seed_admin_email"),
		SeedAdminName:  appValues.String("seed_admin_name"),
	}

	return coreCfg, appCfg, nil
}

// splitList reads a comma-separated config value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	switch appCfg.StorageType {
	case "local", "":
		if appCfg.StorageLocalPath == "" {
			return fmt.Errorf("storage_local_path is required for local storage")
		}
	case "s3":
		if appCfg.StorageS3Bucket == "" || appCfg.StorageS3Region == "" {
			return fmt.Errorf("storage_s3_bucket and storage_s3_region are required for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", appCfg.StorageType)
	}

	if appCfg.JWTSecret != "" && len(appCfg.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("jwt_secret must be at least %d characters", minJWTSecretLen)
	}
	if appCfg.JWTSecret != "" && appCfg.JWTTokenTTL <= 0 {
		return fmt.Errorf("jwt_token_ttl must be positive")
	}
	if appCfg.JWTSecret == "" {
		logger.Warn("jwt_secret not set; only API keys are accepted")
	}

	if u, err := url.Parse(appCfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL, got %q", appCfg.BaseURL)
	}

	if appCfg.RedisURL != "" {
		if _, err := redis.ParseURL(appCfg.RedisURL); err != nil {
			return fmt.Errorf("invalid redis_url: %w", err)
		}
	}

	for name, v := range map[string]string{
		"audit_log_admin":   appCfg.AuditLogAdmin,
		"audit_log_sharing": appCfg.AuditLogSharing,
	} {
		if !auditlog.Valid(v) {
			return fmt.Errorf("%s must be one of all, db, log, off; got %q", name, v)
		}
	}

	if appCfg.TrashRetention < 0 {
		return fmt.Errorf("trash_retention must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"trash_sweep_interval":     appCfg.TrashSweepInterval,
		"grant_reap_interval":      appCfg.GrantReapInterval,
		"quota_reconcile_interval": appCfg.QuotaReconcileInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}
