// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings for non-API routes
//   - Request body size limits
//   - Database connection timeouts
//
// AppConfig carries everything specific to the vault: backends, token
// verification, upload policy, quota defaults and the maintenance schedule.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Maximum connections in pool (default: 100)
	MongoMinPoolSize uint64 // Minimum connections to keep warm (default: 10)

	// Bearer token verification. API keys always work; JWTs only when a
	// secret is configured.
	JWTSecret   string
	JWTIssuer   string
	JWTTokenTTL time.Duration // lifetime of tokens minted by POST /api/me/token

	// Origins allowed to call /api from a browser. Empty allows any.
	APICORSOrigins []string

	// Content storage configuration
	StorageType      string // Storage backend: "local" or "s3"
	StorageLocalPath string // Local storage path (e.g., "./content")
	StorageLocalURL  string // URL prefix the local store reports (never served directly)

	// S3/CloudFront configuration (only used if StorageType is "s3")
	StorageS3Region    string // AWS region
	StorageS3Bucket    string // S3 bucket name
	StorageS3Prefix    string // Key prefix (e.g., "content/")
	StorageCFURL       string // CloudFront distribution URL
	StorageCFKeyPairID string // CloudFront key pair ID
	StorageCFKeyPath   string // Path to CloudFront private key file

	// Email/SMTP configuration for share notifications. Mail is off when
	// the host or from address is empty.
	MailSMTPHost string
	MailSMTPPort int
	MailSMTPUser string
	MailSMTPPass string
	MailFrom     string
	MailFromName string

	// Base URL for links in emails and public file links.
	BaseURL string

	// Redis relays live events between instances. Empty keeps events local.
	RedisURL     string
	RedisChannel string

	// Quota and upload policy
	DefaultQuota      int64    // bytes granted to new accounts
	MaxUploadSize     int64    // bytes; 0 means unlimited
	AllowedMediaTypes []string // empty accepts every type
	BlockedExtensions []string

	// Maintenance schedule
	TrashRetention         time.Duration // 0 keeps trash until emptied
	TrashSweepInterval     time.Duration
	GrantReapInterval      time.Duration
	QuotaReconcileInterval time.Duration

	// Operation timeouts
	TimeoutPing  time.Duration
	TimeoutShort time.Duration
	TimeoutLong  time.Duration
	TimeoutBatch time.Duration

	// Metrics exposes /metrics when true.
	MetricsEnabled bool

	// Audit trail destinations per category: all, db, log or off.
	AuditLogAdmin   string
	AuditLogSharing string

	// Admin seeding configuration
	SeedAdminEmail string // Email of the admin account to create on startup (if set)
	SeedAdminName  string // Name of the admin account to create on startup
}
