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
//   - CORS settings
//   - Request body size limits
//
// AppConfig carries the backends (Mongo, Redis, NATS), the identity token
// settings, and the tuning knobs of the collaboration core.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Redis presence mirror (blank address disables it)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// NATS cross-node relay (blank URL disables it)
	NatsURL           string
	NatsSubjectPrefix string

	// Bearer tokens are issued by the external auth service
	JWTSecret string
	JWTIssuer string

	// Collaboration core
	CheckpointEvery    int64         // K: snapshot every K accepted operations
	LockWait           time.Duration // bound on waiting for a content item's lock
	HeartbeatInterval  time.Duration
	HeartbeatMissed    int
	SweepInterval      time.Duration
	PermissionCacheTTL time.Duration
	SendQueueSize      int
	MaxMessageBytes    int64
	AllowedOrigins     []string

	// Per-connection operation rate limit
	RateLimitOps    int
	RateLimitWindow time.Duration

	// Audit trail destinations: "all", "db", "log" or "off"
	AuditAccess  string
	AuditContent string
}

// RedisEnabled reports whether the presence mirror is configured.
func (c AppConfig) RedisEnabled() bool { return c.RedisAddr != "" }

// NatsEnabled reports whether the cross-node relay is configured.
func (c AppConfig) NatsEnabled() bool { return c.NatsURL != "" }
