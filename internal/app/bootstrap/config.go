// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/coedit/internal/app/system/auditlog"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// minSecretLen is the shortest JWT secret accepted outside dev.
const minSecretLen = 32

// appConfigKeys defines the configuration keys for coedit.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, nats_url, etc.
//   - Environment variables: COEDIT_MONGO_URI, COEDIT_NATS_URL, etc.
//   - Command-line flags: --mongo_uri, --nats_url, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "coedit", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},

	// Presence mirror
	{Name: "redis_addr", Default: "", Desc: "Redis address for the presence mirror (blank disables)"},
	{Name: "redis_password", Default: "", Desc: "Redis password"},
	{Name: "redis_db", Default: 0, Desc: "Redis database number"},
	{Name: "redis_prefix", Default: "coedit", Desc: "Redis key prefix"},

	// Cross-node relay
	{Name: "nats_url", Default: "", Desc: "NATS URL for the cross-node relay (blank disables)"},
	{Name: "nats_subject_prefix", Default: "coedit.content", Desc: "NATS subject prefix"},

	// Identity
	{Name: "jwt_secret", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "HMAC secret for bearer tokens (must be strong in production)"},
	{Name: "jwt_issuer", Default: "", Desc: "Expected token issuer (blank skips the check)"},

	// Collaboration core
	{Name: "checkpoint_every", Default: 50, Desc: "Write a snapshot every N accepted operations"},
	{Name: "lock_wait", Default: "5s", Desc: "Max wait for a content item's write lock"},
	{Name: "heartbeat_interval", Default: "30s", Desc: "WebSocket heartbeat interval"},
	{Name: "heartbeat_missed", Default: 2, Desc: "Missed heartbeats before a session is evicted"},
	{Name: "sweep_interval", Default: "5s", Desc: "How often silent sessions are swept"},
	{Name: "permission_cache_ttl", Default: "2s", Desc: "Permission answer cache TTL (0 disables)"},
	{Name: "send_queue_size", Default: 256, Desc: "Outbound frames buffered per session"},
	{Name: "max_message_bytes", Default: 1048576, Desc: "Largest accepted WebSocket frame"},
	{Name: "allowed_origins", Default: "", Desc: "Comma-separated browser origins allowed to connect (blank: same host, *: any)"},
	{Name: "rate_limit_ops", Default: 200, Desc: "Frames accepted per connection per window (0 disables)"},
	{Name: "rate_limit_window", Default: "1s", Desc: "Rate limit window"},

	// Audit trail
	{Name: "audit_access", Default: "all", Desc: "Audit grants and revocations: all, db, log, off"},
	{Name: "audit_content", Default: "all", Desc: "Audit creation, archival, renames and saves: all, db, log, off"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, COEDIT_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "COEDIT", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),

		RedisAddr:     strings.TrimSpace(appValues.String("redis_addr")),
		RedisPassword: appValues.String("redis_password"),
		RedisDB:       appValues.Int("redis_db"),
		RedisPrefix:   appValues.String("redis_prefix"),

		NatsURL:           strings.TrimSpace(appValues.String("nats_url")),
		NatsSubjectPrefix: appValues.String("nats_subject_prefix"),

		JWTSecret: appValues.String("jwt_secret"),
		JWTIssuer: appValues.String("jwt_issuer"),

		CheckpointEvery:    int64(appValues.Int("checkpoint_every")),
		LockWait:           appValues.Duration("lock_wait", 5*time.Second),
		HeartbeatInterval:  appValues.Duration("heartbeat_interval", 30*time.Second),
		HeartbeatMissed:    appValues.Int("heartbeat_missed"),
		SweepInterval:      appValues.Duration("sweep_interval", 5*time.Second),
		PermissionCacheTTL: appValues.Duration("permission_cache_ttl", 2*time.Second),
		SendQueueSize:      appValues.Int("send_queue_size"),
		MaxMessageBytes:    int64(appValues.Int("max_message_bytes")),
		AllowedOrigins:     splitList(appValues.String("allowed_origins")),

		RateLimitOps:    appValues.Int("rate_limit_ops"),
		RateLimitWindow: appValues.Duration("rate_limit_window", time.Second),

		AuditAccess:  strings.ToLower(strings.TrimSpace(appValues.String("audit_access"))),
		AuditContent: strings.ToLower(strings.TrimSpace(appValues.String("audit_content"))),
	}

	return coreCfg, appCfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// The MongoDB URI format is checked before any connection attempt, and the
// token secret must be real outside dev.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if coreCfg.Env != "dev" && len(appCfg.JWTSecret) < minSecretLen {
		return fmt.Errorf("jwt_secret must be at least %d bytes outside dev", minSecretLen)
	}
	if appCfg.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint_every must be >= 1 (got %d)", appCfg.CheckpointEvery)
	}
	if appCfg.HeartbeatMissed < 1 {
		return fmt.Errorf("heartbeat_missed must be >= 1 (got %d)", appCfg.HeartbeatMissed)
	}
	if appCfg.HeartbeatInterval <= 0 || appCfg.LockWait <= 0 {
		return fmt.Errorf("heartbeat_interval and lock_wait must be positive")
	}
	for key, v := range map[string]string{"audit_access": appCfg.AuditAccess, "audit_content": appCfg.AuditContent} {
		if v != "" && !auditlog.ValidMode(v) {
			return fmt.Errorf("%s must be one of all, db, log, off (got %q)", key, v)
		}
	}
	return nil
}
