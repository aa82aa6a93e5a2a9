// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	"github.com/dalemusser/coedit/internal/app/store/audit"
	commentstore "github.com/dalemusser/coedit/internal/app/store/comments"
	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	operationstore "github.com/dalemusser/coedit/internal/app/store/operations"
	permissionstore "github.com/dalemusser/coedit/internal/app/store/permissions"
	presencestore "github.com/dalemusser/coedit/internal/app/store/presence"
	spacestore "github.com/dalemusser/coedit/internal/app/store/spaces"
	"github.com/dalemusser/coedit/internal/app/system/auditlog"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/presence"
	"github.com/dalemusser/coedit/internal/app/system/ratelimit"
	"github.com/dalemusser/coedit/internal/app/system/relay"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Core is the set of long-lived collaborators shared by every handler.
type Core struct {
	Node string

	Contents    *contentstore.Store
	Operations  *operationstore.Store
	Permissions *permissionstore.Store
	Spaces      *spacestore.Store
	Comments    *commentstore.Store
	Mirror      *presencestore.Store // nil without Redis
	AuditEvents *audit.Store

	Gate     *contentpolicy.Gate
	Hub      *presence.Hub
	Coord    *syncer.Coordinator
	Relay    *relay.Relay // nil without NATS
	Limit    *ratelimit.Limiter
	Sweeper  *workers.PresenceSweeper
	Verifier *auth.Verifier
	Audit    *auditlog.Logger
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It builds
// the collaboration core, joins the relay, and starts the presence sweeper.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	timeouts.Configure(timeouts.Config{LockWait: appCfg.LockWait})
	if n := timeouts.ConfigureFromEnv(); n > 0 {
		logger.Info("timeouts overridden from environment", zap.Int("count", n))
	}

	c := deps.Core
	c.Node = uuid.NewString()
	db := deps.MongoDatabase

	c.Contents = contentstore.New(db)
	c.Operations = operationstore.New(db)
	c.Permissions = permissionstore.New(db)
	c.Spaces = spacestore.New(db)
	c.Comments = commentstore.New(db)
	c.AuditEvents = audit.New(db)
	c.Audit = auditlog.New(c.AuditEvents, logger, auditlog.Config{
		Access:  appCfg.AuditAccess,
		Content: appCfg.AuditContent,
	})

	hubCfg := presence.Config{
		HeartbeatInterval: appCfg.HeartbeatInterval,
		MissedBeats:       appCfg.HeartbeatMissed,
		QueueSize:         appCfg.SendQueueSize,
		Node:              c.Node,
	}
	var mirror presence.Mirror
	if deps.Redis != nil {
		c.Mirror = presencestore.New(deps.Redis, appCfg.RedisPrefix, hubCfg.EvictAfter())
		mirror = c.Mirror
	}
	c.Hub = presence.NewHub(hubCfg, mirror, logger)

	c.Gate = contentpolicy.New(c.Permissions,
		contentpolicy.StoreSpaceAccess{Contents: c.Contents, Spaces: c.Spaces},
		appCfg.PermissionCacheTTL, logger)

	var publisher syncer.Publisher
	if appCfg.NatsEnabled() {
		r, err := relay.Connect(relay.Config{
			URL:           appCfg.NatsURL,
			Name:          "coedit-" + c.Node[:8],
			SubjectPrefix: appCfg.NatsSubjectPrefix,
			Node:          c.Node,
		}, logger)
		if err != nil {
			logger.Error("relay connect failed", zap.String("url", appCfg.NatsURL), zap.Error(err))
			return err
		}
		c.Relay = r
		publisher = r
	}

	c.Coord = syncer.New(syncer.Config{
		CheckpointEvery: appCfg.CheckpointEvery,
		LockWait:        appCfg.LockWait,
	}, syncer.Deps{
		Contents: c.Contents,
		Log:      c.Operations,
		Spaces:   c.Spaces,
		Gate:     c.Gate,
		Hub:      c.Hub,
		Relay:    publisher,
		Logger:   logger,
	})

	if c.Relay != nil {
		if err := c.Relay.Subscribe(func(env relay.Envelope) {
			c.Coord.ApplyRemote(env.ContentID, env.Frame)
		}); err != nil {
			logger.Error("relay subscribe failed", zap.Error(err))
			return err
		}
		logger.Info("relay joined",
			zap.String("node", c.Node),
			zap.String("status", c.Relay.Status()),
			zap.String("subject", c.Relay.Subject("*")))
	}

	if appCfg.RateLimitOps > 0 {
		c.Limit = ratelimit.New(appCfg.RateLimitOps, appCfg.RateLimitWindow)
	}
	c.Verifier = auth.NewVerifier(appCfg.JWTSecret, appCfg.JWTIssuer)

	c.Sweeper = workers.NewPresenceSweeper(c.Hub, c.Coord, logger, appCfg.SweepInterval)
	c.Sweeper.Start()

	logger.Info("collaboration core started",
		zap.String("node", c.Node),
		zap.Int64("checkpoint_every", appCfg.CheckpointEvery),
		zap.Duration("heartbeat_interval", appCfg.HeartbeatInterval),
		zap.Bool("presence_mirror", c.Mirror != nil),
		zap.Bool("relay", c.Relay != nil))
	return nil
}
