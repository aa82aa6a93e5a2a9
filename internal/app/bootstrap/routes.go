// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"

	auditfeature "github.com/dalemusser/coedit/internal/app/features/auditlog"
	collabfeature "github.com/dalemusser/coedit/internal/app/features/collab"
	commentsfeature "github.com/dalemusser/coedit/internal/app/features/comments"
	contentsfeature "github.com/dalemusser/coedit/internal/app/features/contents"
	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	healthfeature "github.com/dalemusser/coedit/internal/app/features/health"
	permissionsfeature "github.com/dalemusser/coedit/internal/app/features/permissions"
	presencefeature "github.com/dalemusser/coedit/internal/app/features/presence"
	statusfeature "github.com/dalemusser/coedit/internal/app/features/status"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// any Startup hooks have completed. The collaboration core built in Startup
// is reached through deps.Core.
//
// Every route sees the bearer user when a valid token is presented; the
// feature routers decide which endpoints require one.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	c := deps.Core

	r := chi.NewRouter()
	r.Use(auth.LoadBearerUser(c.Verifier, logger))

	errorsHandler := errorsfeature.NewHandler()
	r.NotFound(errorsHandler.NotFound)
	r.MethodNotAllowed(errorsHandler.MethodNotAllowed)

	// Optional backends are handed over as nil interfaces when disabled.
	var mirrorPing, relayPing healthfeature.Pinger
	var mirrorList presencefeature.Lister
	if c.Mirror != nil {
		mirrorPing = c.Mirror
		mirrorList = c.Mirror
	}
	if c.Relay != nil {
		relayPing = c.Relay
	}

	healthHandler := healthfeature.NewHandler(deps.MongoClient, mirrorPing, relayPing, c.Hub, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	statusHandler := statusfeature.NewHandler(deps.MongoDatabase, c.Node, c.Hub, c.Coord, logger)
	r.Mount("/status", statusfeature.Routes(statusHandler))

	// Live sessions
	collabHandler := collabfeature.NewHandler(c.Coord, c.Hub, c.Gate, c.Limit, collabfeature.Options{
		AllowedOrigins:  appCfg.AllowedOrigins,
		MaxMessageBytes: appCfg.MaxMessageBytes,
	}, logger)
	r.Mount("/collab", collabfeature.Routes(collabHandler))

	// REST surface
	contentsHandler := contentsfeature.NewHandler(c.Coord, c.Contents, c.Spaces, c.Gate, logger)
	contentsHandler.Audit = c.Audit
	r.Mount("/api/contents", contentsfeature.Routes(contentsHandler))

	permsHandler := permissionsfeature.NewHandler(c.Coord, c.Gate, c.Permissions, logger)
	permsHandler.Audit = c.Audit
	r.Mount("/api/contents/{id}/permissions", permissionsfeature.Routes(permsHandler))

	commentsHandler := commentsfeature.NewHandler(c.Coord, c.Gate, c.Comments, logger)
	r.Mount("/api/contents/{id}/comments", commentsfeature.Routes(commentsHandler))

	presenceHandler := presencefeature.NewHandler(c.Coord, c.Hub, mirrorList, logger)
	r.Mount("/api/contents/{id}/presence", presencefeature.Routes(presenceHandler))

	auditHandler := auditfeature.NewHandler(c.Coord, c.Gate, c.AuditEvents, logger)
	r.Mount("/api/contents/{id}/audit", auditfeature.Routes(auditHandler))

	return r, nil
}
