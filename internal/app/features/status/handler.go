// Package status reports what this node is holding and what the database
// stores. It complements /health, which only answers reachability.
package status

import (
	"net/http"
	"runtime"
	"time"

	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	metricsstore "github.com/dalemusser/coedit/internal/app/store/metrics"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Runtime is the node-local state the report includes.
type Runtime interface {
	Count() int // live sessions
}

// CacheCounter reports cached content items.
type CacheCounter interface {
	Cached() int
}

// Handler serves GET /status.
type Handler struct {
	DB       *mongo.Database
	Node     string
	Sessions Runtime
	Cache    CacheCounter
	Log      *zap.Logger

	started time.Time
}

// NewHandler constructs a status Handler.
func NewHandler(db *mongo.Database, node string, sessions Runtime, cache CacheCounter, logger *zap.Logger) *Handler {
	return &Handler{DB: db, Node: node, Sessions: sessions, Cache: cache, Log: logger, started: time.Now()}
}

type nodeStatus struct {
	ID            string `json:"id"`
	Uptime        string `json:"uptime"`
	Goroutines    int    `json:"goroutines"`
	Sessions      int    `json:"sessions"`
	CachedContent int    `json:"cached_contents"`
}

type response struct {
	Node   nodeStatus          `json:"node"`
	Counts metricsstore.Counts `json:"counts"`
}

// Serve handles GET /status.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "status counts")
	defer cancel()

	out := response{
		Node: nodeStatus{
			ID:         h.Node,
			Uptime:     time.Since(h.started).Round(time.Second).String(),
			Goroutines: runtime.NumGoroutine(),
		},
		Counts: metricsstore.FetchCounts(ctx, h.DB),
	}
	if h.Sessions != nil {
		out.Node.Sessions = h.Sessions.Count()
	}
	if h.Cache != nil {
		out.Node.CachedContent = h.Cache.Cached()
	}
	errorsfeature.WriteJSON(w, http.StatusOK, out)
}
