package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Pinger is an optional backing service (the Redis presence mirror, the
// NATS relay).
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports live sessions on this node.
type SessionCounter interface {
	Count() int
}

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client   *mongo.Client
	Mirror   Pinger // nil when Redis is not configured
	Relay    Pinger // nil when NATS is not configured
	Sessions SessionCounter
	Log      *zap.Logger
}

// NewHandler constructs a health Handler. mirror, relay and sessions may be nil.
func NewHandler(client *mongo.Client, mirror, relay Pinger, sessions SessionCounter, logger *zap.Logger) *Handler {
	return &Handler{
		Client:   client,
		Mirror:   mirror,
		Relay:    relay,
		Sessions: sessions,
		Log:      logger,
	}
}

// healthResponse is the JSON structure for the health check response.
type healthResponse struct {
	Status         string `json:"status"`
	Database       string `json:"database"`
	PresenceMirror string `json:"presence_mirror"`
	Relay          string `json:"relay"`
	Sessions       int    `json:"sessions"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "presence_mirror":"connected", "relay":"connected", "sessions":3 }
//
// A failing mirror or relay degrades the node without taking it out of
// rotation: 200 with "status":"degraded". On DB failure: 503 and
//
//	{ "status":"error", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:   "ok",
		Database: "connected",
	}
	if h.Sessions != nil {
		resp.Sessions = h.Sessions.Count()
	}

	// Check database
	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	resp.PresenceMirror = h.check(ctx, "presence mirror", h.Mirror, &resp)
	resp.Relay = h.check(ctx, "relay", h.Relay, &resp)

	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) check(ctx context.Context, name string, p Pinger, resp *healthResponse) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		h.Log.Warn("health-check: "+name+" ping failed", zap.Error(err))
		resp.Status = "degraded"
		return "disconnected"
	}
	return "connected"
}
