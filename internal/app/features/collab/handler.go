// internal/app/features/collab/handler.go
package collab

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/presence"
	"github.com/dalemusser/coedit/internal/app/system/ratelimit"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultMaxMessageBytes bounds a single client frame.
const DefaultMaxMessageBytes = 1 << 20

// Options tunes the WebSocket endpoint.
type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty means
	// same-host only; "*" allows any origin.
	AllowedOrigins  []string
	MaxMessageBytes int64
}

// Handler serves live collaboration sessions over WebSocket.
type Handler struct {
	Coord *syncer.Coordinator
	Hub   *presence.Hub
	Gate  *contentpolicy.Gate
	Limit *ratelimit.Limiter // per connection; nil disables
	Log   *zap.Logger

	upgrader        websocket.Upgrader
	maxMessageBytes int64
}

// NewHandler constructs a collab Handler.
func NewHandler(coord *syncer.Coordinator, hub *presence.Hub, gate *contentpolicy.Gate, limit *ratelimit.Limiter, opts Options, logger *zap.Logger) *Handler {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = DefaultMaxMessageBytes
	}
	return &Handler{
		Coord: coord,
		Hub:   hub,
		Gate:  gate,
		Limit: limit,
		Log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		maxMessageBytes: opts.MaxMessageBytes,
	}
}

// originChecker returns nil (gorilla's same-host check) when no origins are
// configured.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// Serve handles GET /collab/{contentID}/ws.
//
// The caller must carry a bearer token (header or ?token=) and view
// permission. With ?lastSeq=n the first frame is a catchup with every
// operation after n; live broadcasts are queued from the moment the session
// joins so nothing falls between the two.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.CurrentUser(r)
	if !ok {
		errorsfeature.RenderUnauthorized(w)
		return
	}
	contentID, err := primitive.ObjectIDFromHex(chi.URLParam(r, "contentID"))
	if err != nil {
		errorsfeature.Render(w, r, h.Log, syncerr.E(syncerr.NotFound, "content not found"))
		return
	}

	lastSeq := int64(-1)
	if v := r.URL.Query().Get("lastSeq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			errorsfeature.Render(w, r, h.Log, syncerr.E(syncerr.Invalid, "lastSeq must be a non-negative integer"))
			return
		}
		lastSeq = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Short())
	_, err = h.Coord.Current(ctx, contentID, u.ID)
	cancel()
	if err != nil {
		errorsfeature.Render(w, r, h.Log, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.Log.Info("websocket upgrade failed",
			zap.String("content_id", contentID.Hex()),
			zap.Error(err))
		return
	}

	c := &conn{h: h, ws: ws, user: u, content: contentID}
	c.run(lastSeq)
}
