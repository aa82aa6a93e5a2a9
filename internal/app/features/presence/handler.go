// internal/app/features/presence/handler.go
package presence

import (
	"context"
	"net/http"
	"sort"
	"time"

	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	presencestore "github.com/dalemusser/coedit/internal/app/store/presence"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/formutil"
	presencehub "github.com/dalemusser/coedit/internal/app/system/presence"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// Lister reads the cross-node presence mirror.
type Lister interface {
	List(ctx context.Context, contentID string, now time.Time) ([]presencestore.Entry, error)
}

// Handler reports who is on a content item.
type Handler struct {
	Coord  *syncer.Coordinator
	Hub    *presencehub.Hub
	Mirror Lister // nil when Redis is not configured
	Log    *zap.Logger
}

// NewHandler creates a presence handler.
func NewHandler(coord *syncer.Coordinator, hub *presencehub.Hub, mirror Lister, logger *zap.Logger) *Handler {
	return &Handler{Coord: coord, Hub: hub, Mirror: mirror, Log: logger}
}

// session is one entry of the presence listing. Local is true for sessions
// held by this node; remote entries carry less detail.
type session struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name,omitempty"`
	Permission   string    `json:"permission,omitempty"`
	State        string    `json:"state"`
	Cursor       *int      `json:"cursor,omitempty"`
	Node         string    `json:"node,omitempty"`
	Local        bool      `json:"local"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// List handles GET /api/contents/{id}/presence.
// Local sessions come from the hub; sessions on other nodes from the mirror.
// A mirror failure degrades to the local view.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		errorsfeature.Render(w, r, h.Log, err)
		return
	}
	var uid string
	if u, ok := auth.CurrentUser(r); ok {
		uid = u.ID
	}
	if _, err := h.Coord.Current(r.Context(), id, uid); err != nil {
		errorsfeature.Render(w, r, h.Log, err)
		return
	}

	seen := map[string]bool{}
	out := []session{}
	for _, s := range h.Hub.Sessions(id.Hex()) {
		seen[s.ConnectionID] = true
		out = append(out, session{
			ConnectionID: s.ConnectionID,
			UserID:       s.UserID,
			Name:         s.Name,
			Permission:   s.Permission,
			State:        string(s.State),
			Cursor:       s.Cursor,
			Node:         h.Hub.Config().Node,
			Local:        true,
			LastSeenAt:   s.LastSeenAt,
		})
	}

	if h.Mirror != nil {
		ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "presence mirror list")
		defer cancel()
		entries, err := h.Mirror.List(ctx, id.Hex(), time.Now())
		if err != nil {
			h.Log.Warn("presence mirror unavailable",
				zap.String("content_id", id.Hex()),
				zap.Error(err))
		}
		for _, e := range entries {
			if seen[e.ConnectionID] {
				continue
			}
			seen[e.ConnectionID] = true
			out = append(out, session{
				ConnectionID: e.ConnectionID,
				UserID:       e.UserID,
				State:        e.State,
				Node:         e.Node,
				LastSeenAt:   e.LastSeenAt,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	errorsfeature.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}
