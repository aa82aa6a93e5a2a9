// internal/app/features/permissions/handler.go
package permissions

import (
	"errors"
	"net/http"

	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	permissionstore "github.com/dalemusser/coedit/internal/app/store/permissions"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/auditlog"
	"github.com/dalemusser/coedit/internal/app/system/formutil"
	"github.com/dalemusser/coedit/internal/app/system/limits"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// AllUsers is the path segment naming the content-wide default grant.
const AllUsers = "all"

// Handler manages per-content grants. Every route needs manage_access.
type Handler struct {
	Coord *syncer.Coordinator
	Gate  *contentpolicy.Gate
	Perms *permissionstore.Store
	Audit *auditlog.Logger // optional
	Log   *zap.Logger
}

// NewHandler creates a permissions handler.
func NewHandler(coord *syncer.Coordinator, gate *contentpolicy.Gate, perms *permissionstore.Store, logger *zap.Logger) *Handler {
	return &Handler{Coord: coord, Gate: gate, Perms: perms, Log: logger}
}

type grantRequest struct {
	Role models.Role `json:"role"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	errorsfeature.Render(w, r, h.Log, err)
}

// authorize resolves the content id and checks that the caller may manage
// access. Unknown items report NotFound before any permission answer.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, string, bool) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err == nil {
		err = h.Coord.Exists(r.Context(), id)
	}
	var uid string
	if u, ok := auth.CurrentUser(r); ok {
		uid = u.ID
	}
	if err == nil {
		err = h.Gate.Require(r.Context(), id, uid, contentpolicy.ActionManageAccess)
		if errors.Is(err, syncerr.Forbidden) {
			h.Audit.AccessDenied(r.Context(), r, id, uid, string(contentpolicy.ActionManageAccess))
		}
	}
	if err != nil {
		h.fail(w, r, err)
		return primitive.NilObjectID, "", false
	}
	return id, uid, true
}

// target reads the {userID} segment; "all" maps to the default grant.
func target(r *http.Request) *string {
	s := chi.URLParam(r, "userID")
	if s == AllUsers {
		return nil
	}
	return &s
}

// keepsOwner rejects a change that would strip the last owner: who is
// currently an owner and no other user holds the owner role.
func (h *Handler) keepsOwner(r *http.Request, contentID primitive.ObjectID, who *string) error {
	if who == nil {
		return nil
	}
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "owner check")
	defer cancel()
	rows, err := h.Perms.ListByContent(ctx, contentID)
	if err != nil {
		return err
	}
	isOwner, others := false, false
	for _, p := range rows {
		if p.Role != models.RoleOwner || p.UserID == nil {
			continue
		}
		if *p.UserID == *who {
			isOwner = true
		} else {
			others = true
		}
	}
	if isOwner && !others {
		return syncerr.E(syncerr.Invalid, "content must keep at least one owner")
	}
	return nil
}

// List handles GET /api/contents/{id}/permissions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.authorize(w, r)
	if !ok {
		return
	}
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "permission list")
	defer cancel()
	rows, err := h.Perms.ListByContent(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	errorsfeature.WriteJSON(w, http.StatusOK, map[string]any{"permissions": rows})
}

// Grant handles PUT /api/contents/{id}/permissions/{userID}.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if err := formutil.DecodeJSON(w, r, &req, limits.MaxJSONBody); err != nil {
		h.fail(w, r, err)
		return
	}

	who := target(r)
	if who == nil && req.Role == models.RoleOwner {
		h.fail(w, r, syncerr.E(syncerr.Invalid, "the all-users grant cannot be owner"))
		return
	}
	if req.Role != models.RoleOwner {
		if err := h.keepsOwner(r, id, who); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	p, err := h.Gate.Grant(r.Context(), id, who, req.Role, caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Audit.PermissionGranted(r.Context(), r, id, caller, who, string(req.Role))
	errorsfeature.WriteJSON(w, http.StatusOK, p)
}

// Revoke handles DELETE /api/contents/{id}/permissions/{userID}.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	id, caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	who := target(r)
	if err := h.keepsOwner(r, id, who); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.Gate.Revoke(r.Context(), id, who); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Audit.PermissionRevoked(r.Context(), r, id, caller, who)
	w.WriteHeader(http.StatusNoContent)
}
