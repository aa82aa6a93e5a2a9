// internal/app/features/comments/handler.go
package comments

import (
	"errors"
	"net/http"
	"strings"

	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	commentstore "github.com/dalemusser/coedit/internal/app/store/comments"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/formutil"
	"github.com/dalemusser/coedit/internal/app/system/htmlsanitize"
	"github.com/dalemusser/coedit/internal/app/system/limits"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/textops"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the comment overlay: threaded comments anchored to a
// payload range at a given version.
type Handler struct {
	Coord    *syncer.Coordinator
	Gate     *contentpolicy.Gate
	Comments *commentstore.Store
	Log      *zap.Logger
}

// NewHandler creates a comments handler.
func NewHandler(coord *syncer.Coordinator, gate *contentpolicy.Gate, comments *commentstore.Store, logger *zap.Logger) *Handler {
	return &Handler{Coord: coord, Gate: gate, Comments: comments, Log: logger}
}

type createRequest struct {
	Text     string                `json:"text"`
	Position *models.CommentAnchor `json:"position,omitempty"`
	ParentID string                `json:"parent_id,omitempty"`
}

// view is a comment as listed: its anchor is carried forward to the current
// version. Orphaned means the anchored text no longer exists.
type view struct {
	models.ContentComment
	Current  *models.CommentAnchor `json:"current_position,omitempty"`
	Orphaned bool                  `json:"orphaned"`
}

func userID(r *http.Request) string {
	if u, ok := auth.CurrentUser(r); ok {
		return u.ID
	}
	return ""
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	errorsfeature.Render(w, r, h.Log, err)
}

func commentErr(err error) error {
	switch {
	case errors.Is(err, commentstore.ErrNotFound):
		return syncerr.E(syncerr.NotFound, "comment not found")
	case errors.Is(err, commentstore.ErrParentMismatch):
		return syncerr.E(syncerr.Invalid, "parent comment is not on this content")
	}
	return err
}

// List handles GET /api/contents/{id}/comments. Resolved threads are
// included with ?resolved=true.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.Coord.Current(r.Context(), id, userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "comment list")
	defer cancel()
	rows, err := h.Comments.ListByContent(ctx, id, query.Get(r, "resolved") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.remap(r, id, doc, rows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	errorsfeature.WriteJSON(w, http.StatusOK, map[string]any{
		"version":  doc.Version,
		"comments": out,
	})
}

// remap carries every anchor forward to doc's version. The log is read once
// from the oldest anchor; each comment replays only the operations applied
// after its own anchor version.
func (h *Handler) remap(r *http.Request, id primitive.ObjectID, doc syncer.Doc, rows []models.ContentComment) ([]view, error) {
	oldest := doc.Version
	for _, c := range rows {
		if c.Position != nil && c.Position.VersionNumber < oldest {
			oldest = c.Position.VersionNumber
		}
	}
	var ops []models.Operation
	if oldest < doc.Version {
		var err error
		ops, err = h.Coord.OperationsBetween(r.Context(), id, oldest-1, doc.LastSequence)
		if err != nil {
			return nil, err
		}
	}

	out := make([]view, 0, len(rows))
	for _, c := range rows {
		v := view{ContentComment: c}
		if a := c.Position; a != nil {
			// version n reflects operations up to sequence n-1
			after := ops
			for len(after) > 0 && after[0].AppliedSequence < a.VersionNumber {
				after = after[1:]
			}
			off, n, ok := textops.Remap(a.Offset, a.Length, after)
			v.Current = &models.CommentAnchor{VersionNumber: doc.Version, Offset: off, Length: n}
			v.Orphaned = !ok
		}
		out = append(out, v)
	}
	return out, nil
}

// Create handles POST /api/contents/{id}/comments. A parent_id makes the
// comment a reply; replies inherit their thread's anchor and carry none.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createRequest
	if err := formutil.DecodeJSON(w, r, &req, limits.MaxCommentBody); err != nil {
		h.fail(w, r, err)
		return
	}
	uid := userID(r)

	doc, err := h.Coord.Current(r.Context(), id, uid)
	if err == nil {
		err = h.Gate.Require(r.Context(), id, uid, contentpolicy.ActionComment)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	text := strings.TrimSpace(htmlsanitize.Comment(req.Text))
	if text == "" {
		h.fail(w, r, syncerr.E(syncerr.Invalid, "comment text is required"))
		return
	}
	cm := models.ContentComment{ContentID: id, UserID: uid, Text: text}

	if req.ParentID != "" {
		pid, err := primitive.ObjectIDFromHex(req.ParentID)
		if err != nil {
			h.fail(w, r, syncerr.E(syncerr.Invalid, "parent_id is not a valid id"))
			return
		}
		if req.Position != nil {
			h.fail(w, r, syncerr.E(syncerr.Invalid, "replies cannot carry a position"))
			return
		}
		cm.ParentID = &pid
	}
	if req.Position != nil {
		if err := h.checkAnchor(r, id, uid, doc, *req.Position); err != nil {
			h.fail(w, r, err)
			return
		}
		a := *req.Position
		cm.Position = &a
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "comment create")
	defer cancel()
	created, err := h.Comments.Create(ctx, cm)
	if err != nil {
		h.fail(w, r, commentErr(err))
		return
	}
	errorsfeature.WriteJSON(w, http.StatusCreated, created)
}

// checkAnchor verifies the range lies inside the payload at its version.
func (h *Handler) checkAnchor(r *http.Request, id primitive.ObjectID, uid string, doc syncer.Doc, a models.CommentAnchor) error {
	if a.Offset < 0 || a.Length < 0 {
		return syncerr.E(syncerr.Invalid, "position offset and length must be >= 0")
	}
	at := doc
	if a.VersionNumber != doc.Version {
		var err error
		if at, err = h.Coord.Version(r.Context(), id, uid, a.VersionNumber); err != nil {
			if errors.Is(err, syncerr.NotFound) {
				return syncerr.E(syncerr.Invalid, "position refers to unknown version %d", a.VersionNumber)
			}
			return err
		}
	}
	if n := textops.Len(at.Payload); a.Offset+a.Length > n {
		return syncerr.E(syncerr.Invalid, "position [%d,%d) is outside the content (length %d)", a.Offset, a.Offset+a.Length, n)
	}
	return nil
}

// Resolve handles POST /api/contents/{id}/comments/{commentID}/resolve.
// The comment's author may resolve it with comment permission; anyone else
// needs edit permission.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cid, err := formutil.ObjectIDParam(r, "commentID", "comment")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	uid := userID(r)

	if err := h.Coord.Exists(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	cm, err := h.Comments.GetByID(r.Context(), cid)
	if err == nil && cm.ContentID != id {
		err = commentstore.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, commentErr(err))
		return
	}

	need := contentpolicy.ActionEdit
	if cm.UserID == uid {
		need = contentpolicy.ActionComment
	}
	if err := h.Gate.Require(r.Context(), id, uid, need); err != nil {
		h.fail(w, r, err)
		return
	}

	resolved, err := h.Comments.Resolve(r.Context(), cid, uid)
	if err != nil {
		h.fail(w, r, commentErr(err))
		return
	}
	errorsfeature.WriteJSON(w, http.StatusOK, resolved)
}
