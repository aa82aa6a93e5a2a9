// internal/app/features/contents/handler.go
package contents

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	contentstore "github.com/dalemusser/coedit/internal/app/store/contents"
	spacestore "github.com/dalemusser/coedit/internal/app/store/spaces"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/auditlog"
	"github.com/dalemusser/coedit/internal/app/system/formutil"
	"github.com/dalemusser/coedit/internal/app/system/limits"
	"github.com/dalemusser/coedit/internal/app/system/paging"
	"github.com/dalemusser/coedit/internal/app/system/search"
	"github.com/dalemusser/coedit/internal/app/system/syncer"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/coedit/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler serves the content REST API.
type Handler struct {
	Coord    *syncer.Coordinator
	Contents *contentstore.Store
	Spaces   *spacestore.Store
	Gate     *contentpolicy.Gate
	Audit    *auditlog.Logger // optional
	Log      *zap.Logger
}

// NewHandler creates a contents handler.
func NewHandler(coord *syncer.Coordinator, contents *contentstore.Store, spaces *spacestore.Store, gate *contentpolicy.Gate, logger *zap.Logger) *Handler {
	return &Handler{
		Coord:    coord,
		Contents: contents,
		Spaces:   spaces,
		Gate:     gate,
		Log:      logger,
	}
}

type createRequest struct {
	SpaceID     string             `json:"space_id"`
	ContentType models.ContentType `json:"content_type"`
	Title       string             `json:"title"`
}

type titleRequest struct {
	Title string `json:"title"`
}

// submitRequest is an operation draft. Server-owned fields are not accepted.
type submitRequest struct {
	Type      models.OpType  `json:"type"`
	Position  *int           `json:"position,omitempty"`
	Length    *int           `json:"length,omitempty"`
	Text      string         `json:"text,omitempty"`
	Version   int64          `json:"version"`
	Meta      map[string]any `json:"meta,omitempty"`
	ClientRef string         `json:"client_ref,omitempty"`
}

func (s submitRequest) draft() models.Operation {
	return models.Operation{
		Type:      s.Type,
		Position:  s.Position,
		Length:    s.Length,
		Text:      s.Text,
		Version:   s.Version,
		Meta:      s.Meta,
		ClientRef: s.ClientRef,
	}
}

type submitResponse struct {
	Operation models.Operation `json:"operation"`
	Version   int64            `json:"version"`
	Ephemeral bool             `json:"ephemeral"`
}

type historyResponse struct {
	Operations []models.Operation `json:"operations"`
	HasMore    bool               `json:"has_more"`
	NextSince  int64              `json:"next_since"`
}

// versionSummary lists a stored snapshot without its payload.
type versionSummary struct {
	VersionNumber    int64                 `json:"version_number"`
	BaseSequence     int64                 `json:"base_sequence"`
	DiffFromPrevious *models.SequenceRange `json:"diff_from_previous,omitempty"`
	CreatedBy        string                `json:"created_by"`
	CreatedAt        time.Time             `json:"created_at"`
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

// List handles GET /api/contents?space_id=&q=.
// Members of the space see the items they can view; q filters by title.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	spaceID, err := primitive.ObjectIDFromHex(query.Get(r, "space_id"))
	if err != nil {
		h.fail(w, r, syncerr.E(syncerr.Invalid, "space_id is required"))
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "content list")
	defer cancel()

	if _, err := h.Spaces.GetByID(ctx, spaceID); err != nil {
		if errors.Is(err, spacestore.ErrNotFound) {
			err = syncerr.E(syncerr.NotFound, "space not found")
		}
		h.fail(w, r, err)
		return
	}
	member, err := h.Spaces.IsMember(ctx, spaceID, uid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !member {
		h.fail(w, r, syncerr.E(syncerr.Forbidden, "not a member of this space"))
		return
	}

	items, err := h.Contents.ListBySpace(ctx, spaceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := search.Parse(query.Get(r, "q"))
	visible := make([]models.ContentItem, 0, len(items))
	for _, it := range items {
		if !q.Matches(it.Title) {
			continue
		}
		ok, err := h.Gate.Authorize(ctx, it.ID, uid, contentpolicy.ActionView)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if ok {
			visible = append(visible, it)
		}
	}
	errorsfeature.WriteJSON(w, http.StatusOK, map[string]any{"contents": visible})
}

// Create handles POST /api/contents.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := formutil.DecodeJSON(w, r, &req, limits.MaxJSONBody); err != nil {
		h.fail(w, r, err)
		return
	}
	spaceID, err := primitive.ObjectIDFromHex(req.SpaceID)
	if err != nil {
		h.fail(w, r, syncerr.E(syncerr.InvalidSpace, "space_id is not a valid id"))
		return
	}

	item, err := h.Coord.Create(r.Context(), spaceID, req.ContentType, userID(r), req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Audit.ContentCreated(r.Context(), r, item.ID, userID(r), item.Title)
	errorsfeature.WriteJSON(w, http.StatusCreated, item)
}

// Get handles GET /api/contents/{id}, optionally ?version=n.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var doc syncer.Doc
	if v := query.Get(r, "version"); v != "" {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			h.fail(w, r, syncerr.E(syncerr.Invalid, "version must be an integer"))
			return
		}
		doc, err = h.Coord.Version(r.Context(), id, userID(r), n)
	} else {
		doc, err = h.Coord.Current(r.Context(), id, userID(r))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	errorsfeature.WriteJSON(w, http.StatusOK, doc)
}

// SetTitle handles PUT /api/contents/{id}/title.
func (h *Handler) SetTitle(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req titleRequest
	if err := formutil.DecodeJSON(w, r, &req, limits.MaxJSONBody); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Coord.SetTitle(r.Context(), id, userID(r), req.Title, ""); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Audit.TitleChanged(r.Context(), r, id, userID(r), req.Title)
	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /api/contents/{id}/archive.
func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Coord.Archive(r.Context(), id, userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	h.Audit.ContentArchived(r.Context(), r, id, userID(r))
	w.WriteHeader(http.StatusNoContent)
}

// Versions handles GET /api/contents/{id}/versions: the stored snapshots,
// oldest first.
func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "version list")
	defer cancel()
	rows, err := h.Contents.ListVersions(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]versionSummary, 0, len(rows))
	for _, v := range rows {
		out = append(out, versionSummary{
			VersionNumber:    v.VersionNumber,
			BaseSequence:     v.BaseSequence,
			DiffFromPrevious: v.DiffFromPrevious,
			CreatedBy:        v.CreatedBy,
			CreatedAt:        v.CreatedAt,
		})
	}
	errorsfeature.WriteJSON(w, http.StatusOK, map[string]any{
		"current_version": doc.Version,
		"versions":        out,
	})
}

// History handles GET /api/contents/{id}/operations?since=n&limit=m.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	since, err := paging.ParseSequence(r, "since")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := paging.ParseLimit(r)

	ops, err := h.Coord.History(r.Context(), id, userID(r), since, paging.LimitPlusOne(limit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	more := paging.TrimPage(&ops, limit)
	next := since
	if n := len(ops); n > 0 {
		next = ops[n-1].AppliedSequence
	}
	if ops == nil {
		ops = []models.Operation{}
	}
	errorsfeature.WriteJSON(w, http.StatusOK, historyResponse{Operations: ops, HasMore: more, NextSince: next})
}

// Submit handles POST /api/contents/{id}/operations.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req submitRequest
	if err := formutil.DecodeJSON(w, r, &req, limits.MaxJSONBody); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.Coord.Submit(r.Context(), id, userID(r), req.draft(), "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Ephemeral {
		status = http.StatusOK
	}
	errorsfeature.WriteJSON(w, status, submitResponse{Operation: res.Op, Version: res.Version, Ephemeral: res.Ephemeral})
}

// Save handles POST /api/contents/{id}/save.
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	version, saved, err := h.Coord.Save(r.Context(), id, userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Audit.VersionSaved(r.Context(), r, id, userID(r), version, saved)
	errorsfeature.WriteJSON(w, http.StatusOK, map[string]any{"version": version, "saved": saved})
}
