// internal/app/features/auditlog/list.go
package auditlog

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	errorsfeature "github.com/dalemusser/coedit/internal/app/features/errors"
	"github.com/dalemusser/coedit/internal/app/policy/contentpolicy"
	"github.com/dalemusser/coedit/internal/app/store/audit"
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/dalemusser/coedit/internal/app/system/formutil"
	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/dalemusser/coedit/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/pantry/query"
)

const pageSize = 50

type listResponse struct {
	Events     []audit.Event `json:"events"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	TotalPages int           `json:"total_pages"`
}

// ServeList handles GET /api/contents/{id}/audit. Owners only.
//
// Query parameters: category, event_type, actor_id, start_date and end_date
// (YYYY-MM-DD, end inclusive), page.
func (h *Handler) ServeList(w http.ResponseWriter, r *http.Request) {
	id, err := formutil.ObjectIDParam(r, "id", "content")
	if err == nil {
		err = h.Coord.Exists(r.Context(), id)
	}
	if err == nil {
		var uid string
		if u, ok := auth.CurrentUser(r); ok {
			uid = u.ID
		}
		err = h.Gate.Require(r.Context(), id, uid, contentpolicy.ActionManageAccess)
	}
	if err != nil {
		errorsfeature.Render(w, r, h.Log, err)
		return
	}

	filter := audit.QueryFilter{
		ContentID: id,
		Category:  strings.TrimSpace(query.Get(r, "category")),
		EventType: strings.TrimSpace(query.Get(r, "event_type")),
		ActorID:   strings.TrimSpace(query.Get(r, "actor_id")),
		Limit:     pageSize,
	}
	page := 1
	if p, err := strconv.Atoi(query.Get(r, "page")); err == nil && p > 0 {
		page = p
	}
	filter.Offset = int64((page - 1) * pageSize)

	if s := query.Get(r, "start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			errorsfeature.Render(w, r, h.Log, syncerr.E(syncerr.Invalid, "start_date must be YYYY-MM-DD"))
			return
		}
		filter.StartTime = &t
	}
	if s := query.Get(r, "end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			errorsfeature.Render(w, r, h.Log, syncerr.E(syncerr.Invalid, "end_date must be YYYY-MM-DD"))
			return
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndTime = &end
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "audit log list")
	defer cancel()

	events, err := h.Store.Query(ctx, filter)
	if err != nil {
		errorsfeature.Render(w, r, h.Log, err)
		return
	}
	total, err := h.Store.CountByFilter(ctx, filter)
	if err != nil {
		errorsfeature.Render(w, r, h.Log, err)
		return
	}

	pages := int((total + pageSize - 1) / pageSize)
	if pages < 1 {
		pages = 1
	}
	errorsfeature.WriteJSON(w, http.StatusOK, listResponse{
		Events:     events,
		Total:      total,
		Page:       page,
		TotalPages: pages,
	})
}
