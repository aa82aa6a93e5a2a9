// internal/app/features/auditlog/routes.go
package auditlog

import (
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes mounts the audit trail of one content item (typically at
// "/api/contents/{id}/audit" from bootstrap).
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)
	r.Get("/", h.ServeList)
	return r
}
