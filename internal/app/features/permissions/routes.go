// internal/app/features/permissions/routes.go
package permissions

import (
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted under /api/contents/{id}/permissions.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)

	r.Get("/", h.List)
	r.Put("/{userID}", h.Grant)
	r.Delete("/{userID}", h.Revoke)
	return r
}
