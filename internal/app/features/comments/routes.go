// internal/app/features/comments/routes.go
package comments

import (
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted under /api/contents/{id}/comments.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/{commentID}/resolve", h.Resolve)
	return r
}
