// internal/app/features/contents/routes.go
package contents

import (
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns a subrouter mounted under /api/contents. Every route needs a
// signed-in caller.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.RequireSignedIn)

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}/title", h.SetTitle)
	r.Post("/{id}/archive", h.Archive)
	r.Get("/{id}/versions", h.Versions)
	r.Get("/{id}/operations", h.History)
	r.Post("/{id}/operations", h.Submit)
	r.Post("/{id}/save", h.Save)
	return r
}
