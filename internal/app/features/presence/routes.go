// internal/app/features/presence/routes.go
package presence

import (
	"github.com/dalemusser/coedit/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for presence endpoints, mounted under
// /api/contents/{id}/presence.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	// Require user to be signed in
	r.Use(auth.RequireSignedIn)

	r.Get("/", h.List)

	return r
}
