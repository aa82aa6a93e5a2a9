// internal/app/features/collab/routes.go
package collab

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter mounted under /collab.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/{contentID}/ws", h.Serve)
	return r
}
