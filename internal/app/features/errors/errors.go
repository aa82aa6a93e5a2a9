// internal/app/features/errors/errors.go
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"go.uber.org/zap"
)

type detail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type body struct {
	Error detail `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Render writes err as the standard JSON error body. The status, code and
// retry hint come from the error's syncerr kind; unclassified errors become
// a 500 with a generic message and are logged.
func Render(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status := syncerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	retry := syncerr.Retryable(err)
	if retry {
		w.Header().Set("Retry-After", "1")
	}
	WriteJSON(w, status, body{Error: detail{
		Code:      syncerr.Code(err),
		Message:   syncerr.Message(err),
		Retryable: retry,
	}})
}

// RenderUnauthorized answers a request that carries no valid bearer token.
func RenderUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="coedit"`)
	WriteJSON(w, http.StatusUnauthorized, body{Error: detail{
		Code:    "unauthorized",
		Message: "sign in required",
	}})
}

// Handler serves the router's fallback responses.
type Handler struct{}

// NewHandler constructs an errors Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// NotFound is the router's NotFound handler.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, body{Error: detail{
		Code:    "not_found",
		Message: "no route for " + r.URL.Path,
	}})
}

// MethodNotAllowed is the router's MethodNotAllowed handler.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusMethodNotAllowed, body{Error: detail{
		Code:    "method_not_allowed",
		Message: r.Method + " not allowed on " + r.URL.Path,
	}})
}
