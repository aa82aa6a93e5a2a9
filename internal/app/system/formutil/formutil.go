// Package formutil provides helpers for reading API request input: JSON
// bodies and ObjectID path parameters.
//
// Every helper returns a syncerr-classified error so handlers can pass it
// straight to the error renderer.
//
// Example usage:
//
//	var req createRequest
//	if err := formutil.DecodeJSON(w, r, &req, limits.MaxJSONBody); err != nil {
//		errorsfeature.Render(w, r, h.Log, err)
//		return
//	}
package formutil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dalemusser/coedit/internal/app/system/syncerr"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DecodeJSON decodes the request body into v. Bodies larger than max bytes,
// unknown fields and trailing data are rejected as Invalid.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any, max int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, max)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return syncerr.E(syncerr.Invalid, "request body larger than %d bytes", max)
		case errors.Is(err, io.EOF):
			return syncerr.E(syncerr.Invalid, "request body is empty")
		}
		return syncerr.E(syncerr.Invalid, "malformed JSON: %v", err)
	}
	if dec.More() {
		return syncerr.E(syncerr.Invalid, "request body has trailing data")
	}
	return nil
}

// ObjectIDParam parses the chi URL parameter name. A malformed id cannot
// name anything, so it is reported as NotFound.
func ObjectIDParam(r *http.Request, name, what string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		return primitive.NilObjectID, syncerr.E(syncerr.NotFound, "%s not found", what)
	}
	return id, nil
}
