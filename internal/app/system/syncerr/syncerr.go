// Package syncerr defines the error kinds surfaced by the collaboration core.
//
// Every error returned to a client is classified into one of the sentinel
// kinds below. Callers wrap a kind with context using E, and check it with
// errors.Is. Code, HTTPStatus and Retryable translate a kind into what the
// wire and REST layers report.
package syncerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	NotFound         = errors.New("not found")
	Forbidden        = errors.New("forbidden")
	SequenceConflict = errors.New("sequence conflict")
	Timeout          = errors.New("timeout")
	InvalidOperation = errors.New("invalid operation")
	ConnectionLost   = errors.New("connection lost")
	InvalidSpace     = errors.New("invalid space")
	Invalid          = errors.New("invalid request")
)

// Error is a kind plus a human-readable reason.
type Error struct {
	Kind   error
	Reason string
	Err    error // optional underlying cause
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Is lets errors.Is match against the kind sentinel.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds an error of the given kind. format/args become the reason.
func E(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and reason to an underlying cause.
func Wrap(kind error, cause error, reason string) error {
	return &Error{Kind: kind, Reason: reason, Err: cause}
}

// KindOf returns the sentinel kind carried by err, or nil for errors that
// were never classified (internal failures).
func KindOf(err error) error {
	for _, k := range []error{NotFound, Forbidden, SequenceConflict, Timeout, InvalidOperation, ConnectionLost, InvalidSpace, Invalid} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Code returns the stable wire code for err.
func Code(err error) string {
	switch KindOf(err) {
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case SequenceConflict:
		return "sequence_conflict"
	case Timeout:
		return "timeout"
	case InvalidOperation:
		return "invalid_operation"
	case ConnectionLost:
		return "connection_lost"
	case InvalidSpace:
		return "invalid_space"
	case Invalid:
		return "invalid_request"
	}
	return "internal"
}

// HTTPStatus maps err to the status code used by the REST layer.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case SequenceConflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusServiceUnavailable
	case InvalidOperation, InvalidSpace, Invalid:
		return http.StatusBadRequest
	case ConnectionLost:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the client should retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, Timeout)
}

// Message returns the text shown to clients. Internal errors are not leaked.
func Message(err error) string {
	if KindOf(err) == nil {
		return "internal error"
	}
	return err.Error()
}
