package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can tell validation problems apart
// from transport problems.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindTimeout           Kind = "ETIMEOUT"
	KindCanceled          Kind = "canceled"
	KindNetwork           Kind = "network"
	KindBadRequest        Kind = "bad_request"
	KindServerError       Kind = "server_error"
	KindInvalidTransition Kind = "invalid_transition"
	KindDecode            Kind = "decode"
)

// Error is the typed error returned by every component of the portal core.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Path    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Status != 0 && e.Path != "":
		return fmt.Sprintf("%s: status=%d path=%s: %s", e.Kind, e.Status, e.Path, msg)
	case e.Path != "":
		return fmt.Sprintf("%s: path=%s: %s", e.Kind, e.Path, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports an action that is not legal for the order's state.
func InvalidTransition(format string, args ...any) *Error {
	return New(KindInvalidTransition, format, args...)
}

// FromStatus maps a non-2xx HTTP status to an error kind.
func FromStatus(status int, path, message string) *Error {
	kind := KindBadRequest
	switch {
	case status == http.StatusUnauthorized:
		kind = KindUnauthorized
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusNotFound:
		kind = KindNotFound
	case status >= 500:
		kind = KindServerError
	}
	return &Error{Kind: kind, Status: status, Path: path, Message: message}
}

// FromTransport classifies a failed round trip. timedOut reports whether the
// client's own deadline fired.
func FromTransport(path string, err error, timedOut bool) *Error {
	switch {
	case timedOut:
		return &Error{Kind: KindTimeout, Path: path, Message: "request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCanceled, Path: path, Message: "request canceled", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Path: path, Message: "request timed out", Err: err}
	default:
		return &Error{Kind: KindNetwork, Path: path, Err: err}
	}
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusOf returns the HTTP status attached to err, if any.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// Retriable reports whether re-invoking the same call may succeed.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindNetwork, KindServerError:
		return true
	default:
		return false
	}
}
