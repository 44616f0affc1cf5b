package csr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a stage failure. The orchestrator decides what to do next from the
// kind alone.
type Kind int

// Failure kinds.
const (
	KindUnknown Kind = iota
	// KindNotFound is an expected absence: no search hit, or a document that does not exist.
	KindNotFound
	// KindTransient covers network errors, timeouts, and rate limiting.
	KindTransient
	// KindConflict is a catalog invariant violation; it is never resolved automatically.
	KindConflict
	// KindResource is a local disk or object store write failure.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind may succeed on another attempt.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindResource
}

// Failure details used in Error.Detail.
const (
	DetailNetwork    = "network"
	DetailHTTPStatus = "http-status"
	DetailWrite      = "write"
	DetailUpload     = "upload"
)

// Error is a classified stage failure.
type Error struct {
	Kind       Kind
	Op         string
	Detail     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNoRecord is wrapped when a catalog write targets a key that does not exist.
var ErrNoRecord = errors.New("catalog record does not exist")

// E builds a classified error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound wraps err as an expected absence.
func NotFound(op string, err error) *Error { return E(KindNotFound, op, err) }

// Transient wraps err as a retryable external failure.
func Transient(op string, err error) *Error { return E(KindTransient, op, err) }

// Conflict wraps err as a catalog invariant violation.
func Conflict(op string, err error) *Error { return E(KindConflict, op, err) }

// Resource wraps err as a write failure against disk or the object store.
func Resource(op string, err error) *Error { return E(KindResource, op, err) }

// KindOf extracts the failure kind from err. Context errors are reported as
// KindTransient so callers can decide on cancellation separately.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindUnknown
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// HTTPStatusError classifies a non-2xx response. Request timeouts, throttling, and
// server errors are transient; every other status means the resource is absent.
func HTTPStatusError(op string, status int) *Error {
	kind := KindNotFound
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		kind = KindTransient
	}
	return &Error{
		Kind:       kind,
		Op:         op,
		Detail:     DetailHTTPStatus,
		StatusCode: status,
		Err:        fmt.Errorf("unexpected status %d %s", status, http.StatusText(status)),
	}
}
