// Package errors declares the sentinel errors shared by the builder, the
// search engine and the HTTP service, and maps them to HTTP statuses.
// Callers wrap a sentinel with fmt.Errorf("%w: ...") and test for it with
// errors.Is.
package errors

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrEncoding        = errors.New("structure cannot be encoded")
	ErrQueryEncoding   = errors.New("query cannot be encoded")
	ErrBuildIO         = errors.New("database build failed")
	ErrDatabaseCorrupt = errors.New("database is corrupt or stale, rebuild the database")
	ErrDatabaseMissing = errors.New("database not found")
	ErrCancelled       = errors.New("search cancelled, results are partial")
	ErrBuildLocked     = errors.New("another build holds the database lock")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInternal        = errors.New("internal error")
)

// HTTPStatusCode picks the response status for err. Unknown errors are 500.
func HTTPStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrQueryEncoding), errors.Is(err, ErrEncoding), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDatabaseMissing):
		return http.StatusNotFound
	case errors.Is(err, ErrBuildLocked):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrDatabaseCorrupt):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrCancelled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text a client may see for err. Server-side failures
// are reduced to their status text so paths and driver errors stay in the
// logs.
func PublicMessage(err error) string {
	if status := HTTPStatusCode(err); status >= http.StatusInternalServerError {
		return http.StatusText(status)
	}
	return err.Error()
}
