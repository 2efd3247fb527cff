// Package shield provides the HTTP middleware stack of the operator API:
// security headers, body limits, request ids with a per-request logger,
// per-client rate limiting and HEAD handling.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(logger) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultBodyLimit caps JSON request bodies on the operator API.
const DefaultBodyLimit = 64 * 1024

// DefaultAPIStack returns the middleware stack for the operator API, in
// order: HeadToGet, SecurityHeaders, MaxBody, RequestID. A nil logger uses
// slog.Default(). Rate limiting is opt-in through NewRateLimiter.
func DefaultAPIStack(logger *slog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(DefaultBodyLimit),
		RequestID(logger),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
