// CLAUDE:SUMMARY Reusable HTTP middleware for the results API: security headers, trace IDs, per-client rate limiting, HEAD handling.
// Package shield provides the HTTP middleware stack for the results API.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(logger) {
//		r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey holds the per-request logger in the request context.
const LoggerKey contextKey = "shield.logger"

// Middleware is the usual net/http middleware shape.
type Middleware = func(http.Handler) http.Handler

// DefaultStack returns the standard middleware chain for a read-only
// API: security headers, trace IDs with request logging, per-client
// rate limiting, and HEAD-to-GET conversion.
func DefaultStack(logger *slog.Logger) []Middleware {
	return []Middleware{
		SecurityHeaders(DefaultHeaders()),
		TraceID(logger),
		NewRateLimiter(DefaultRateLimit()).Middleware,
		HeadToGet,
	}
}

// GetLogger retrieves the per-request logger from the context. Returns
// slog.Default() if no middleware set one.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// HeadToGet converts HEAD requests to GET so that route handlers
// registered with r.Get() respond with 200 instead of 405. net/http
// strips the body for HEAD responses automatically.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
