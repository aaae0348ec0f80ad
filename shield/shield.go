// Package shield provides the HTTP middleware stack of the read-only
// status API: security headers, HEAD handling, per-client rate limiting
// and request logging.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(logger, 10, 20) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

// APIStack returns the standard middleware stack for a JSON API.
// Middleware is ordered: HeadToGet → SecurityHeaders → RateLimiter → RequestLog.
// A non-positive rps disables rate limiting.
func APIStack(logger *slog.Logger, rps float64, burst int) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
	}
	if rps > 0 {
		stack = append(stack, NewRateLimiter(rps, burst, "/healthz").Middleware)
	}
	return append(stack, RequestLog(logger))
}
