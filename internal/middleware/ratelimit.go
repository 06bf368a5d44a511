package middleware

import (
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"morphflux/internal/api/v1/response"
	"morphflux/internal/ratelimit"
)

// RateLimit throttles each client address with its own token bucket.
// Run it after chi's RealIP so RemoteAddr holds the client address.
func RateLimit(limiter *ratelimit.IPLimiter, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !limiter.Allow(ip) {
				logger.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("Rate limit exceeded")
				response.FailCode(w, http.StatusTooManyRequests, "Too many requests, please try again later", "RATE_LIMITED", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP strips the port from RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
