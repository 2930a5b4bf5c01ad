package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/irsalhamdi/coursestream/api/web"
	"github.com/irsalhamdi/coursestream/api/weberr"
	"github.com/irsalhamdi/coursestream/metrics"
	"github.com/irsalhamdi/coursestream/rate"
)

var errRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects clients that exhaust their bucket with a 429.
func RateLimit(l *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			ip := clientIP(r)
			if !l.Check(ip) {
				metrics.RateLimited.Inc()
				w.Header().Set("Retry-After", "1")
				return weberr.TooManyRequests(errRateLimited, weberr.WithFields(map[string]interface{}{
					"client": ip,
				}))
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// clientIP prefers the first X-Forwarded-For hop over the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
