package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
)

// SetHeaders writes the X-RateLimit-* headers for d, plus Retry-After when
// the request was denied. Requests no rule applied to get no headers.
func (d Decision) SetHeaders(h http.Header) {
	if d.Limit == 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.RetryIn > 0 {
		h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryIn.Seconds()))))
	}
}

// Middleware limits every request on the route as one kind. Routes that
// carry several kinds, like the message endpoint, call Allow themselves.
func Middleware(l *Limiter, kind string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, ok := l.Allow(ClientIP(r), kind)
			d.SetHeaders(w.Header())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]string{"code": "RATE_LIMITED", "message": "Too many requests"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of the request's remote address, which
// chi's RealIP middleware has already resolved from proxy headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
