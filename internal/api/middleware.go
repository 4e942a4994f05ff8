package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/limiter"
)

// AdmissionMiddleware checks every HTTP request against the rate limiter
// under a per-client-IP identifier before the handler runs. Health probes
// and WebSocket upgrades are exempt: probes must stay cheap, and the duplex
// path runs its own connect-scoped check.
//
// A limiter in fail-open mode stamps the headers from the best-effort
// decision and lets the request through; the middleware itself can never
// become the outage.
func AdmissionMiddleware(lim limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || strings.HasPrefix(r.URL.Path, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}

			clientIP := clientAddress(r)
			decision := lim.Allow(r.Context(), "http:"+clientIP)
			if decision.Err != nil {
				log.Printf("Rate limiter degraded, admitting %s fail-open: %v", clientIP, decision.Err)
			}

			now := time.Now()
			if !decision.Allowed {
				log.Printf("Rate limit exceeded for %s", clientIP)
				retryAfter := int(decision.RetryAfter(now))

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				setRateLimitHeaders(w, decision)
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error":       "Rate limit exceeded",
					"retry_after": retryAfter,
					"limit":       decision.Limit,
					"remaining":   decision.Remaining,
				})
				return
			}

			setRateLimitHeaders(w, decision)
			next.ServeHTTP(&timedWriter{ResponseWriter: w, start: now}, r)
		})
	}
}

// SecurityHeadersMiddleware stamps the standard protective headers on every
// response.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; connect-src 'self' ws: wss:;")

		next.ServeHTTP(w, r)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, decision limiter.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(int(decision.ResetTime)))
}

// clientAddress resolves the caller identity: first X-Forwarded-For hop if
// present, otherwise the peer address without the port.
func clientAddress(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// timedWriter adds X-Process-Time at the moment the handler commits the
// response; after WriteHeader it is too late to set headers.
type timedWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (t *timedWriter) WriteHeader(code int) {
	if !t.wroteHeader {
		t.wroteHeader = true
		elapsed := float64(time.Since(t.start).Microseconds()) / 1000.0
		t.Header().Set("X-Process-Time", fmt.Sprintf("%.2f", elapsed))
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *timedWriter) Write(data []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(data)
}
