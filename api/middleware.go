package api

import (
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20 // 1MB

// RateLimit configures the global request rate limiter.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// rateLimitMiddleware applies a process-wide token bucket. Requests over
// the limit get 429 without touching storage.
func rateLimitMiddleware(cfg RateLimit, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warnw("Request rate limited",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireTenant extracts the mandatory tenant_id query parameter, writing
// a 400 when absent.
func requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id parameter is required", http.StatusBadRequest)
		return "", false
	}
	return tenantID, true
}

// parseSince parses the optional RFC3339 since parameter.
func parseSince(r *http.Request, def time.Time) (time.Time, error) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// writeError logs the full error and sends only the message to the
// client.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	http.Error(w, message, statusCode)
}
