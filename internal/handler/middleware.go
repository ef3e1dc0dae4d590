package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/thogmi/comms-backend/internal/cache"
	"github.com/thogmi/comms-backend/internal/models"
	"github.com/thogmi/comms-backend/internal/ratelimit"
)

// callerID identifies the requester for rate limiting and cache keying.
// Authentication is owned by the surrounding platform; it forwards the
// authenticated user in X-User-ID. Anonymous callers fall back to their
// network address.
func callerID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return "user:" + id
	}
	return "addr:" + r.RemoteAddr
}

// LoggingMiddleware logs each request with method, path, status and duration
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 response
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						slog.Any("panic", rec),
						slog.String("path", r.URL.Path),
					)
					respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware adds CORS headers for browser clients
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware rejects requests exceeding the rule's sliding window
func RateLimitMiddleware(limiter *ratelimit.Limiter, rule ratelimit.Rule, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), rule, callerID(r))
			if err != nil {
				handleError(w, err, logger)
				return
			}
			if !allowed {
				handleError(w, models.ErrRateLimitedWithMsg("rate limit exceeded for "+rule.Name), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// cachingResponseWriter buffers the response so a successful body can be
// stored after the handler runs.
type cachingResponseWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *cachingResponseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *cachingResponseWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

// CacheMiddleware serves GET responses from the response cache and
// flushes it after successful mutations under the same route. Cache
// keys include the caller so per-user views never leak across users.
func CacheMiddleware(store *cache.ResponseCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				cw := &cachingResponseWriter{ResponseWriter: w, status: http.StatusOK}
				next.ServeHTTP(cw, r)
				if cw.status >= 200 && cw.status < 300 {
					store.Flush(r.Context())
				}
				return
			}

			key := cache.Key(callerID(r), r.URL.Path, r.URL.Query())
			if body, found := store.Get(r.Context(), key); found {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(body)
				return
			}

			w.Header().Set("X-Cache", "MISS")
			cw := &cachingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(cw, r)

			if cw.status == http.StatusOK {
				store.Set(r.Context(), key, cw.buf.Bytes(), cache.TTLFor(r.URL.Path))
			}
		})
	}
}
