// Package middleware provides HTTP middleware for the import API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// importFields collects what a handler learned about the import it served,
// such as the new upload id or the number of rows imported.
type importFields struct {
	mu   sync.Mutex
	args []any
}

type importFieldsKey struct{}

// Annotate adds key/value pairs to the access log line of the current
// request. It is a no-op outside AccessLog.
func Annotate(ctx context.Context, args ...any) {
	f, ok := ctx.Value(importFieldsKey{}).(*importFields)
	if !ok {
		return
	}
	f.mu.Lock()
	f.args = append(f.args, args...)
	f.mu.Unlock()
}

// AccessLog writes one line per request. Besides method, route, status and
// duration it carries the upload id from the URL, the caller, the client
// address resolved by TrustedProxies, and any fields handlers added with
// Annotate. Server errors log at warn level. A nil logger uses
// slog.Default().
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := &importFields{}
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), importFieldsKey{}, fields)))

			base := logger
			if base == nil {
				base = slog.Default()
			}
			args := []any{
				"method", r.Method,
				"route", routePattern(r),
				"status", ww.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"ip", clientIP(r),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, "request_id", reqID)
			}
			if user := r.Header.Get(HeaderUserID); user != "" {
				args = append(args, "user_id", user)
			}
			if uploadID := urlParam(r, "uploadID"); uploadID != "" {
				args = append(args, "upload_id", uploadID)
			}
			fields.mu.Lock()
			args = append(args, fields.args...)
			fields.mu.Unlock()

			level := slog.LevelInfo
			if ww.status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			base.Log(r.Context(), level, "import api request", args...)
		})
	}
}

// routePattern prefers the matched chi pattern so rollback tokens and
// upload ids stay out of the route field.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func urlParam(r *http.Request, key string) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam(key)
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap provides access to the underlying ResponseWriter.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
