// Package middleware wraps the local callback endpoint with logging and
// access checks.
package middleware

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/vidfriends/toptop/internal/logging"
)

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Status() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

// RequestLogger runs each request in a logging span. Only the path is
// logged: callback queries carry access tokens.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logging.WithLogger(r.Context(), base.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			))
			ctx, span := logging.StartSpan(ctx, "http "+r.URL.Path)
			logger := logging.FromContext(ctx)

			wrapped := &responseWriter{ResponseWriter: w}

			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", "panic", rec)
					http.Error(wrapped, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
				logger.Info("request completed", slog.Int("status", wrapped.Status()))
				span.End(nil)
			}()

			next.ServeHTTP(wrapped, r.WithContext(ctx))
		})
	}
}

// LoopbackOnly rejects requests that do not come from this machine.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
