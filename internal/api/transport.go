package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vidfriends/toptop/internal/logging"
)

// loggingTransport logs every round trip through the context logger.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	logger := logging.FromContext(req.Context()).With(
		slog.String("request_id", req.Header.Get(headerRequestID)),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
	)

	resp, err := base.RoundTrip(req)
	if err != nil {
		logger.Warn("api request failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logger.Log(req.Context(), level, "api request completed",
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}
