package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span times one CLI operation and logs its outcome when it ends.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
	now    func() time.Time
}

// StartSpan derives a child span from ctx. The returned context carries a logger
// enriched with trace_id, span_id and span_name so API calls made under it are
// correlated in the log stream.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)

	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = withTraceID(ctx, traceID)
		logger = logger.With(slog.String("trace_id", traceID))
	}

	parentSpanID := SpanIDFromContext(ctx)
	spanID := uuid.NewString()

	logger = logger.With(
		slog.String("span_id", spanID),
		slog.String("span_name", name),
	)
	if parentSpanID != "" {
		logger = logger.With(slog.String("parent_span_id", parentSpanID))
	}

	ctx = WithLogger(ctx, logger)
	ctx = withSpanID(ctx, spanID)

	return ctx, &Span{name: name, logger: logger, start: time.Now(), now: time.Now}
}

// End logs the span duration. A non-nil err is attached and raises the level.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	elapsed := s.now().Sub(s.start)
	if err != nil {
		s.logger.Warn("span failed", slog.Duration("duration", elapsed), slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("span completed", slog.Duration("duration", elapsed))
}
