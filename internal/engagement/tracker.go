// Package engagement holds the per-video interaction logic: view counting,
// like/save/share/comment toggles, following, and the playback state that
// feeds the view tracker.
package engagement

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultViewThreshold is the fraction of a video that must be watched before
// a view is reported.
const DefaultViewThreshold = 0.8

// ViewRecorder reports one view of a video.
type ViewRecorder interface {
	RecordView(ctx context.Context, videoID string) error
}

// Submitter hands a job to a background worker without blocking.
type Submitter interface {
	TrySubmit(name string, job Job) bool
}

// ViewTracker reports at most one view per video id once playback crosses the
// threshold. Reports are fire-and-forget: a failed report is logged by the
// dispatcher and never retried.
type ViewTracker struct {
	recorder   ViewRecorder
	dispatcher Submitter
	logger     *slog.Logger
	threshold  float64

	mu      sync.Mutex
	videoID string
	counted bool
}

// NewViewTracker returns a tracker for videoID. A threshold outside (0, 1]
// falls back to DefaultViewThreshold.
func NewViewTracker(videoID string, threshold float64, recorder ViewRecorder, dispatcher Submitter, logger *slog.Logger) *ViewTracker {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultViewThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewTracker{
		recorder:   recorder,
		dispatcher: dispatcher,
		logger:     logger,
		threshold:  threshold,
		videoID:    videoID,
	}
}

// Report is fed every playback time update. It returns true when this call
// dispatched the view report.
func (t *ViewTracker) Report(position, duration time.Duration) bool {
	if duration <= 0 {
		return false
	}

	t.mu.Lock()
	if t.counted || t.videoID == "" || float64(position)/float64(duration) < t.threshold {
		t.mu.Unlock()
		return false
	}
	t.counted = true
	videoID := t.videoID
	t.mu.Unlock()

	job := func(ctx context.Context) error {
		return t.recorder.RecordView(ctx, videoID)
	}

	if t.dispatcher == nil {
		go func() {
			if err := job(context.Background()); err != nil {
				t.logger.Warn("record view failed", "videoId", videoID, "error", err)
			}
		}()
		return true
	}

	if !t.dispatcher.TrySubmit("record_view", job) {
		t.logger.Warn("view report dropped", "videoId", videoID)
	}
	return true
}

// SetVideo points the tracker at another video. Changing the id re-arms it.
func (t *ViewTracker) SetVideo(videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if videoID == t.videoID {
		return
	}
	t.videoID = videoID
	t.counted = false
}

// VideoID returns the id the tracker is currently counting.
func (t *ViewTracker) VideoID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.videoID
}

// Counted reports whether a view was dispatched for the current video.
func (t *ViewTracker) Counted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counted
}

// Threshold returns the effective watch fraction.
func (t *ViewTracker) Threshold() float64 {
	return t.threshold
}
