package engagement

import (
	"sync"
	"time"
)

// PlayerState is a snapshot of a Player.
type PlayerState struct {
	VideoID  string        `json:"videoId"`
	Position time.Duration `json:"position"`
	Duration time.Duration `json:"duration"`
	Playing  bool          `json:"playing"`
	Volume   float64       `json:"volume"`
	Muted    bool          `json:"muted"`
	Viewed   bool          `json:"viewed"`
}

// Player is the view state of one feed item. It has no media of its own: the
// caller feeds it metadata and time updates and it forwards progress to the
// view tracker.
type Player struct {
	tracker  *ViewTracker
	autoplay bool

	mu       sync.Mutex
	position time.Duration
	duration time.Duration
	playing  bool
	volume   float64
	muted    bool
}

// NewPlayer returns a paused player at full volume. With autoplay set, the
// player starts when it becomes visible and pauses when it leaves the screen.
func NewPlayer(tracker *ViewTracker, autoplay bool) *Player {
	return &Player{tracker: tracker, autoplay: autoplay, volume: 1}
}

// SetVideo switches to another video, rewinding and re-arming the tracker.
func (p *Player) SetVideo(videoID string) {
	p.mu.Lock()
	p.position = 0
	p.duration = 0
	p.mu.Unlock()
	p.tracker.SetVideo(videoID)
}

// LoadMetadata records the media duration once it is known.
func (p *Player) LoadMetadata(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	p.mu.Lock()
	p.duration = duration
	p.mu.Unlock()
}

// TimeUpdate is called as playback progresses. It returns true when this
// update triggered the view report.
func (p *Player) TimeUpdate(position time.Duration) bool {
	p.mu.Lock()
	p.position = position
	duration := p.duration
	p.mu.Unlock()
	return p.tracker.Report(position, duration)
}

// Seek jumps to position, clamped to the media bounds, and reports the new
// position like any other time update.
func (p *Player) Seek(position time.Duration) time.Duration {
	p.mu.Lock()
	if position < 0 {
		position = 0
	}
	if p.duration > 0 && position > p.duration {
		position = p.duration
	}
	p.position = position
	duration := p.duration
	p.mu.Unlock()

	p.tracker.Report(position, duration)
	return position
}

// Play starts playback.
func (p *Player) Play() {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
}

// Pause stops playback.
func (p *Player) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

// TogglePlay flips between playing and paused and returns the new state.
func (p *Player) TogglePlay() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = !p.playing
	return p.playing
}

// SetVisible applies autoplay-on-visibility.
func (p *Player) SetVisible(visible bool) {
	if !p.autoplay {
		return
	}
	p.mu.Lock()
	p.playing = visible
	p.mu.Unlock()
}

// SetVolume sets the volume in [0, 1]. Zero mutes.
func (p *Player) SetVolume(volume float64) {
	switch {
	case volume < 0:
		volume = 0
	case volume > 1:
		volume = 1
	}
	p.mu.Lock()
	p.volume = volume
	p.muted = volume == 0
	p.mu.Unlock()
}

// ToggleMute mutes, or restores the last volume.
func (p *Player) ToggleMute() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.muted && p.volume == 0 {
		p.volume = 1
	}
	p.muted = !p.muted
	return p.muted
}

// State returns a snapshot.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	volume := p.volume
	if p.muted {
		volume = 0
	}
	return PlayerState{
		VideoID:  p.tracker.VideoID(),
		Position: p.position,
		Duration: p.duration,
		Playing:  p.playing,
		Volume:   volume,
		Muted:    p.muted,
		Viewed:   p.tracker.Counted(),
	}
}
