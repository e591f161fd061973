package engagement

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/models"
	"github.com/vidfriends/toptop/internal/ui"
)

// Notices shown by the controls.
const (
	msgLoginToLike      = "Please login to like videos"
	msgLoginToSave      = "Please login to save videos"
	msgLoginToComment   = "Please login to comment"
	msgShareFailed      = "Error sharing video"
	msgShared           = "Video shared successfully!"
	msgCommentAdded     = "Comment added successfully!"
	msgFollowed         = "Followed successfully!"
	msgFollowFailed     = "Error following user"
	msgAlreadyFallback  = "You already did that"
	msgEmptyCommentHint = "comment must not be empty"
)

// Engager is the subset of the videos API the controls call.
type Engager interface {
	Like(ctx context.Context, id string) error
	Unlike(ctx context.Context, id string) error
	Save(ctx context.Context, id string) error
	Unsave(ctx context.Context, id string) error
	Share(ctx context.Context, id string) error
	Comment(ctx context.Context, id, content string) error
}

// State is the viewer-facing engagement state of one video.
type State struct {
	VideoID  string `json:"videoId"`
	Liked    bool   `json:"liked"`
	Saved    bool   `json:"saved"`
	Likes    int    `json:"likes"`
	Saves    int    `json:"saves"`
	Shares   int    `json:"shares"`
	Comments int    `json:"comments"`
}

// Controls drives like, save, share and comment for one video. Local state
// changes only after the server accepted the call, and calls on one Controls
// are serialized.
type Controls struct {
	engager  Engager
	notifier ui.Notifier

	op sync.Mutex

	mu    sync.RWMutex
	state State
}

// NewControls derives the liked and saved flags from the video's membership
// lists for viewerID.
func NewControls(video models.Video, viewerID string, engager Engager, notifier ui.Notifier) *Controls {
	if notifier == nil {
		notifier = ui.Discard{}
	}
	return &Controls{
		engager:  engager,
		notifier: notifier,
		state: State{
			VideoID:  video.ID,
			Liked:    video.LikedByUser(viewerID),
			Saved:    video.SavedByUser(viewerID),
			Likes:    video.Likes,
			Saves:    video.Saved,
			Shares:   video.Shared,
			Comments: video.CommentCount,
		},
	}
}

// State returns a copy of the current state.
func (c *Controls) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ToggleLike likes or unlikes the video depending on the current flag.
func (c *Controls) ToggleLike(ctx context.Context) error {
	return c.toggle(ctx, toggleOp{
		add:        c.engager.Like,
		remove:     c.engager.Unlike,
		engaged:    func(s *State) *bool { return &s.Liked },
		counter:    func(s *State) *int { return &s.Likes },
		loginHint:  msgLoginToLike,
		actionName: "like",
	})
}

// ToggleSave saves or unsaves the video depending on the current flag.
func (c *Controls) ToggleSave(ctx context.Context) error {
	return c.toggle(ctx, toggleOp{
		add:        c.engager.Save,
		remove:     c.engager.Unsave,
		engaged:    func(s *State) *bool { return &s.Saved },
		counter:    func(s *State) *int { return &s.Saves },
		loginHint:  msgLoginToSave,
		actionName: "save",
	})
}

type toggleOp struct {
	add, remove func(ctx context.Context, id string) error
	engaged     func(*State) *bool
	counter     func(*State) *int
	loginHint   string
	actionName  string
}

func (c *Controls) toggle(ctx context.Context, t toggleOp) error {
	c.op.Lock()
	defer c.op.Unlock()

	current := c.State()
	wasEngaged := *t.engaged(&current)

	call := t.add
	if wasEngaged {
		call = t.remove
	}

	if err := call(ctx, current.VideoID); err != nil {
		// 403 means the server already holds the engaged state.
		if apiErr, ok := api.AsError(err); ok && apiErr.IsForbidden() {
			c.mu.Lock()
			*t.engaged(&c.state) = true
			c.mu.Unlock()
			c.notifier.Notify(ui.LevelError, api.MessageOf(err, msgAlreadyFallback))
			return nil
		}
		c.notifier.Notify(ui.LevelError, t.loginHint)
		return fmt.Errorf("%s video %s: %w", t.actionName, current.VideoID, err)
	}

	c.mu.Lock()
	counter := t.counter(&c.state)
	if wasEngaged {
		if *counter > 0 {
			*counter--
		}
	} else {
		*counter++
	}
	*t.engaged(&c.state) = !wasEngaged
	c.mu.Unlock()
	return nil
}

// Share records a share. Shares only ever count up.
func (c *Controls) Share(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	id := c.State().VideoID
	if err := c.engager.Share(ctx, id); err != nil {
		if apiErr, ok := api.AsError(err); ok && apiErr.IsForbidden() {
			c.notifier.Notify(ui.LevelError, api.MessageOf(err, msgShareFailed))
			return nil
		}
		c.notifier.Notify(ui.LevelError, msgShareFailed)
		return fmt.Errorf("share video %s: %w", id, err)
	}

	c.mu.Lock()
	c.state.Shares++
	c.mu.Unlock()
	c.notifier.Notify(ui.LevelSuccess, msgShared)
	return nil
}

// Comment posts content. Blank content is rejected before any call.
func (c *Controls) Comment(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: %s", api.ErrValidation, msgEmptyCommentHint)
	}

	c.op.Lock()
	defer c.op.Unlock()

	id := c.State().VideoID
	if err := c.engager.Comment(ctx, id, content); err != nil {
		c.notifier.Notify(ui.LevelError, msgLoginToComment)
		return fmt.Errorf("comment on video %s: %w", id, err)
	}

	c.mu.Lock()
	c.state.Comments++
	c.mu.Unlock()
	c.notifier.Notify(ui.LevelSuccess, msgCommentAdded)
	return nil
}
