package engagement

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/ui"
)

// Follower creates a follow edge on the server.
type Follower interface {
	Follow(ctx context.Context, authorID string) error
}

// FollowingSet is the viewer's local record of followed accounts.
type FollowingSet interface {
	AddFollowing(ctx context.Context, id string) error
	IsFollowing(id string) bool
}

// FollowControl follows authors and keeps the local following set in step.
// There is no unfollow.
type FollowControl struct {
	follower  Follower
	following FollowingSet
	notifier  ui.Notifier

	mu sync.Mutex
}

// NewFollowControl wires the API, the session's following set and the notifier.
func NewFollowControl(follower Follower, following FollowingSet, notifier ui.Notifier) *FollowControl {
	if notifier == nil {
		notifier = ui.Discard{}
	}
	return &FollowControl{follower: follower, following: following, notifier: notifier}
}

// Follow posts the follow edge and, on success, records authorID locally.
func (f *FollowControl) Follow(ctx context.Context, authorID string) error {
	authorID = strings.TrimSpace(authorID)
	if authorID == "" {
		return fmt.Errorf("%w: author id is required", api.ErrValidation)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.follower.Follow(ctx, authorID); err != nil {
		f.notifier.Notify(ui.LevelError, msgFollowFailed)
		return fmt.Errorf("follow %s: %w", authorID, err)
	}

	f.notifier.Notify(ui.LevelSuccess, msgFollowed)
	if err := f.following.AddFollowing(ctx, authorID); err != nil {
		return fmt.Errorf("remember follow of %s: %w", authorID, err)
	}
	return nil
}

// IsFollowing reports whether id is in the viewer's following set.
func (f *FollowControl) IsFollowing(id string) bool {
	return f.following.IsFollowing(id)
}
