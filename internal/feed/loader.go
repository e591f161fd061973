// Package feed loads the short-video feed and tracks which item is active.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/models"
	"github.com/vidfriends/toptop/internal/ui"
)

// MsgLoadFailed is shown when the feed cannot be fetched.
const MsgLoadFailed = "Failed to load videos. Please try again later."

var (
	// ErrVideoNotFound is returned by Find when the id is not in the first page.
	ErrVideoNotFound = errors.New("video not found in feed")
	// ErrNoFollowingSource is returned by SyncFollowing on a loader built without one.
	ErrNoFollowingSource = errors.New("feed loader has no following source")
)

// Lister fetches one page of a feed variant.
type Lister interface {
	List(ctx context.Context, variant models.FeedVariant, opts api.ListOptions) (models.VideoPage, error)
}

// FollowingSource lists the ids a user follows.
type FollowingSource interface {
	Following(ctx context.Context, userID string) ([]string, error)
}

// FollowingStore keeps the viewer's following ids.
type FollowingStore interface {
	SetFollowing(ctx context.Context, ids []string) error
}

type cacheKey struct {
	variant models.FeedVariant
	page    int
}

type cacheEntry struct {
	page    models.VideoPage
	expires time.Time
}

// Loader wraps a Lister with a TTL-based in-memory cache.
type Loader struct {
	lister    Lister
	following FollowingSource
	store     FollowingStore
	notifier  ui.Notifier
	logger    *slog.Logger
	ttl       time.Duration
	now       func() time.Time

	mu    sync.RWMutex
	items map[cacheKey]cacheEntry
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFollowing enables SyncFollowing.
func WithFollowing(source FollowingSource, store FollowingStore) LoaderOption {
	return func(l *Loader) {
		l.following = source
		l.store = store
	}
}

// WithNotifier sets where load failures are announced.
func WithNotifier(n ui.Notifier) LoaderOption {
	return func(l *Loader) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) LoaderOption {
	return func(l *Loader) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLoader caches pages from lister for ttl.
func NewLoader(lister Lister, ttl time.Duration, opts ...LoaderOption) *Loader {
	if ttl <= 0 {
		ttl = time.Minute
	}
	l := &Loader{
		lister:   lister,
		notifier: ui.Discard{},
		logger:   slog.Default(),
		ttl:      ttl,
		now:      time.Now,
		items:    make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns page of the variant's feed, from cache when fresh. Page 0 and
// page 1 both mean the first page.
func (l *Loader) Load(ctx context.Context, variant models.FeedVariant, page int) (models.VideoPage, error) {
	if page < 1 {
		page = 1
	}
	key := cacheKey{variant: variant, page: page}
	now := l.now()

	l.mu.RLock()
	entry, ok := l.items[key]
	l.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.page, nil
	}

	opts := api.ListOptions{}
	if page > 1 {
		opts.Page = page
	}
	result, err := l.lister.List(ctx, variant, opts)
	if err != nil {
		l.notifier.Notify(ui.LevelError, MsgLoadFailed)
		return models.VideoPage{}, fmt.Errorf("load %s feed: %w", variant, err)
	}

	l.mu.Lock()
	l.items[key] = cacheEntry{page: result, expires: now.Add(l.ttl)}
	l.mu.Unlock()

	return result, nil
}

// Invalidate drops every cached page.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.items = make(map[cacheKey]cacheEntry)
	l.mu.Unlock()
}

// Find looks id up in the first page of the variant's feed.
func (l *Loader) Find(ctx context.Context, variant models.FeedVariant, id string) (models.Video, error) {
	page, err := l.Load(ctx, variant, 1)
	if err != nil {
		return models.Video{}, err
	}
	for _, v := range page.Videos {
		if v.ID == id {
			return v, nil
		}
	}
	return models.Video{}, fmt.Errorf("%w: %s", ErrVideoNotFound, id)
}

// SyncFollowing refreshes the viewer's following ids from the server. A
// failure is logged and returned; the feed itself stays usable.
func (l *Loader) SyncFollowing(ctx context.Context, userID string) ([]string, error) {
	if l.following == nil || l.store == nil {
		return nil, ErrNoFollowingSource
	}
	if strings.TrimSpace(userID) == "" {
		return nil, api.ErrNotLoggedIn
	}

	ids, err := l.following.Following(ctx, userID)
	if err != nil {
		l.logger.Warn("fetch following failed", "userId", userID, "error", err)
		return nil, fmt.Errorf("fetch following: %w", err)
	}
	if err := l.store.SetFollowing(ctx, ids); err != nil {
		l.logger.Warn("store following failed", "userId", userID, "error", err)
		return ids, fmt.Errorf("store following: %w", err)
	}
	return ids, nil
}
