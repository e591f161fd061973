package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/vidfriends/toptop/internal/models"
)

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	AccessToken  string
	RefreshToken string
	User         *models.User
	Following    []string
}

// LoggedIn reports whether the snapshot carries an access token.
func (s Snapshot) LoggedIn() bool { return s.AccessToken != "" }

// Provider is the single process-wide owner of the session. Reads are served
// from memory; every write goes to memory first and then to the Store, so a
// failing store never leaves the in-process view stale. Last writer wins.
type Provider struct {
	store  Store
	logger *slog.Logger

	mu    sync.RWMutex
	state Snapshot

	subMu  sync.Mutex
	subs   map[int]func(Snapshot)
	nextID int
}

// NewProvider loads the persisted session from store.
func NewProvider(ctx context.Context, store Store, logger *slog.Logger) (*Provider, error) {
	if store == nil {
		return nil, errors.New("session provider: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{store: store, logger: logger, subs: make(map[int]func(Snapshot))}

	var err error
	if p.state.AccessToken, err = p.loadString(ctx, KeyAccessToken); err != nil {
		return nil, err
	}
	if p.state.RefreshToken, err = p.loadString(ctx, KeyRefreshToken); err != nil {
		return nil, err
	}

	raw, err := p.loadString(ctx, KeyUser)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		var user models.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			logger.Warn("discarding unreadable stored user", "error", err)
		} else {
			p.state.User = &user
		}
	}

	raw, err = p.loadString(ctx, KeyFollowing)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			logger.Warn("discarding unreadable following list", "error", err)
		} else {
			p.state.Following = ids
		}
	}

	return p, nil
}

func (p *Provider) loadString(ctx context.Context, key string) (string, error) {
	value, err := p.store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", key, err)
	}
	return value, nil
}

// Current returns a copy of the session.
func (p *Provider) Current() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.copyLocked()
}

func (p *Provider) copyLocked() Snapshot {
	snap := Snapshot{
		AccessToken:  p.state.AccessToken,
		RefreshToken: p.state.RefreshToken,
		Following:    slices.Clone(p.state.Following),
	}
	if p.state.User != nil {
		user := *p.state.User
		snap.User = &user
	}
	return snap
}

// AccessToken returns the stored access token or "".
func (p *Provider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.AccessToken
}

// RefreshToken returns the stored refresh token or "".
func (p *Provider) RefreshToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.RefreshToken
}

// LoggedIn reports whether an access token is held.
func (p *Provider) LoggedIn() bool {
	return p.AccessToken() != ""
}

// User returns the cached user, if any.
func (p *Provider) User() (models.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state.User == nil {
		return models.User{}, false
	}
	return *p.state.User, true
}

// Begin replaces the session after a successful login or OAuth callback. The
// following list belongs to the previous session and is dropped.
func (p *Provider) Begin(ctx context.Context, tokens models.Tokens, user *models.User) error {
	p.mu.Lock()
	p.state = Snapshot{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}
	if user != nil {
		u := *user
		p.state.User = &u
	}
	p.mu.Unlock()

	errs := []error{
		p.persist(ctx, KeyAccessToken, tokens.AccessToken),
		p.persist(ctx, KeyRefreshToken, tokens.RefreshToken),
		p.persistJSON(ctx, KeyUser, user),
		p.store.Delete(ctx, KeyFollowing),
	}
	p.publish()
	return joinWrite(errs...)
}

// SetAccessToken stores a refreshed access token.
func (p *Provider) SetAccessToken(ctx context.Context, token string) error {
	p.mu.Lock()
	p.state.AccessToken = token
	p.mu.Unlock()

	err := p.persist(ctx, KeyAccessToken, token)
	p.publish()
	return joinWrite(err)
}

// SetUser replaces the cached user.
func (p *Provider) SetUser(ctx context.Context, user models.User) error {
	p.mu.Lock()
	p.state.User = &user
	p.mu.Unlock()

	err := p.persistJSON(ctx, KeyUser, &user)
	p.publish()
	return joinWrite(err)
}

// SetFollowing replaces the set of followed account ids.
func (p *Provider) SetFollowing(ctx context.Context, ids []string) error {
	ids = dedupe(ids)
	p.mu.Lock()
	p.state.Following = ids
	p.mu.Unlock()

	err := p.persistJSON(ctx, KeyFollowing, ids)
	p.publish()
	return joinWrite(err)
}

// AddFollowing appends id to the following set if it is not already present.
func (p *Provider) AddFollowing(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	p.mu.Lock()
	if slices.Contains(p.state.Following, id) {
		p.mu.Unlock()
		return nil
	}
	p.state.Following = append(slices.Clone(p.state.Following), id)
	ids := slices.Clone(p.state.Following)
	p.mu.Unlock()

	err := p.persistJSON(ctx, KeyFollowing, ids)
	p.publish()
	return joinWrite(err)
}

// IsFollowing reports whether id is in the following set.
func (p *Provider) IsFollowing(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Contains(p.state.Following, id)
}

// Clear wipes every session key.
func (p *Provider) Clear(ctx context.Context) error {
	p.mu.Lock()
	p.state = Snapshot{}
	p.mu.Unlock()

	errs := make([]error, 0, len(allKeys))
	for _, key := range allKeys {
		if err := p.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	p.publish()
	return joinWrite(errs...)
}

// Subscribe registers fn to be called with a snapshot after every change. The
// returned function removes the subscription.
func (p *Provider) Subscribe(fn func(Snapshot)) (cancel func()) {
	p.subMu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.subMu.Unlock()

	return func() {
		p.subMu.Lock()
		delete(p.subs, id)
		p.subMu.Unlock()
	}
}

func (p *Provider) publish() {
	snap := p.Current()

	p.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (p *Provider) persist(ctx context.Context, key, value string) error {
	if value == "" {
		return p.store.Delete(ctx, key)
	}
	return p.store.Set(ctx, key, value)
}

func (p *Provider) persistJSON(ctx context.Context, key string, value any) error {
	switch v := value.(type) {
	case *models.User:
		if v == nil {
			return p.store.Delete(ctx, key)
		}
	case []string:
		if len(v) == 0 {
			return p.store.Delete(ctx, key)
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return p.store.Set(ctx, key, string(data))
}

func joinWrite(errs ...error) error {
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
