package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vidfriends/toptop/internal/models"
	"github.com/vidfriends/toptop/internal/ui"
)

const (
	// DefaultBaseURL is the production TopTop API.
	DefaultBaseURL = "https://toptop-be.onrender.com/api/v1"
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "toptop-cli/1.0"

	// SessionExpiredMessage is shown when the session cannot be refreshed.
	SessionExpiredMessage = "Session expired. Please log in again."
)

// RefreshMode selects how concurrent 401 responses are reconciled.
type RefreshMode int

const (
	// RefreshSingleFlight shares one refresh call among concurrent 401s.
	RefreshSingleFlight RefreshMode = iota
	// RefreshLegacy lets every 401 run its own refresh, as the web client did.
	RefreshLegacy
)

// ParseRefreshMode maps the configuration value onto a RefreshMode.
func ParseRefreshMode(s string) RefreshMode {
	if s == "legacy" {
		return RefreshLegacy
	}
	return RefreshSingleFlight
}

// Session is the credential state the pipeline reads and updates.
type Session interface {
	AccessToken() string
	RefreshToken() string
	User() (models.User, bool)
	Begin(ctx context.Context, tokens models.Tokens, user *models.User) error
	SetAccessToken(ctx context.Context, token string) error
	SetUser(ctx context.Context, user models.User) error
	Clear(ctx context.Context) error
}

// Client is the TopTop API client. Every call goes through one pipeline that
// attaches the bearer token and transparently refreshes it on a 401.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	userAgent   string
	session     Session
	logger      *slog.Logger
	notifier    ui.Notifier
	navigator   ui.Navigator
	throttle    *Throttle
	refreshMode RefreshMode

	refreshGroup singleflight.Group

	Auth   *AuthService
	Users  *UsersService
	Videos *VideosService
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its transport is wrapped for logging.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithLogger sets the fallback logger used when the call context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier sets where session-expiry notices go.
func WithNotifier(n ui.Notifier) Option {
	return func(c *Client) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithNavigator sets where the login redirect goes.
func WithNavigator(n ui.Navigator) Option {
	return func(c *Client) {
		if n != nil {
			c.navigator = n
		}
	}
}

// WithThrottle paces requests per endpoint group.
func WithThrottle(t *Throttle) Option {
	return func(c *Client) {
		c.throttle = t
	}
}

// WithRefreshMode selects the refresh strategy.
func WithRefreshMode(mode RefreshMode) Option {
	return func(c *Client) {
		c.refreshMode = mode
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if strings.TrimSpace(ua) != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a client for baseURL backed by session.
func NewClient(baseURL string, session Session, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  defaultUserAgent,
		session:    session,
		logger:     slog.Default(),
		notifier:   ui.Discard{},
		navigator:  ui.Discard{},
	}

	for _, opt := range opts {
		opt(c)
	}

	wrapped := *c.httpClient
	if _, ok := wrapped.Transport.(*loggingTransport); !ok {
		wrapped.Transport = &loggingTransport{base: wrapped.Transport}
	}
	c.httpClient = &wrapped

	c.Auth = &AuthService{client: c}
	c.Users = &UsersService{client: c}
	c.Videos = &VideosService{client: c}

	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session returns the session the client reads credentials from.
func (c *Client) Session() Session {
	return c.session
}
