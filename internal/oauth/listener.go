// Package oauth runs the local callback endpoint that finishes a provider
// login: the backend redirects the browser to /callback with the issued token.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/httpserver"
	"github.com/vidfriends/toptop/internal/middleware"
	"github.com/vidfriends/toptop/internal/models"
)

// CallbackPath is where the backend sends the browser after provider login.
const CallbackPath = "/callback"

const (
	pageDone    = "Login complete. You can close this window and return to the terminal.\n"
	pageInvalid = "Login failed: the callback is missing token, email or avatar.\n"
	pageFailed  = "Login failed. Check the terminal for details.\n"
)

// Completer starts a session from a callback.
type Completer interface {
	CompleteOAuth(ctx context.Context, cb api.OAuthCallback) (models.User, error)
}

type result struct {
	user models.User
	err  error
}

// Listener serves the callback once and hands the outcome to Wait.
type Listener struct {
	server    *httpserver.Server
	completer Completer
	logger    *slog.Logger

	once    sync.Once
	results chan result
	serveCh chan error
}

// NewListener prepares a loopback listener on port. Port 0 picks a free port.
func NewListener(port int, completer Completer, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		completer: completer,
		logger:    logger,
		results:   make(chan result, 1),
		serveCh:   make(chan error, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+CallbackPath, l.handleCallback)
	handler := middleware.LoopbackOnly(middleware.RequestLogger(logger)(mux))
	l.server = httpserver.New("127.0.0.1", port, handler)
	return l
}

// Start binds the port and serves in the background.
func (l *Listener) Start() error {
	if _, err := l.server.Listen(); err != nil {
		return err
	}
	go func() {
		l.serveCh <- l.server.Start()
	}()
	return nil
}

// CallbackURL is the address the backend must redirect to.
func (l *Listener) CallbackURL() string {
	return "http://" + l.server.Addr() + CallbackPath
}

// Wait blocks until the first callback arrives or ctx is done, then shuts
// the server down.
func (l *Listener) Wait(ctx context.Context) (models.User, error) {
	defer l.shutdown()

	select {
	case <-ctx.Done():
		return models.User{}, ctx.Err()
	case err := <-l.serveCh:
		if err == nil {
			err = errors.New("callback server stopped")
		}
		return models.User{}, fmt.Errorf("oauth callback server: %w", err)
	case res := <-l.results:
		return res.user, res.err
	}
}

func (l *Listener) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout)
	defer cancel()
	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Warn("oauth listener shutdown", "error", err)
	}
}

func (l *Listener) deliver(res result) {
	l.once.Do(func() {
		l.results <- res
	})
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	cb, err := api.ParseOAuthCallback(r.URL.Query())
	if err != nil {
		l.logger.Warn("invalid oauth callback", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(pageInvalid))
		l.deliver(result{err: err})
		return
	}

	user, err := l.completer.CompleteOAuth(r.Context(), cb)
	if err != nil {
		l.logger.Error("complete oauth login", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(pageFailed))
		l.deliver(result{err: err})
		return
	}

	l.logger.Info("oauth login completed", "email", user.Email)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(pageDone))
	l.deliver(result{user: user})
}
