package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfriends/toptop/internal/logging"
	"github.com/vidfriends/toptop/internal/models"
	"github.com/vidfriends/toptop/internal/session"
	"github.com/vidfriends/toptop/internal/ui"
)

// fakeAPI is a minimal TopTop backend. Protected routes accept only the
// current access token; the refresh endpoint rotates it.
type fakeAPI struct {
	mu           sync.Mutex
	validToken   string
	refreshToken string
	refreshFails bool
	authHeaders  []string
	// issueToken, when set, is handed out by refresh instead of validToken.
	issueToken string

	refreshCalls atomic.Int32
	protected401 atomic.Int32

	// refreshGate, when set, is waited on before the refresh handler answers.
	refreshGate func()
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{validToken: "A2", refreshToken: "R"}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		f.mu.Lock()
		token := f.validToken
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"accessToken":  token,
			"refreshToken": f.refreshToken,
			"user":         map[string]string{"_id": "u1", "email": body["email"], "username": "alice"},
		})
	})

	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			f.refreshGate()
		}
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, r.Header.Get(headerAuthorization), "refresh must not carry a bearer token")

		f.mu.Lock()
		defer f.mu.Unlock()
		if f.refreshFails || body["refreshToken"] != f.refreshToken {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Invalid refresh token"})
			return
		}
		issued := f.validToken
		if f.issueToken != "" {
			issued = f.issueToken
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": issued})
	})

	protected := func(w http.ResponseWriter, r *http.Request) bool {
		header := r.Header.Get(headerAuthorization)
		f.mu.Lock()
		f.authHeaders = append(f.authHeaders, header)
		ok := header == "Bearer "+f.validToken
		f.mu.Unlock()
		if !ok {
			f.protected401.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}
		return ok
	}

	mux.HandleFunc("GET /videos/all", func(w http.ResponseWriter, r *http.Request) {
		if !protected(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"videos": []map[string]any{
				{"id": "v1", "title": "first", "likes": 1, "likedBy": []string{}, "userId": map[string]string{"_id": "a1", "username": "bob"}},
			},
			"pagination": map[string]any{"currentPage": 1, "totalPages": 1, "totalVideos": 1, "hasMore": false},
		})
	})

	mux.HandleFunc("GET /users/profile", func(w http.ResponseWriter, r *http.Request) {
		if !protected(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"_id": "u1", "username": "alice"})
	})

	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "database down"})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return f, server
}

// waitFor401s holds the refresh response until every caller has been rejected
// and has had time to join the in-flight refresh.
func waitFor401s(f *fakeAPI, n int32) {
	deadline := time.Now().Add(2 * time.Second)
	for f.protected401.Load() < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
}

func (f *fakeAPI) rotate(token string) {
	f.mu.Lock()
	f.validToken = token
	f.mu.Unlock()
}

func (f *fakeAPI) headers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authHeaders...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type harness struct {
	client   *Client
	session  *session.Provider
	store    *session.MemoryStore
	recorder *ui.Recorder
}

func newHarness(t *testing.T, baseURL string, tokens models.Tokens, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()
	store := session.NewMemoryStore()
	provider, err := session.NewProvider(ctx, store, logging.Discard())
	require.NoError(t, err)
	if tokens.AccessToken != "" || tokens.RefreshToken != "" {
		require.NoError(t, provider.Begin(ctx, tokens, &models.User{ID: "u1", Username: "alice"}))
	}

	recorder := &ui.Recorder{}
	opts = append([]Option{WithNotifier(recorder), WithNavigator(recorder), WithLogger(logging.Discard())}, opts...)
	return &harness{
		client:   NewClient(baseURL, provider, opts...),
		session:  provider,
		store:    store,
		recorder: recorder,
	}
}

func TestPipelineAttachesBearerToken(t *testing.T) {
	f, server := newFakeAPI(t)
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A2", RefreshToken: "R"})

	var page models.VideoPage
	require.NoError(t, h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, &page))

	assert.Equal(t, []string{"Bearer A2"}, f.headers())
	require.Len(t, page.Videos, 1)
	assert.Equal(t, "bob", page.Videos[0].Author.Username)
	assert.Zero(t, f.refreshCalls.Load())
}

func TestPipelineSendsUnauthenticatedWithoutToken(t *testing.T) {
	f, server := newFakeAPI(t)
	h := newHarness(t, server.URL, models.Tokens{})

	err := h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil)
	require.Error(t, err)

	assert.Equal(t, []string{""}, f.headers())
	assert.Zero(t, f.refreshCalls.Load(), "refresh must not be called without a refresh token")
}

func TestPipelineRefreshesAndReplaysOn401(t *testing.T) {
	f, server := newFakeAPI(t)
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	var page models.VideoPage
	require.NoError(t, h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, &page))

	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, []string{"Bearer A1", "Bearer A2"}, f.headers())
	assert.Equal(t, "A2", h.session.AccessToken())
	stored, err := h.store.Get(context.Background(), session.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "A2", stored)
	assert.Len(t, page.Videos, 1)
	assert.Empty(t, h.recorder.Notices())
}

func TestPipelineExpiresSessionWithoutRefreshToken(t *testing.T) {
	f, server := newFakeAPI(t)
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1"})

	err := h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil)

	apiErr, ok := AsError(err)
	require.True(t, ok, "expected *Error, got %v", err)
	assert.True(t, apiErr.IsUnauthorized())
	assert.Zero(t, f.refreshCalls.Load())
	assert.Equal(t, []ui.Notice{{Level: ui.LevelError, Message: SessionExpiredMessage}}, h.recorder.Notices())
	assert.Equal(t, []string{ui.RouteLogin}, h.recorder.Routes())
	assert.False(t, h.session.LoggedIn())
	assert.False(t, h.store.Has(session.KeyAccessToken))
	assert.False(t, h.store.Has(session.KeyUser))
}

func TestPipelineRefreshFailureEndsSession(t *testing.T) {
	f, server := newFakeAPI(t)
	f.refreshFails = true
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	err := h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil)
	require.Error(t, err)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsForbidden(), "the refresh failure is returned, not the original 401")
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, []string{ui.RouteLogin}, h.recorder.Routes())
	assert.Len(t, h.recorder.Notices(), 1)
	assert.Empty(t, h.session.RefreshToken())
	assert.Len(t, f.headers(), 1, "request is not replayed after a failed refresh")
}

func TestPipelineRetriesAtMostOnce(t *testing.T) {
	f, server := newFakeAPI(t)
	// Refresh hands out A2, but the server only accepts A3.
	f.rotate("A3")
	f.issueToken = "A2"
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	err := h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.True(t, apiErr.IsUnauthorized())
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, int32(2), f.protected401.Load())
	assert.Empty(t, h.recorder.Routes(), "a 401 on the replay is returned without expiring the session")
}

func TestPipelinePassesThroughOtherErrors(t *testing.T) {
	_, server := newFakeAPI(t)
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A2"})

	err := h.client.call(context.Background(), http.MethodGet, "/boom", nil, nil)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "database down", apiErr.Message)
	assert.True(t, h.session.LoggedIn())
}

func TestPipelineWrapsTransportErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()
	h := newHarness(t, server.URL, models.Tokens{})

	err := h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
	_, isAPI := AsError(err)
	assert.False(t, isAPI)
}

func TestPipelineSingleFlightRefresh(t *testing.T) {
	const callers = 8

	f, server := newFakeAPI(t)
	f.refreshGate = func() { waitFor401s(f, callers) }
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, "A2", h.session.AccessToken())
}

func TestPipelineLegacyRefreshRacesPerRequest(t *testing.T) {
	const callers = 4

	f, server := newFakeAPI(t)
	var arrived atomic.Int32
	f.refreshGate = func() {
		arrived.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for arrived.Load() < callers && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"}, WithRefreshMode(RefreshLegacy))

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(callers), f.refreshCalls.Load())
}

func TestPipelineSingleFlightSharesTerminalHandling(t *testing.T) {
	const callers = 5

	f, server := newFakeAPI(t)
	f.refreshFails = true
	f.refreshGate = func() { waitFor401s(f, callers) }
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Error(t, h.client.call(context.Background(), http.MethodGet, "/videos/all", nil, nil))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Len(t, h.recorder.Routes(), 1)
	assert.False(t, h.session.LoggedIn())
}

func TestPipelineSingleFlightLate401AfterFailedRefresh(t *testing.T) {
	ctx := context.Background()
	var h *harness
	var refreshCalls atomic.Int32
	slowArrived := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Refresh token expired"})
	})
	mux.HandleFunc("GET /videos/all", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
	})
	mux.HandleFunc("GET /users/profile", func(w http.ResponseWriter, r *http.Request) {
		close(slowArrived)
		// Answer only once the other request's failed refresh ended the session.
		deadline := time.Now().Add(2 * time.Second)
		for h.session.LoggedIn() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	h = newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	slowErr := make(chan error, 1)
	go func() {
		slowErr <- h.client.call(ctx, http.MethodGet, "/users/profile", nil, nil)
	}()
	<-slowArrived

	require.Error(t, h.client.call(ctx, http.MethodGet, "/videos/all", nil, nil))
	err := <-slowErr
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Len(t, h.recorder.Notices(), 1)
	assert.Equal(t, []string{ui.RouteLogin}, h.recorder.Routes())
	assert.False(t, h.session.LoggedIn())
}

func TestEndToEndLoginFeedTransparentRefresh(t *testing.T) {
	ctx := context.Background()
	f, server := newFakeAPI(t)
	f.rotate("A1")
	h := newHarness(t, server.URL, models.Tokens{})

	login, err := h.client.Auth.Login(ctx, "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "A1", login.AccessToken)
	assert.Equal(t, "A1", h.session.AccessToken())
	user, ok := h.session.User()
	require.True(t, ok)
	assert.Equal(t, "u1", user.ID)

	page, err := h.client.Videos.List(ctx, models.FeedDesktop, ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Videos, 1)

	// The access token expires server-side.
	f.rotate("A2")

	page, err = h.client.Videos.List(ctx, models.FeedDesktop, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Videos, 1)
	assert.Equal(t, int32(1), f.refreshCalls.Load())
	assert.Equal(t, "A2", h.session.AccessToken())
	assert.Empty(t, h.recorder.Notices())
	assert.Equal(t, []string{"Bearer A1", "Bearer A1", "Bearer A2"}, f.headers())
}

func TestPipelineHonoursCallerCancellation(t *testing.T) {
	f, server := newFakeAPI(t)
	release := make(chan struct{})
	f.refreshGate = func() { <-release }
	defer close(release)
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := h.client.call(ctx, http.MethodGet, "/videos/all", nil, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestPipelineSendsRequestMetadata(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, map[string]string{})
	}))
	t.Cleanup(server.Close)

	h := newHarness(t, server.URL, models.Tokens{}, WithUserAgent("toptop-test/2"))
	ctx := logging.WithRequestID(context.Background(), "req-42")
	require.NoError(t, h.client.call(ctx, http.MethodPost, "/auth/logout", map[string]string{"a": "b"}, nil))

	assert.Equal(t, "toptop-test/2", got.Get(headerUserAgent))
	assert.Equal(t, "req-42", got.Get(headerRequestID))
	assert.Equal(t, contentTypeJSON, got.Get(headerContentType))
}
