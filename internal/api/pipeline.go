package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/vidfriends/toptop/internal/logging"
	"github.com/vidfriends/toptop/internal/ui"
)

const (
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	headerUserAgent     = "User-Agent"
	headerRequestID     = "X-Request-ID"
	contentTypeJSON     = "application/json"

	refreshPath = "/auth/refresh-token"
	refreshKey  = "refresh"
)

var errRefreshSuperseded = errors.New("refresh token changed while waiting to refresh")

// request is one logical API call. The same value is replayed after a token
// refresh, so the body is produced by a factory rather than held as a reader.
type request struct {
	method      string
	path        string
	query       url.Values
	body        func() (io.Reader, error)
	contentType string

	// anonymous requests never carry a bearer token and skip 401 handling.
	anonymous bool

	authorization string
	requestID     string
	retried       bool
}

func newJSONRequest(method, path string, payload any) (*request, error) {
	req := &request{method: method, path: path}
	if payload == nil {
		return req, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req.body = func() (io.Reader, error) { return bytes.NewReader(data), nil }
	req.contentType = contentTypeJSON
	return req, nil
}

// call is the convenience entry point for JSON requests.
func (c *Client) call(ctx context.Context, method, path string, payload, result any) error {
	req, err := newJSONRequest(method, path, payload)
	if err != nil {
		return err
	}
	return c.do(ctx, req, result)
}

// do runs req through the pipeline: bearer attach, send, and on the first 401
// a refresh followed by a replay of the same request.
func (c *Client) do(ctx context.Context, req *request, result any) error {
	if req.requestID == "" {
		req.requestID = logging.RequestIDFromContext(ctx)
		if req.requestID == "" {
			req.requestID = uuid.NewString()
		}
	}
	if !req.anonymous && req.authorization == "" {
		if token := c.session.AccessToken(); token != "" {
			req.authorization = bearer(token)
		}
	}

	status, body, err := c.send(ctx, req)
	if err != nil {
		return err
	}

	if status >= http.StatusBadRequest {
		apiErr := parseError(status, body)
		if status == http.StatusUnauthorized && !req.anonymous && !req.retried {
			return c.handleUnauthorized(ctx, req, apiErr, result)
		}
		return apiErr
	}

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func (c *Client) handleUnauthorized(ctx context.Context, req *request, original *Error, result any) error {
	req.retried = true
	logger := c.loggerFor(ctx).With(slog.String("request_id", req.requestID))

	if c.refreshMode == RefreshSingleFlight && c.sessionEndedSince(req) {
		logger.Debug("session ended while request was in flight", slog.String("path", req.path))
		return original
	}

	refreshToken := c.session.RefreshToken()
	if refreshToken == "" {
		logger.Info("unauthorized without refresh token", slog.String("path", req.path))
		c.expireSession(ctx)
		return original
	}

	token, err := c.refreshAccessToken(ctx, req, refreshToken)
	if errors.Is(err, errRefreshSuperseded) {
		return original
	}
	if err != nil {
		return err
	}

	req.authorization = bearer(token)
	logger.Debug("replaying request with refreshed token", slog.String("path", req.path))
	return c.do(ctx, req, result)
}

func (c *Client) refreshAccessToken(ctx context.Context, req *request, refreshToken string) (string, error) {
	if c.refreshMode == RefreshLegacy {
		return c.refreshOnce(ctx, refreshToken)
	}

	// Another caller may already have refreshed since this request was sent.
	if current := c.session.AccessToken(); current != "" && bearer(current) != req.authorization {
		return current, nil
	}

	ch := c.refreshGroup.DoChan(refreshKey, func() (any, error) {
		// A flight that failed just before this one has already ended the session.
		if c.session.RefreshToken() != refreshToken {
			return "", errRefreshSuperseded
		}
		return c.refreshOnce(context.WithoutCancel(ctx), refreshToken)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// sessionEndedSince reports whether the session that authorized req has been
// cleared by another caller's terminal handling.
func (c *Client) sessionEndedSince(req *request) bool {
	return req.authorization != "" && c.session.AccessToken() == ""
}

// refreshOnce exchanges the refresh token and stores the new access token. On
// failure it runs the terminal session-expiry handling.
func (c *Client) refreshOnce(ctx context.Context, refreshToken string) (string, error) {
	token, err := c.exchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		c.loggerFor(ctx).Warn("token refresh failed", slog.String("error", err.Error()))
		c.expireSession(ctx)
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	if err := c.session.SetAccessToken(ctx, token); err != nil {
		c.loggerFor(ctx).Warn("persist refreshed token", slog.String("error", err.Error()))
	}
	return token, nil
}

// exchangeRefreshToken posts the refresh token outside the pipeline, so a 401
// from the refresh endpoint never recurses.
func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	req, err := newJSONRequest(http.MethodPost, refreshPath, map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return "", err
	}
	req.anonymous = true
	req.requestID = uuid.NewString()

	status, body, err := c.send(ctx, req)
	if err != nil {
		return "", err
	}
	if status >= http.StatusBadRequest {
		return "", parseError(status, body)
	}

	var payload struct {
		AccessToken      string `json:"access_token"`
		AccessTokenCamel string `json:"accessToken"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse refresh response: %w", err)
	}
	token := payload.AccessToken
	if token == "" {
		token = payload.AccessTokenCamel
	}
	if token == "" {
		return "", errors.New("refresh response carried no access token")
	}
	return token, nil
}

func (c *Client) expireSession(ctx context.Context) {
	c.notifier.Notify(ui.LevelError, SessionExpiredMessage)
	if err := c.session.Clear(ctx); err != nil {
		c.loggerFor(ctx).Warn("clear session", slog.String("error", err.Error()))
	}
	c.navigator.Navigate(ui.RouteLogin)
}

// send performs a single HTTP exchange and returns the status and body.
func (c *Client) send(ctx context.Context, req *request) (int, []byte, error) {
	if err := c.throttle.Wait(ctx, throttleKey(req.path)); err != nil {
		return 0, nil, fmt.Errorf("throttle: %w", err)
	}

	reqURL := c.baseURL + req.path
	if len(req.query) > 0 {
		reqURL += "?" + req.query.Encode()
	}

	var bodyReader io.Reader
	if req.body != nil {
		r, err := req.body()
		if err != nil {
			return 0, nil, fmt.Errorf("failed to build request body: %w", err)
		}
		bodyReader = r
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, reqURL, bodyReader)
	if err != nil {
		if closer, ok := bodyReader.(io.Closer); ok {
			closer.Close()
		}
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerUserAgent, c.userAgent)
	httpReq.Header.Set(headerRequestID, req.requestID)
	httpReq.Header.Set("Accept", contentTypeJSON)
	if req.contentType != "" {
		httpReq.Header.Set(headerContentType, req.contentType)
	}
	if req.authorization != "" && !req.anonymous {
		httpReq.Header.Set(headerAuthorization, req.authorization)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) loggerFor(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != slog.Default() {
		return logger
	}
	return c.logger
}

func bearer(token string) string {
	return "Bearer " + strings.TrimSpace(token)
}
