package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vidfriends/toptop/internal/models"
)

// UsersService covers profile, follow and upload endpoints.
type UsersService struct {
	client *Client
}

// userEnvelope accepts both a bare user and {"user": {...}}.
type userEnvelope struct {
	models.User
}

func (e *userEnvelope) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		raw := bytes.TrimSpace(wrapped.User)
		if len(raw) > 0 && raw[0] == '{' {
			return json.Unmarshal(raw, &e.User)
		}
	}
	return json.Unmarshal(data, &e.User)
}

// Profile fetches the logged-in user's profile and caches it in the session.
func (s *UsersService) Profile(ctx context.Context) (models.User, error) {
	return s.fetchSelf(ctx, "/users/profile")
}

// Me fetches the logged-in user from /users/me and caches it in the session.
func (s *UsersService) Me(ctx context.Context) (models.User, error) {
	return s.fetchSelf(ctx, "/users/me")
}

func (s *UsersService) fetchSelf(ctx context.Context, path string) (models.User, error) {
	var env userEnvelope
	if err := s.client.call(ctx, http.MethodGet, path, nil, &env); err != nil {
		return models.User{}, err
	}
	if err := s.client.session.SetUser(ctx, env.User); err != nil {
		return env.User, err
	}
	return env.User, nil
}

// ProfileUpdate is the edit-profile form. Avatar is optional.
type ProfileUpdate struct {
	Username string
	Bio      string
	Avatar   *FilePart
}

// UpdateProfile submits the edit-profile form and caches the returned user.
func (s *UsersService) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (models.User, error) {
	if strings.TrimSpace(userID) == "" {
		return models.User{}, ErrNotLoggedIn
	}

	form := newMultipartForm().
		field("username", update.Username).
		field("bio", update.Bio)
	if update.Avatar != nil {
		part := *update.Avatar
		part.Field = "avatar"
		form.file(part)
	}

	var env userEnvelope
	if err := s.client.do(ctx, form.request(http.MethodPut, "/users/profile/"+url.PathEscape(userID)), &env); err != nil {
		return models.User{}, err
	}
	if err := s.client.session.SetUser(ctx, env.User); err != nil {
		return env.User, err
	}
	return env.User, nil
}

// Following lists the ids of accounts userID follows.
func (s *UsersService) Following(ctx context.Context, userID string) ([]string, error) {
	var result struct {
		Following models.IDList `json:"following"`
	}
	if err := s.client.call(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/following", nil, &result); err != nil {
		return nil, err
	}
	return []string(result.Following), nil
}

// Follow follows the account authorID.
func (s *UsersService) Follow(ctx context.Context, authorID string) error {
	if strings.TrimSpace(authorID) == "" {
		return validationError("author id is required")
	}
	return s.client.call(ctx, http.MethodPost, "/users/"+url.PathEscape(authorID)+"/follow", nil, nil)
}

// UploadRequest is the upload form.
type UploadRequest struct {
	Title string
	Desc  string
	File  *FilePart
}

// UploadResult is the server's answer to an upload.
type UploadResult struct {
	Message string        `json:"message"`
	Video   *models.Video `json:"video,omitempty"`
}

// Upload posts a new video on behalf of the logged-in user.
func (s *UsersService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if strings.TrimSpace(req.Title) == "" || req.File == nil || req.File.Content == nil {
		return nil, validationError("Enter a title and select a video.")
	}
	if s.client.session.AccessToken() == "" {
		return nil, fmt.Errorf("%w: You need to log in to upload a video.", ErrNotLoggedIn)
	}
	user, _ := s.client.session.User()

	part := *req.File
	part.Field = "videoFile"

	form := newMultipartForm().
		field("title", strings.TrimSpace(req.Title)).
		field("desc", req.Desc).
		field("userId", user.ID).
		field("username", user.Username).
		file(part)

	var result UploadResult
	if err := s.client.do(ctx, form.request(http.MethodPost, "/users/upload"), &result); err != nil {
		return nil, err
	}
	return &result, nil
}
