package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vidfriends/toptop/internal/models"
)

// VideosService covers the feed listing and per-video engagement endpoints.
type VideosService struct {
	client *Client
}

// ListOptions pages a feed listing. Zero values leave paging to the server.
type ListOptions struct {
	Page  int
	Limit int
}

// List fetches one page of the feed for variant.
func (s *VideosService) List(ctx context.Context, variant models.FeedVariant, opts ListOptions) (models.VideoPage, error) {
	path := "/videos/all"
	if variant == models.FeedMobile {
		path = "/users/all"
	}

	req := &request{method: http.MethodGet, path: path}
	if opts.Page > 0 || opts.Limit > 0 {
		req.query = url.Values{}
		if opts.Page > 0 {
			req.query.Set("page", strconv.Itoa(opts.Page))
		}
		if opts.Limit > 0 {
			req.query.Set("limit", strconv.Itoa(opts.Limit))
		}
	}

	var page models.VideoPage
	if err := s.client.do(ctx, req, &page); err != nil {
		return models.VideoPage{}, err
	}
	return page, nil
}

func videoPath(id, action string) string {
	return "/videos/" + url.PathEscape(id) + "/" + action
}

func (s *VideosService) engage(ctx context.Context, method, id, action string, payload any) error {
	if strings.TrimSpace(id) == "" {
		return validationError("video id is required")
	}
	return s.client.call(ctx, method, videoPath(id, action), payload, nil)
}

// Like adds the viewer's like.
func (s *VideosService) Like(ctx context.Context, id string) error {
	return s.engage(ctx, http.MethodPost, id, "like", nil)
}

// Unlike removes the viewer's like.
func (s *VideosService) Unlike(ctx context.Context, id string) error {
	return s.engage(ctx, http.MethodDelete, id, "like", nil)
}

// Save bookmarks the video.
func (s *VideosService) Save(ctx context.Context, id string) error {
	return s.engage(ctx, http.MethodPost, id, "save", nil)
}

// Unsave removes the bookmark.
func (s *VideosService) Unsave(ctx context.Context, id string) error {
	return s.engage(ctx, http.MethodDelete, id, "save", nil)
}

// Share records a share.
func (s *VideosService) Share(ctx context.Context, id string) error {
	return s.engage(ctx, http.MethodPost, id, "share", nil)
}

// Comment posts a comment.
func (s *VideosService) Comment(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return validationError("comment must not be empty")
	}
	return s.engage(ctx, http.MethodPost, id, "comment", map[string]string{"content": content})
}

// RecordView counts one view. Views are anonymous, so the call carries no
// bearer token and a 401 is never refreshed.
func (s *VideosService) RecordView(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return validationError("video id is required")
	}
	return s.client.do(ctx, &request{method: http.MethodPost, path: videoPath(id, "view"), anonymous: true}, nil)
}
