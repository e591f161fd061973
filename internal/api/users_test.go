package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidfriends/toptop/internal/models"
)

func TestProfileCachesUser(t *testing.T) {
	rs, server := newRecordingServer(t, http.StatusOK, map[string]any{"_id": "u1", "username": "alice", "bio": "hi"})
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A"})

	user, err := h.client.Users.Profile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/users/profile", rs.path)
	assert.Equal(t, "hi", user.Bio)

	cached, ok := h.session.User()
	require.True(t, ok)
	assert.Equal(t, "hi", cached.Bio)
}

func TestMeAcceptsWrappedUser(t *testing.T) {
	rs, server := newRecordingServer(t, http.StatusOK, map[string]any{"user": map[string]string{"id": "u9", "username": "zed"}})
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A"})

	user, err := h.client.Users.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/users/me", rs.path)
	assert.Equal(t, "u9", user.ID)
}

func TestFollowingDecodesPopulatedUsers(t *testing.T) {
	rs, server := newRecordingServer(t, http.StatusOK, map[string]any{
		"following": []map[string]string{{"_id": "a1"}, {"_id": "a2"}},
	})
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A"})

	ids, err := h.client.Users.Following(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "/users/u1/following", rs.path)
	assert.Equal(t, []string{"a1", "a2"}, ids)
}

func TestFollow(t *testing.T) {
	rs, server := newRecordingServer(t, http.StatusOK, map[string]string{"message": "ok"})
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A"})

	require.NoError(t, h.client.Users.Follow(context.Background(), "a1"))
	assert.Equal(t, http.MethodPost, rs.method)
	assert.Equal(t, "/users/a1/follow", rs.path)

	assert.ErrorIs(t, h.client.Users.Follow(context.Background(), ""), ErrValidation)
}

type multipartCapture struct {
	fields map[string]string
	files  map[string]string
	names  map[string]string
	method string
	path   string
}

func newMultipartServer(t *testing.T, status int, body any, failFirst bool) (*multipartCapture, *atomic.Int32, *httptest.Server) {
	capture := &multipartCapture{}
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if failFirst && n == 1 {
			_, _ = io.Copy(io.Discard, r.Body)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
			return
		}
		if r.URL.Path == refreshPath {
			writeJSON(w, http.StatusOK, map[string]string{"access_token": "A2"})
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		capture.method = r.Method
		capture.path = r.URL.Path
		capture.fields = map[string]string{}
		capture.files = map[string]string{}
		capture.names = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			capture.fields[k] = v[0]
		}
		for k, fhs := range r.MultipartForm.File {
			f, err := fhs[0].Open()
			require.NoError(t, err)
			data, err := io.ReadAll(f)
			require.NoError(t, err)
			f.Close()
			capture.files[k] = string(data)
			capture.names[k] = fhs[0].Filename
		}
		writeJSON(w, status, body)
	}))
	t.Cleanup(server.Close)
	return capture, &calls, server
}

func TestUpdateProfileMultipart(t *testing.T) {
	capture, _, server := newMultipartServer(t, http.StatusOK, map[string]any{"_id": "u1", "username": "alice2", "bio": "new"}, false)
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A"})

	user, err := h.client.Users.UpdateProfile(context.Background(), "u1", ProfileUpdate{
		Username: "alice2",
		Bio:      "new",
		Avatar:   &FilePart{Filename: "me.png", Content: strings.NewReader("png-bytes")},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, capture.method)
	assert.Equal(t, "/users/profile/u1", capture.path)
	assert.Equal(t, map[string]string{"username": "alice2", "bio": "new"}, capture.fields)
	assert.Equal(t, "png-bytes", capture.files["avatar"])
	assert.Equal(t, "me.png", capture.names["avatar"])
	assert.Equal(t, "alice2", user.Username)

	cached, _ := h.session.User()
	assert.Equal(t, "new", cached.Bio)
}

func TestUploadValidation(t *testing.T) {
	_, calls, server := newMultipartServer(t, http.StatusOK, map[string]string{}, false)
	ctx := context.Background()

	loggedOut := newHarness(t, server.URL, models.Tokens{})
	_, err := loggedOut.client.Users.Upload(ctx, UploadRequest{Title: "t", File: &FilePart{Filename: "v.mp4", Content: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	loggedIn := newHarness(t, server.URL, models.Tokens{AccessToken: "A"})
	_, err = loggedIn.client.Users.Upload(ctx, UploadRequest{Title: " ", File: &FilePart{Filename: "v.mp4", Content: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = loggedIn.client.Users.Upload(ctx, UploadRequest{Title: "t"})
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, calls.Load())
}

func TestUploadReplaysMultipartAfterRefresh(t *testing.T) {
	capture, calls, server := newMultipartServer(t, http.StatusCreated, map[string]any{
		"message": "Video uploaded",
		"video":   map[string]any{"_id": "v9", "title": "clip", "userId": "u1"},
	}, true)
	h := newHarness(t, server.URL, models.Tokens{AccessToken: "A1", RefreshToken: "R"})

	result, err := h.client.Users.Upload(context.Background(), UploadRequest{
		Title: "clip",
		Desc:  "a clip",
		File:  &FilePart{Filename: "clip.mp4", Content: strings.NewReader("video-bytes")},
	})
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load(), "upload, refresh, replayed upload")
	assert.Equal(t, "/users/upload", capture.path)
	assert.Equal(t, map[string]string{"title": "clip", "desc": "a clip", "userId": "u1", "username": "alice"}, capture.fields)
	assert.Equal(t, "video-bytes", capture.files["videoFile"])
	require.NotNil(t, result.Video)
	assert.Equal(t, "v9", result.Video.ID)
	assert.Equal(t, "u1", result.Video.Author.ID)
	assert.Equal(t, "A2", h.session.AccessToken())
}
