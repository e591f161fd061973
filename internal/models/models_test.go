package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserAcceptsEitherIdentifier(t *testing.T) {
	var mongo User
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"u1","email":"a@b.c","username":"alice","role":"user"}`), &mongo))
	assert.Equal(t, "u1", mongo.ID)
	assert.Equal(t, "alice", mongo.Username)

	var plain User
	require.NoError(t, json.Unmarshal([]byte(`{"id":"u2","followersCount":3}`), &plain))
	assert.Equal(t, "u2", plain.ID)
	assert.Equal(t, 3, plain.FollowersCount)
}

func TestVideoAuthorNormalization(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Author
	}{
		{
			name:    "populated userId object",
			payload: `{"id":"v1","userId":{"_id":"a1","username":"bob","avatar":"a.png"}}`,
			want:    Author{ID: "a1", Username: "bob", Avatar: "a.png"},
		},
		{
			name:    "bare userId string",
			payload: `{"_id":"v1","userId":"a2"}`,
			want:    Author{ID: "a2"},
		},
		{
			name:    "user object",
			payload: `{"id":"v1","user":{"id":"a3","username":"carol"}}`,
			want:    Author{ID: "a3", Username: "carol"},
		},
		{
			name:    "already normalized",
			payload: `{"id":"v1","author":{"id":"a4","username":"dan"}}`,
			want:    Author{ID: "a4", Username: "dan"},
		},
		{
			name:    "no author",
			payload: `{"id":"v1"}`,
			want:    Author{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Video
			require.NoError(t, json.Unmarshal([]byte(tt.payload), &v))
			assert.Equal(t, "v1", v.ID)
			assert.Equal(t, tt.want, v.Author)
		})
	}
}

func TestVideoRejectsUnexpectedUserID(t *testing.T) {
	var v Video
	assert.Error(t, json.Unmarshal([]byte(`{"id":"v1","userId":42}`), &v))
}

func TestVideoPageDecodes(t *testing.T) {
	payload := `{
		"videos":[{"id":"v1","title":"hello","likes":2,"likedBy":["u1"],"savedBy":[],"userId":{"_id":"a1"}}],
		"pagination":{"currentPage":1,"totalPages":3,"totalVideos":25,"hasMore":true}
	}`
	var page VideoPage
	require.NoError(t, json.Unmarshal([]byte(payload), &page))
	require.Len(t, page.Videos, 1)
	assert.True(t, page.Videos[0].LikedByUser("u1"))
	assert.False(t, page.Videos[0].SavedByUser("u1"))
	assert.False(t, page.Videos[0].LikedByUser(""))
	assert.Equal(t, Pagination{CurrentPage: 1, TotalPages: 3, TotalVideos: 25, HasMore: true}, page.Pagination)
}

func TestParseFeedVariant(t *testing.T) {
	v, err := ParseFeedVariant("")
	require.NoError(t, err)
	assert.Equal(t, FeedDesktop, v)

	v, err = ParseFeedVariant("mobile")
	require.NoError(t, err)
	assert.Equal(t, FeedMobile, v)

	_, err = ParseFeedVariant("tv")
	assert.Error(t, err)
}

func TestIDListAcceptsStringsAndObjects(t *testing.T) {
	var l IDList
	require.NoError(t, json.Unmarshal([]byte(`["a",{"_id":"b"},{"id":"c"},{}]`), &l))
	assert.Equal(t, IDList{"a", "b", "c"}, l)

	var u User
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"u1","following":[{"_id":"x"}]}`), &u))
	assert.Equal(t, IDList{"x"}, u.Following)
}
