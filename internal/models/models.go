package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Role values understood by the ability table.
const (
	RoleGuest = "guest"
	RoleUser  = "user"
)

// User is a TopTop account as returned by the API. The identifier arrives as
// either "_id" or "id" depending on the endpoint.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Username       string    `json:"username"`
	Avatar         string    `json:"avatar,omitempty"`
	Bio            string    `json:"bio,omitempty"`
	Role           string    `json:"role,omitempty"`
	IsActive       bool      `json:"isActive"`
	FollowersCount int       `json:"followersCount"`
	FollowingCount int       `json:"followingCount"`
	LikesCount     int       `json:"likesCount"`
	Following      IDList    `json:"following,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// UnmarshalJSON accepts both "_id" and "id".
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	var wire struct {
		alias
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*u = User(wire.alias)
	if u.ID == "" {
		u.ID = wire.MongoID
	}
	return nil
}

// IDList is a list of account ids. The API sends it either as plain strings or
// as populated objects carrying "_id".
type IDList []string

// UnmarshalJSON accepts ["a","b"] and [{"_id":"a"},{"id":"b"}].
func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ids := make(IDList, 0, len(raw))
	for _, item := range raw {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var id string
			if err := json.Unmarshal(item, &id); err != nil {
				return err
			}
			ids = append(ids, id)
			continue
		}
		var obj authorWire
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("decode id list entry: %w", err)
		}
		if id := obj.author().ID; id != "" {
			ids = append(ids, id)
		}
	}
	*l = ids
	return nil
}

// Author is the normalized uploader of a video.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// Video is one short video in a feed.
type Video struct {
	ID           string    `json:"id"`
	VideoURL     string    `json:"videoUrl"`
	Title        string    `json:"title"`
	Desc         string    `json:"desc"`
	Likes        int       `json:"likes"`
	Views        int       `json:"views"`
	CommentCount int       `json:"commentCount"`
	IsPublic     bool      `json:"isPublic"`
	LikedBy      []string  `json:"likedBy"`
	Saved        int       `json:"saved"`
	SavedBy      []string  `json:"savedBy"`
	Shared       int       `json:"shared"`
	SharedBy     []string  `json:"sharedBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
	Author       Author    `json:"author"`
}

// UnmarshalJSON normalizes the author, which the API sends as a bare "userId"
// string, a populated "userId" object, or a "user" object.
func (v *Video) UnmarshalJSON(data []byte) error {
	type alias Video
	var wire struct {
		alias
		MongoID string          `json:"_id"`
		UserID  json.RawMessage `json:"userId"`
		User    *authorWire     `json:"user"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*v = Video(wire.alias)
	if v.ID == "" {
		v.ID = wire.MongoID
	}

	author, err := normalizeAuthor(wire.UserID, wire.User)
	if err != nil {
		return fmt.Errorf("video %s: %w", v.ID, err)
	}
	if author.ID != "" || v.Author.ID == "" {
		v.Author = author
	}
	return nil
}

type authorWire struct {
	ID       string `json:"id"`
	MongoID  string `json:"_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (a authorWire) author() Author {
	id := a.MongoID
	if id == "" {
		id = a.ID
	}
	return Author{ID: id, Username: a.Username, Avatar: a.Avatar}
}

func normalizeAuthor(userID json.RawMessage, user *authorWire) (Author, error) {
	raw := bytes.TrimSpace(userID)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return Author{}, fmt.Errorf("decode userId: %w", err)
		}
		return Author{ID: id}, nil
	case raw[0] == '{':
		var nested authorWire
		if err := json.Unmarshal(raw, &nested); err != nil {
			return Author{}, fmt.Errorf("decode userId: %w", err)
		}
		return nested.author(), nil
	default:
		return Author{}, fmt.Errorf("unexpected userId payload %s", raw)
	}

	if user != nil {
		return user.author(), nil
	}
	return Author{}, nil
}

// LikedByUser reports whether userID appears in the video's like list.
func (v Video) LikedByUser(userID string) bool {
	return userID != "" && contains(v.LikedBy, userID)
}

// SavedByUser reports whether userID appears in the video's save list.
func (v Video) SavedByUser(userID string) bool {
	return userID != "" && contains(v.SavedBy, userID)
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// Pagination describes where a VideoPage sits in the full feed.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalVideos int  `json:"totalVideos"`
	HasMore     bool `json:"hasMore"`
}

// VideoPage is one page of the feed.
type VideoPage struct {
	Videos     []Video    `json:"videos"`
	Pagination Pagination `json:"pagination"`
}

// Tokens is the credential pair issued by login and refresh.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// FeedVariant selects which listing endpoint backs the feed.
type FeedVariant string

const (
	FeedDesktop FeedVariant = "desktop"
	FeedMobile  FeedVariant = "mobile"
)

// ParseFeedVariant validates a user-supplied variant name.
func ParseFeedVariant(s string) (FeedVariant, error) {
	switch FeedVariant(s) {
	case FeedDesktop, FeedMobile:
		return FeedVariant(s), nil
	case "":
		return FeedDesktop, nil
	default:
		return "", fmt.Errorf("unknown feed variant %q", s)
	}
}
