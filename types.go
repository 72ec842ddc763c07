package fluxe

import (
	"fmt"
	"time"
)

// User represents a Fluxe account profile.
type User struct {
	ID        string
	Email     string
	Username  string
	Avatar    string
	Bio       string
	CreatedAt time.Time
}

// Author is the embedded author summary carried by every tweet.
type Author struct {
	ID       string
	Username string
	Avatar   string
}

// Like is one membership entry of a tweet's like set.
type Like struct {
	UserID string
}

// Tweet represents a single tweet.
type Tweet struct {
	ID        string
	Content   string
	AuthorID  string
	CreatedAt time.Time
	UpdatedAt time.Time
	Author    Author
	Likes     []Like
	LikeCount int
}

// Clone returns a deep copy so feed entries never share the likes slice.
func (t Tweet) Clone() Tweet {
	if t.Likes != nil {
		likes := make([]Like, len(t.Likes))
		copy(likes, t.Likes)
		t.Likes = likes
	}
	return t
}

// LikedBy reports whether userID is in the like set.
func (t Tweet) LikedBy(userID string) bool {
	if userID == "" {
		return false
	}
	for _, l := range t.Likes {
		if l.UserID == userID {
			return true
		}
	}
	return false
}

// ApplyLike sets the like membership of userID and the like count from one
// toggle response.
func (t *Tweet) ApplyLike(userID string, res LikeResult) {
	kept := t.Likes[:0:0]
	for _, l := range t.Likes {
		if l.UserID != userID {
			kept = append(kept, l)
		}
	}
	if res.Liked && userID != "" {
		kept = append(kept, Like{UserID: userID})
	}
	t.Likes = kept
	t.LikeCount = res.LikeCount
}

// TweetPage is one page of the tweets listing.
// An empty NextCursor means there are no further pages.
type TweetPage struct {
	Tweets     []Tweet
	NextCursor string
}

// LikeResult is the server's answer to a like toggle.
type LikeResult struct {
	Liked     bool
	LikeCount int
}

// AuthResult is returned by a successful login.
type AuthResult struct {
	User  *User
	Token string
}

// SortMode selects the server-side ordering of the feed.
type SortMode string

const (
	SortRecent    SortMode = "recent"
	SortTrending  SortMode = "trending"
	SortFollowing SortMode = "following"
)

// ParseSortMode validates a sort mode name.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(s) {
	case SortRecent, SortTrending, SortFollowing:
		return SortMode(s), nil
	case "":
		return SortRecent, nil
	}
	return "", fmt.Errorf("unknown sort mode: %q", s)
}

// ListOptions controls a tweets listing request.
type ListOptions struct {
	Cursor string
	Limit  int
	Sort   SortMode
}

// RegisterPayload is the body of POST /auth/register.
type RegisterPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=30"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginPayload is the body of POST /auth/login.
type LoginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// tweetPayload is the body of POST /tweets and PUT /tweets/:id.
type tweetPayload struct {
	Content string `json:"content" validate:"required,max=280"`
}
