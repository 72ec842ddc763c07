package fluxe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// --- Wire types ---

type userWire struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	Avatar    *string `json:"avatar"`
	Bio       *string `json:"bio"`
	CreatedAt string  `json:"createdAt"`
}

type tweetWire struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	AuthorID  string `json:"authorId"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	Author    struct {
		ID       string  `json:"id"`
		Username string  `json:"username"`
		Avatar   *string `json:"avatar"`
	} `json:"author"`
	Likes []struct {
		UserID string `json:"userId"`
	} `json:"likes"`
	Count struct {
		Likes *int `json:"likes"`
	} `json:"_count"`
}

// --- Auth responses ---

// parseUser parses GET /auth/me, which answers either {user: {...}} or a
// bare user object.
func parseUser(body []byte) (*User, error) {
	var env struct {
		User *userWire `json:"user"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	if env.User != nil {
		return convertUser(*env.User)
	}
	var bare userWire
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return convertUser(bare)
}

// parseLogin parses the POST /auth/login response.
func parseLogin(body []byte) (*AuthResult, error) {
	var raw struct {
		User        *userWire `json:"user"`
		AccessToken string    `json:"accessToken"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal login: %w", err)
	}
	if raw.AccessToken == "" {
		return nil, fmt.Errorf("login returned empty access token")
	}
	res := &AuthResult{Token: raw.AccessToken}
	if raw.User != nil {
		u, err := convertUser(*raw.User)
		if err != nil {
			return nil, err
		}
		res.User = u
	}
	return res, nil
}

// parseAccessToken parses the POST /auth/refresh response.
func parseAccessToken(body []byte) (string, error) {
	var raw struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("unmarshal refresh: %w", err)
	}
	if raw.AccessToken == "" {
		return "", fmt.Errorf("refresh returned empty access token")
	}
	return raw.AccessToken, nil
}

func convertUser(w userWire) (*User, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("empty user id")
	}
	return &User{
		ID:        w.ID,
		Email:     w.Email,
		Username:  w.Username,
		Avatar:    deref(w.Avatar),
		Bio:       deref(w.Bio),
		CreatedAt: parseTime(w.CreatedAt),
	}, nil
}

// --- Tweet responses ---

// pageShape tags the two forms the listing endpoint answers with.
type pageShape int

const (
	shapeEnvelope pageShape = iota // {"tweets": [...], "nextCursor": ...}
	shapeArray                     // [...]
)

func detectPageShape(body []byte) pageShape {
	if b := bytes.TrimLeft(body, " \t\r\n"); len(b) > 0 && b[0] == '[' {
		return shapeArray
	}
	return shapeEnvelope
}

// parseTweetPage normalizes both listing shapes into one TweetPage. A bare
// array never has a next page.
func parseTweetPage(body []byte) (*TweetPage, error) {
	var wires []tweetWire
	var cursor string

	switch detectPageShape(body) {
	case shapeArray:
		if err := json.Unmarshal(body, &wires); err != nil {
			return nil, fmt.Errorf("unmarshal tweet list: %w", err)
		}
	case shapeEnvelope:
		var env struct {
			Tweets     []tweetWire `json:"tweets"`
			NextCursor *string     `json:"nextCursor"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("unmarshal tweet page: %w", err)
		}
		wires = env.Tweets
		cursor = deref(env.NextCursor)
	}

	page := &TweetPage{Tweets: make([]Tweet, 0, len(wires)), NextCursor: cursor}
	for _, w := range wires {
		t, err := convertTweet(w)
		if err != nil {
			slog.Debug("skip tweet parse error", slog.Any("error", err))
			continue
		}
		page.Tweets = append(page.Tweets, *t)
	}
	return page, nil
}

// parseTweet parses a single tweet returned by create or update.
func parseTweet(body []byte) (*Tweet, error) {
	var w tweetWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("unmarshal tweet: %w", err)
	}
	return convertTweet(w)
}

// parseLikeResult parses the POST /tweets/:id/like response.
func parseLikeResult(body []byte) (*LikeResult, error) {
	var raw struct {
		Liked      *bool `json:"liked"`
		LikesCount int   `json:"likesCount"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal like: %w", err)
	}
	if raw.Liked == nil {
		return nil, fmt.Errorf("like response missing liked: %s", truncateBytes(body, 300))
	}
	return &LikeResult{Liked: *raw.Liked, LikeCount: raw.LikesCount}, nil
}

func convertTweet(w tweetWire) (*Tweet, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("empty tweet id")
	}
	t := &Tweet{
		ID:        w.ID,
		Content:   w.Content,
		AuthorID:  w.AuthorID,
		CreatedAt: parseTime(w.CreatedAt),
		UpdatedAt: parseTime(w.UpdatedAt),
		Author: Author{
			ID:       w.Author.ID,
			Username: w.Author.Username,
			Avatar:   deref(w.Author.Avatar),
		},
		Likes: make([]Like, 0, len(w.Likes)),
	}
	if t.AuthorID == "" {
		t.AuthorID = t.Author.ID
	}
	for _, l := range w.Likes {
		t.Likes = append(t.Likes, Like{UserID: l.UserID})
	}
	// _count is omitted by some list variants; fall back to the membership.
	if w.Count.Likes != nil {
		t.LikeCount = *w.Count.Likes
	} else {
		t.LikeCount = len(t.Likes)
	}
	return t, nil
}

// parseTime accepts RFC 3339 timestamps with or without fractional seconds.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
