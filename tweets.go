package fluxe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	loadTweetsFailedMessage   = "Failed to load tweets"
	publishTweetFailedMessage = "Failed to publish tweet"
	updateTweetFailedMessage  = "Failed to update tweet"
	deleteTweetFailedMessage  = "Failed to delete tweet"
	likeTweetFailedMessage    = "Failed to like tweet"
)

// ListTweets fetches one page of the feed. A zero Limit uses the configured
// page size.
func (c *Client) ListTweets(ctx context.Context, opts ListOptions) (*TweetPage, error) {
	if opts.Limit <= 0 {
		opts.Limit = c.cfg.PageSize
	}
	ep := Endpoints["ListTweets"]
	body, err := c.call(ctx, ep, ep.URL(c.cfg.BaseURL)+listQuery(opts), nil)
	if err != nil {
		return nil, withFallback(err, loadTweetsFailedMessage)
	}
	page, err := parseTweetPage(body)
	if err != nil {
		return nil, withFallback(&Failure{Kind: ServerFailure, Err: err}, loadTweetsFailedMessage)
	}
	slog.Debug("tweets listed",
		slog.Int("count", len(page.Tweets)),
		slog.String("sort", string(opts.Sort)),
		slog.Bool("more", page.NextCursor != ""),
	)
	return page, nil
}

// CreateTweet publishes a new tweet.
func (c *Client) CreateTweet(ctx context.Context, content string) (*Tweet, error) {
	p := tweetPayload{Content: strings.TrimSpace(content)}
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	ep := Endpoints["CreateTweet"]
	t, err := c.writeTweet(ctx, ep, ep.URL(c.cfg.BaseURL), p)
	if err != nil {
		return nil, withFallback(err, publishTweetFailedMessage)
	}
	slog.Info("tweet published", slog.String("id", t.ID))
	return t, nil
}

// UpdateTweet replaces the content of an existing tweet.
func (c *Client) UpdateTweet(ctx context.Context, id, content string) (*Tweet, error) {
	if id == "" {
		return nil, &Failure{Kind: ValidationFailure, Field: "id", Message: "id is required"}
	}
	p := tweetPayload{Content: strings.TrimSpace(content)}
	if err := validatePayload(p); err != nil {
		return nil, err
	}
	ep := Endpoints["UpdateTweet"]
	t, err := c.writeTweet(ctx, ep, ep.URL(c.cfg.BaseURL, id), p)
	if err != nil {
		return nil, withFallback(err, updateTweetFailedMessage)
	}
	slog.Info("tweet updated", slog.String("id", t.ID))
	return t, nil
}

func (c *Client) writeTweet(ctx context.Context, ep Endpoint, url string, p tweetPayload) (*Tweet, error) {
	body, err := c.call(ctx, ep, url, p)
	if err != nil {
		return nil, err
	}
	t, err := parseTweet(body)
	if err != nil {
		return nil, &Failure{Kind: ServerFailure, Err: fmt.Errorf("%s: %w", ep.Name, err)}
	}
	return t, nil
}

// DeleteTweet removes a tweet and returns its id.
func (c *Client) DeleteTweet(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", &Failure{Kind: ValidationFailure, Field: "id", Message: "id is required"}
	}
	ep := Endpoints["DeleteTweet"]
	if _, err := c.call(ctx, ep, ep.URL(c.cfg.BaseURL, id), nil); err != nil {
		return "", withFallback(err, deleteTweetFailedMessage)
	}
	slog.Info("tweet deleted", slog.String("id", id))
	return id, nil
}

// ToggleLike flips the caller's like on a tweet. The server decides the new
// state and reports the resulting count.
func (c *Client) ToggleLike(ctx context.Context, id string) (*LikeResult, error) {
	if id == "" {
		return nil, &Failure{Kind: ValidationFailure, Field: "id", Message: "id is required"}
	}
	ep := Endpoints["LikeTweet"]
	body, err := c.call(ctx, ep, ep.URL(c.cfg.BaseURL, id), struct{}{})
	if err != nil {
		return nil, withFallback(err, likeTweetFailedMessage)
	}
	res, err := parseLikeResult(body)
	if err != nil {
		return nil, withFallback(&Failure{Kind: ServerFailure, Err: err}, likeTweetFailedMessage)
	}
	return res, nil
}
