package fluxe

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// sessionExpiredMessage is shown when the session could not be renewed.
const sessionExpiredMessage = "Session expired, please log in again"

// refresher coordinates token refreshes: while one is in flight every other
// caller waits for it and observes the same outcome.
type refresher struct {
	group   singleflight.Group
	timeout time.Duration
	fn      func(ctx context.Context) (string, error)
}

func newRefresher(timeout time.Duration, fn func(ctx context.Context) (string, error)) *refresher {
	return &refresher{timeout: timeout, fn: fn}
}

// Do starts a refresh or joins the one in flight. The refresh itself is not
// cancelled by ctx; ctx only bounds how long this caller waits.
func (r *refresher) Do(ctx context.Context) (string, error) {
	ch := r.group.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.fn(rctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			slog.Debug("refresh shared between callers")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &Failure{Kind: NetworkFailure, Err: ctx.Err()}
	}
}

// refreshToken performs one POST /auth/refresh using the transport's ambient
// credentials, then persists and announces the outcome.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	ep := Endpoints["Refresh"]
	slog.Info("refreshing session token")

	token, err := c.requestRefresh(ctx, ep)
	if err != nil {
		fail := &Failure{Kind: AuthFailure, Status: 401, Message: sessionExpiredMessage, Err: err}
		c.setRefreshFailure(fail)
		if cerr := c.clearToken(); cerr != nil {
			slog.Warn("token clear failed", slog.Any("error", cerr))
		}
		c.recordAPICall(ep.Name, false, false)
		slog.Warn("token refresh failed, session reset", slog.Any("error", err))
		c.notifyToken("")
		return "", fail
	}

	if serr := c.setToken(token); serr != nil {
		slog.Warn("token save failed", slog.Any("error", serr))
	}
	c.setRefreshFailure(nil)
	c.recordAPICall(ep.Name, true, false)
	slog.Info("token refreshed", slog.String("prefix", tokenPrefix(token)))
	c.notifyToken(token)
	return token, nil
}

func (c *Client) requestRefresh(ctx context.Context, ep Endpoint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Failure{Kind: NetworkFailure, Err: err}
	}
	// No bearer: the refresh credential travels in the transport's cookie jar.
	headers := apiHeaders("", c.cfg.UserAgent, uuid.NewString())
	body, _, status, err := c.transport.DoWithHeaderOrderCtx(ctx, ep.Method, ep.URL(c.cfg.BaseURL), headers, bytes.NewReader([]byte("{}")), apiHeaderOrder)
	if err != nil {
		return "", &Failure{Kind: NetworkFailure, Err: err}
	}
	if status < 200 || status > 299 {
		return "", classifyResponse(status, body)
	}
	token, err := parseAccessToken(body)
	if err != nil {
		return "", &Failure{Kind: ServerFailure, Status: status, Err: err}
	}
	return token, nil
}
