package fluxe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
)

// apiRequest is one logical API call. It survives replays so the retried
// flag caps every call at a single refresh attempt.
type apiRequest struct {
	ep      Endpoint
	url     string
	body    []byte
	retried bool
}

type apiResponse struct {
	body    []byte
	headers map[string]string
	status  int
}

// call executes an API operation and reports it to the metrics hook.
func (c *Client) call(ctx context.Context, ep Endpoint, url string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", ep.Name, err)
		}
		body = b
	}
	req := &apiRequest{ep: ep, url: url, body: body}
	resp, err := c.send(ctx, req)

	var f *Failure
	rateLimited := asFailure(err, &f) && f.RateLimited()
	c.recordAPICall(ep.Name, err == nil, rateLimited)
	return resp, err
}

// send executes a request with bearer attachment and transparent
// refresh-and-replay on 401.
func (c *Client) send(ctx context.Context, req *apiRequest) ([]byte, error) {
	if err := c.checkRateLimit(req.ep.Name); err != nil {
		return nil, err
	}

	// Proactive refresh of a bearer about to expire
	if c.expiresSoon(req) {
		req.retried = true
		slog.Debug("token expiring, refreshing before send", slog.String("endpoint", req.ep.Name))
		if _, err := c.refresher.Do(ctx); err != nil {
			return nil, err
		}
	}

	resp, sentGen, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.status == 401 && !req.retried && !req.ep.NoRefresh {
		req.retried = true
		if err := c.recoverAuth(ctx, req, sentGen); err != nil {
			return nil, err
		}
		resp, _, err = c.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case resp.status >= 200 && resp.status <= 299:
		return resp.body, nil
	case resp.status == 429:
		c.markRateLimited(req.ep.Name, parseRateLimitReset(resp.headers))
	case resp.status >= 500:
		slog.Warn("api non-2xx", slog.String("endpoint", req.ep.Name), slog.Int("status", resp.status), slog.String("body", truncateBytes(resp.body, 500)))
	}
	return nil, classifyResponse(resp.status, resp.body)
}

// recoverAuth makes a valid token available for the replay of req.
func (c *Client) recoverAuth(ctx context.Context, req *apiRequest, sentGen uint64) error {
	if c.tokenGen.Load() != sentGen {
		// The token was replaced or cleared after req went out.
		if c.Token() != "" {
			slog.Debug("token changed since send, replaying", slog.String("endpoint", req.ep.Name))
			return nil
		}
		if err := c.refreshFailure(); err != nil {
			return err
		}
		return &Failure{Kind: AuthFailure, Status: 401, Message: sessionExpiredMessage}
	}

	slog.Info("auth expired, refreshing", slog.String("endpoint", req.ep.Name))
	_, err := c.refresher.Do(ctx)
	return err
}

// expiresSoon reports whether req should refresh before being sent.
func (c *Client) expiresSoon(req *apiRequest) bool {
	if c.cfg.RefreshSkew <= 0 || req.ep.NoRefresh || req.retried {
		return false
	}
	issued, exp, ok := tokenLifetime(c.Token())
	if !ok {
		return false
	}
	skew := c.cfg.RefreshSkew
	// A token living no longer than the skew would refresh on every send.
	if life := exp.Sub(issued); !issued.IsZero() && life > 0 && skew > life/2 {
		skew = life / 2
	}
	return time.Until(exp) < skew
}

// roundTrip sends req once with the current token. It returns the token
// generation observed before the token was read.
func (c *Client) roundTrip(ctx context.Context, req *apiRequest) (*apiResponse, uint64, error) {
	gen := c.tokenGen.Load()
	headers := apiHeaders(c.Token(), c.cfg.UserAgent, uuid.NewString())

	attempt := func() (*apiResponse, error) {
		if err := ctx.Err(); err != nil {
			return nil, &Failure{Kind: NetworkFailure, Err: err}
		}
		var body io.Reader
		if req.body != nil {
			body = bytes.NewReader(req.body)
		}
		respBody, respHdrs, status, err := c.transport.DoWithHeaderOrderCtx(ctx, req.ep.Method, req.url, headers, body, apiHeaderOrder)
		if err != nil {
			return nil, &Failure{Kind: NetworkFailure, Err: err}
		}
		return &apiResponse{body: respBody, headers: lowerKeys(respHdrs), status: status}, nil
	}

	if req.ep.Method != "GET" || c.cfg.NetworkAttempts <= 1 {
		resp, err := attempt()
		return resp, gen, err
	}

	var resp *apiResponse
	var lastErr error
	err := retry.Do(
		func() error {
			r, err := attempt()
			if err != nil {
				lastErr = err
				return err
			}
			resp = r
			return nil
		},
		retry.Attempts(c.cfg.NetworkAttempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(10*c.cfg.RetryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Debug("retrying after network error", slog.String("endpoint", req.ep.Name), slog.Uint64("attempt", uint64(n)), slog.Any("error", err))
		}),
	)
	if err != nil {
		if lastErr != nil {
			return nil, gen, lastErr
		}
		return nil, gen, &Failure{Kind: NetworkFailure, Err: err}
	}
	return resp, gen, nil
}

// checkRateLimit fails fast when the endpoint is locally rate-limited.
func (c *Client) checkRateLimit(endpoint string) error {
	if c.limiter == nil {
		return nil
	}
	if c.limiter.IsRateLimited(endpoint) || !c.limiter.Allow(endpoint) {
		return &Failure{
			Kind:        ServerFailure,
			Status:      429,
			Message:     "Too many requests, try again later",
			rateLimited: true,
		}
	}
	return nil
}

func (c *Client) markRateLimited(endpoint string, until time.Time) {
	slog.Warn("endpoint rate limited", slog.String("endpoint", endpoint), slog.Time("until", until))
	if c.limiter != nil {
		c.limiter.MarkRateLimited(endpoint, until)
	}
}

func asFailure(err error, target **Failure) bool {
	return err != nil && errors.As(err, target)
}

func lowerKeys(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

func truncateBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
