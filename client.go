package fluxe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/ratelimit"
)

// Doer sends one HTTP request and returns body, response headers and
// status. It must return once ctx is done. *stealth.BrowserClient satisfies
// it; its cookie jar carries the refresh credential.
type Doer interface {
	DoWithHeaderOrderCtx(ctx context.Context, method, url string, headers map[string]string, body io.Reader, order []string) ([]byte, map[string]string, int, error)
}

// Client is the authenticated Fluxe API client.
type Client struct {
	transport Doer
	tokens    TokenStore
	limiter   *ratelimit.Limiter
	refresher *refresher
	cfg       ClientConfig

	// tokenGen changes on every token write so a 401 can tell whether the
	// token it was sent with has already been replaced.
	tokenGen atomic.Uint64

	mu             sync.Mutex
	lastRefreshErr error
}

// NewClient creates a fully-wired Fluxe client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fluxe: BaseURL is required")
	}
	cfg.defaults()

	transport := cfg.Transport
	if transport == nil {
		opts := []stealth.ClientOption{
			stealth.WithHeaderOrder(apiHeaderOrder),
		}
		if cfg.Proxy != "" {
			opts = append(opts, stealth.WithProxy(cfg.Proxy))
		}
		bc, err := stealth.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("stealth client: %w", err)
		}
		transport = bc
	}

	tokens := cfg.TokenStore
	if tokens == nil {
		tokens = NewFileTokenStore(cfg.SessionDir)
	}

	c := &Client{
		transport: transport,
		tokens:    tokens,
		cfg:       cfg,
	}
	if cfg.RateLimit.RequestsPerWindow > 0 {
		c.limiter = ratelimit.NewLimiter(cfg.RateLimit)
	}
	c.refresher = newRefresher(cfg.RefreshTimeout, c.refreshToken)
	return c, nil
}

// Token returns the persisted bearer token, or "" if none.
func (c *Client) Token() string {
	tok, err := c.tokens.Load()
	if err != nil {
		slog.Warn("token load failed", slog.Any("error", err))
		return ""
	}
	return tok
}

// setToken persists a new bearer token.
func (c *Client) setToken(token string) error {
	err := c.tokens.Save(token)
	c.tokenGen.Add(1)
	return err
}

// clearToken removes the persisted bearer token.
func (c *Client) clearToken() error {
	err := c.tokens.Clear()
	c.tokenGen.Add(1)
	return err
}

// notifyToken forwards a token change to the configured listener.
func (c *Client) notifyToken(token string) {
	if c.cfg.OnTokenChanged != nil {
		c.cfg.OnTokenChanged(token)
	}
}

func (c *Client) setRefreshFailure(err error) {
	c.mu.Lock()
	c.lastRefreshErr = err
	c.mu.Unlock()
}

func (c *Client) refreshFailure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRefreshErr
}

// recordAPICall calls the metrics hook if configured.
func (c *Client) recordAPICall(endpoint string, success, rateLimited bool) {
	if c.cfg.MetricsHook != nil {
		c.cfg.MetricsHook(endpoint, success, rateLimited)
	}
}
