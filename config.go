package fluxe

import (
	"time"

	"github.com/anatolykoptev/go-stealth/ratelimit"
)

// ClientConfig holds all configuration for the Fluxe client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. "http://localhost:3000". Required.
	BaseURL string

	// Proxy is an optional proxy URL for the default transport.
	Proxy string

	// UserAgent overrides the default browser User-Agent.
	UserAgent string

	// Transport overrides the default go-stealth browser client.
	Transport Doer

	// TokenStore persists the bearer token. Default: FileTokenStore under SessionDir.
	TokenStore TokenStore

	// SessionDir overrides the default token persistence directory.
	// Default: ~/.go-fluxe
	SessionDir string

	// OnTokenChanged is called after a refresh settles: with the new token on
	// success, with "" when the refresh failed and the session was reset.
	OnTokenChanged func(token string)

	// RateLimit configures per-endpoint client-side rate limiting.
	// Zero value disables the limiter.
	RateLimit ratelimit.Config

	// MetricsHook is called on each API request for external metrics collection.
	// endpoint is the operation name, success and rateLimited indicate the outcome.
	MetricsHook func(endpoint string, success, rateLimited bool)

	// RefreshTimeout bounds a single /auth/refresh round trip.
	RefreshTimeout time.Duration

	// RefreshSkew enables proactive refresh of JWT bearer tokens expiring
	// within this window. Zero disables it.
	RefreshSkew time.Duration

	// NetworkAttempts is the number of tries for idempotent GETs on network failure.
	NetworkAttempts uint

	// RetryDelay is the initial delay between GET retries.
	RetryDelay time.Duration

	// PageSize is the default tweets page size.
	PageSize int
}

// defaults fills in zero-value config fields with sensible defaults.
func (cfg *ClientConfig) defaults() {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = 15 * time.Second
	}
	if cfg.NetworkAttempts == 0 {
		cfg.NetworkAttempts = 1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 20
	}
}
