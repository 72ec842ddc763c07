package fluxe

import (
	"context"
	"log/slog"
	"strings"
)

const (
	registerFailedMessage     = "Registration failed"
	invalidCredentialsMessage = "Invalid credentials"
	logoutFailedMessage       = "Logout failed"
)

// Register creates an account. It does not sign the user in.
func (c *Client) Register(ctx context.Context, p RegisterPayload) error {
	p.Email = strings.TrimSpace(p.Email)
	p.Username = strings.TrimSpace(p.Username)
	if err := validatePayload(p); err != nil {
		return err
	}

	ep := Endpoints["Register"]
	if _, err := c.call(ctx, ep, ep.URL(c.cfg.BaseURL), p); err != nil {
		return withFallback(err, registerFailedMessage)
	}
	slog.Info("account registered", slog.String("username", p.Username))
	return nil
}

// Login exchanges credentials for a bearer token and persists it.
func (c *Client) Login(ctx context.Context, p LoginPayload) (*AuthResult, error) {
	p.Email = strings.TrimSpace(p.Email)
	if err := validatePayload(p); err != nil {
		return nil, err
	}

	ep := Endpoints["Login"]
	body, err := c.call(ctx, ep, ep.URL(c.cfg.BaseURL), p)
	if err != nil {
		return nil, withFallback(err, invalidCredentialsMessage)
	}
	res, err := parseLogin(body)
	if err != nil {
		return nil, withFallback(&Failure{Kind: ServerFailure, Err: err}, invalidCredentialsMessage)
	}

	if err := c.setToken(res.Token); err != nil {
		slog.Warn("token save failed", slog.Any("error", err))
	}
	c.setRefreshFailure(nil)
	attrs := []any{slog.String("prefix", tokenPrefix(res.Token))}
	if res.User != nil {
		attrs = append(attrs, slog.String("user", res.User.Username))
	}
	slog.Info("login successful", attrs...)
	return res, nil
}

// FetchSelf returns the signed-in user. Without a token it answers nil, nil
// and makes no request.
func (c *Client) FetchSelf(ctx context.Context, hasToken bool) (*User, error) {
	if !hasToken {
		return nil, nil
	}
	ep := Endpoints["Me"]
	body, err := c.call(ctx, ep, ep.URL(c.cfg.BaseURL), nil)
	if err != nil {
		return nil, withFallback(err, sessionExpiredMessage)
	}
	u, err := parseUser(body)
	if err != nil {
		return nil, withFallback(&Failure{Kind: ServerFailure, Err: err}, sessionExpiredMessage)
	}
	return u, nil
}

// Logout ends the session. The server call is best effort: the local token
// is cleared whatever the outcome, and a network failure is only logged.
func (c *Client) Logout(ctx context.Context) error {
	ep := Endpoints["Logout"]
	_, callErr := c.call(ctx, ep, ep.URL(c.cfg.BaseURL), struct{}{})

	if err := c.clearToken(); err != nil {
		slog.Warn("token clear failed", slog.Any("error", err))
	}
	c.setRefreshFailure(nil)
	slog.Info("logged out")

	if callErr != nil {
		if IsNetworkFailure(callErr) {
			slog.Warn("logout request failed", slog.Any("error", callErr))
			return nil
		}
		return withFallback(callErr, logoutFailedMessage)
	}
	return nil
}
