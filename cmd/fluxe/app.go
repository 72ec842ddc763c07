package main

import (
	"fmt"
	"io"

	"github.com/anatolykoptev/go-stealth/ratelimit"
	"github.com/prometheus/client_golang/prometheus"

	fluxe "github.com/anatolykoptev/go-fluxe"
	"github.com/anatolykoptev/go-fluxe/metrics"
	"github.com/anatolykoptev/go-fluxe/render"
	"github.com/anatolykoptev/go-fluxe/session"
)

// app is the wired client stack shared by every command.
type app struct {
	cfg      *config
	client   *fluxe.Client
	session  *session.Machine
	metrics  *metrics.Collector
	registry *prometheus.Registry
	out      io.Writer
	in       io.Reader
}

// newApp wires the client, session machine and metrics. transport may be nil
// to use the default browser transport.
func newApp(cfg *config, transport fluxe.Doer, in io.Reader, out io.Writer) (*app, error) {
	a := &app{cfg: cfg, in: in, out: out, registry: prometheus.NewRegistry()}
	a.metrics = metrics.NewCollector(a.registry)

	cc := fluxe.ClientConfig{
		BaseURL:         cfg.APIURL,
		Proxy:           cfg.Proxy,
		Transport:       transport,
		SessionDir:      cfg.SessionDir,
		MetricsHook:     a.metrics.Hook(),
		RefreshSkew:     cfg.RefreshSkew,
		NetworkAttempts: cfg.NetworkAttempts,
		PageSize:        cfg.PageSize,
		// The session machine is created after the client; the closure
		// resolves it at call time.
		OnTokenChanged: func(token string) {
			a.metrics.TokenChanged(token)
			if a.session != nil {
				a.session.SetToken(token)
			}
		},
	}
	if cfg.RateLimit {
		cc.RateLimit = ratelimit.DefaultConfig
	}

	client, err := fluxe.NewClient(cc)
	if err != nil {
		return nil, fmt.Errorf("new client: %w", err)
	}
	a.client = client
	a.session = session.New(client, client.Token())
	return a, nil
}

// renderer returns a renderer for the signed-in viewer, if known.
func (a *app) renderer() *render.Renderer {
	viewer := ""
	if u := a.session.Snapshot().User; u != nil {
		viewer = u.ID
	}
	return render.New(viewer)
}
