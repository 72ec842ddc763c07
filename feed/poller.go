package feed

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultMinGap       = 5 * time.Second
)

// Fetcher issues an uncursored feed fetch. *Machine satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, cursor string) error
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Interval between scheduled fetches. Default: 30s.
	Interval time.Duration

	// MinGap is the minimum time between two fetch attempts, whatever
	// triggered them. Default: 5s.
	MinGap time.Duration

	// Now overrides the clock used by the gap check.
	Now func() time.Time
}

func (cfg *PollerConfig) defaults() {
	if cfg.Interval == 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.MinGap == 0 {
		cfg.MinGap = defaultMinGap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// Poller refreshes page one of a feed on start, on a fixed interval and when
// the view becomes visible again.
type Poller struct {
	f        Fetcher
	interval time.Duration
	gate     *rate.Limiter
	now      func() time.Time
	visible  chan struct{}
}

// NewPoller creates a poller driving f.
func NewPoller(f Fetcher, cfg PollerConfig) *Poller {
	cfg.defaults()
	return &Poller{
		f:        f,
		interval: cfg.Interval,
		gate:     rate.NewLimiter(rate.Every(cfg.MinGap), 1),
		now:      cfg.Now,
		visible:  make(chan struct{}, 1),
	}
}

// Poll fetches unless the previous attempt was less than MinGap ago. It
// reports whether a fetch was attempted. Fetch errors are logged only; the
// feed decides whether to surface them.
func (p *Poller) Poll(ctx context.Context) bool {
	if !p.gate.AllowN(p.now(), 1) {
		slog.Debug("poll skipped, too soon after last attempt")
		return false
	}
	if err := p.f.Fetch(ctx, ""); err != nil {
		slog.Debug("poll fetch failed", slog.Any("error", err))
	}
	return true
}

// VisibilityRegained requests an immediate poll from Run. It never blocks.
func (p *Poller) VisibilityRegained() {
	select {
	case p.visible <- struct{}{}:
	default:
	}
}

// Run polls until ctx is done and returns ctx's error.
func (p *Poller) Run(ctx context.Context) error {
	p.Poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		case <-p.visible:
			p.Poll(ctx)
		}
	}
}
