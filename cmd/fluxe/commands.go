package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	fluxe "github.com/anatolykoptev/go-fluxe"
	"github.com/anatolykoptev/go-fluxe/feed"
	"github.com/anatolykoptev/go-fluxe/metrics"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"register", "register --email E --username U [--password P]", cmdRegister},
	{"login", "login --email E [--password P]", cmdLogin},
	{"logout", "logout", cmdLogout},
	{"whoami", "whoami", cmdWhoami},
	{"feed", "feed [--sort recent|trending|following] [--limit N] [--cursor C]", cmdFeed},
	{"post", "post <text>", cmdPost},
	{"edit", "edit <id> <text>", cmdEdit},
	{"delete", "delete <id>", cmdDelete},
	{"like", "like <id>", cmdLike},
	{"watch", "watch [--sort S] [--metrics-addr :9090]", cmdWatch},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

var errUsage = errors.New("usage")

func cmdFlags(name string) *pflag.FlagSet {
	return pflag.NewFlagSet(name, pflag.ContinueOnError)
}

// password returns the flag value, FLUXE_PASSWORD, or the first line of stdin.
func (a *app) password(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("FLUXE_PASSWORD"); env != "" {
		return env, nil
	}
	fmt.Fprint(a.out, "Password: ")
	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := cmdFlags("register")
	email := fs.String("email", "", "account email")
	username := fs.String("username", "", "username")
	pass := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := a.password(*pass)
	if err != nil {
		return err
	}
	if err := a.session.Register(ctx, fluxe.RegisterPayload{Email: *email, Username: *username, Password: pw}); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered @%s. Run `fluxe login` to sign in.\n", *username)
	return nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := cmdFlags("login")
	email := fs.String("email", "", "account email")
	pass := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pw, err := a.password(*pass)
	if err != nil {
		return err
	}
	if err := a.session.Login(ctx, fluxe.LoginPayload{Email: *email, Password: pw}); err != nil {
		return err
	}
	if u := a.session.Snapshot().User; u != nil {
		fmt.Fprintf(a.out, "Signed in as @%s\n", a.renderer().Sanitize(u.Username))
	} else {
		fmt.Fprintln(a.out, "Signed in")
	}
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	err := a.session.Logout(ctx)
	fmt.Fprintln(a.out, "Signed out")
	return err
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	if err := a.session.FetchSelf(ctx); err != nil {
		return err
	}
	return a.renderer().User(a.out, a.session.Snapshot().User)
}

// withViewer loads the signed-in user so tweets render with like state.
func (a *app) withViewer(ctx context.Context) {
	if err := a.session.FetchSelf(ctx); err != nil {
		slog.Debug("viewer unknown", slog.Any("error", err))
	}
}

func cmdFeed(ctx context.Context, a *app, args []string) error {
	fs := cmdFlags("feed")
	sortName := fs.String("sort", "recent", "ordering: recent, trending, following")
	limit := fs.Int("limit", a.cfg.PageSize, "page size")
	cursor := fs.String("cursor", "", "page cursor from a previous listing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sort, err := fluxe.ParseSortMode(*sortName)
	if err != nil {
		return err
	}

	a.withViewer(ctx)
	m := feed.New(a.client, feed.Config{Sort: sort, PageSize: *limit})
	if err := m.Fetch(ctx, *cursor); err != nil {
		return err
	}
	return a.renderer().Feed(a.out, m.Snapshot())
}

func cmdPost(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	t, err := a.client.CreateTweet(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return a.renderer().Tweet(a.out, *t)
}

func cmdEdit(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	t, err := a.client.UpdateTweet(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return a.renderer().Tweet(a.out, *t)
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := a.client.DeleteTweet(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted #%s\n", id)
	return nil
}

func cmdLike(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	res, err := a.client.ToggleLike(ctx, args[0])
	if err != nil {
		return err
	}
	state := "Unliked"
	if res.Liked {
		state = "Liked"
	}
	fmt.Fprintf(a.out, "%s #%s (%d likes)\n", state, args[0], res.LikeCount)
	return nil
}

// pollCounter counts poll fetches for the metrics endpoint.
type pollCounter struct {
	f       feed.Fetcher
	collect *metrics.Collector
}

func (p pollCounter) Fetch(ctx context.Context, cursor string) error {
	p.collect.RecordPoll()
	return p.f.Fetch(ctx, cursor)
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := cmdFlags("watch")
	sortName := fs.String("sort", "recent", "ordering: recent, trending, following")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sort, err := fluxe.ParseSortMode(*sortName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: metrics.Mux(a.registry), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("serving metrics", slog.String("addr", *metricsAddr))
	}

	a.withViewer(ctx)
	r := a.renderer()
	m := feed.New(a.client, feed.Config{Sort: sort, PageSize: a.cfg.PageSize})
	seen := map[string]bool{}
	shownErr := ""
	m.Subscribe(func(s feed.Snapshot) {
		a.metrics.SetFeedItems(len(s.Items))
		if s.Error != "" && s.Error != shownErr {
			shownErr = s.Error
			fmt.Fprintf(a.out, "Error: %s\n", s.Error)
		}
		// Oldest first so the terminal reads top to bottom.
		for i := len(s.Items) - 1; i >= 0; i-- {
			t := s.Items[i]
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			if err := r.Tweet(a.out, t); err != nil {
				slog.Warn("render failed", slog.Any("error", err))
			}
			fmt.Fprintln(a.out)
		}
	})

	p := feed.NewPoller(pollCounter{f: m, collect: a.metrics}, feed.PollerConfig{Interval: a.cfg.PollInterval})

	// SIGCONT after a suspend counts as the view becoming visible again.
	cont := make(chan os.Signal, 1)
	signal.Notify(cont, syscall.SIGCONT)
	defer signal.Stop(cont)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cont:
				p.VisibilityRegained()
			}
		}
	}()

	fmt.Fprintf(a.out, "Watching %s feed, Ctrl-C to stop\n", sort)
	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
