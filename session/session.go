// Package session holds the signed-in state of a Fluxe client.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	fluxe "github.com/anatolykoptev/go-fluxe"
)

// Service is the subset of *fluxe.Client the machine drives.
type Service interface {
	Register(ctx context.Context, p fluxe.RegisterPayload) error
	Login(ctx context.Context, p fluxe.LoginPayload) (*fluxe.AuthResult, error)
	FetchSelf(ctx context.Context, hasToken bool) (*fluxe.User, error)
	Logout(ctx context.Context) error
}

// Phase is the coarse state of the session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseAuthenticated
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseError:
		return "error"
	}
	return "unknown"
}

// Snapshot is an immutable copy of the session state.
type Snapshot struct {
	User    *fluxe.User
	Token   string
	Loading bool
	Error   string
	Phase   Phase
}

// SignedIn reports whether a token is held.
func (s Snapshot) SignedIn() bool { return s.Token != "" }

type state struct {
	user    *fluxe.User
	token   string
	loading bool
	err     string
}

func (s state) phase() Phase {
	switch {
	case s.loading:
		return PhaseLoading
	case s.err != "":
		return PhaseError
	case s.token != "":
		return PhaseAuthenticated
	}
	return PhaseIdle
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// Machine is the session state machine. It is safe for concurrent use and
// never holds its lock across a service call.
type Machine struct {
	svc Service

	mu         sync.Mutex
	st         state
	subs       []subscriber
	nextID     int
	pending    []Snapshot
	delivering bool
}

// New creates a machine seeded with a previously persisted token ("" if none).
func New(svc Service, token string) *Machine {
	return &Machine{svc: svc, st: state{token: token}}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.phase()
}

// Subscribe registers fn to receive every new snapshot, in the order the
// changes were made. Under concurrent changes a snapshot may arrive after the
// method that caused it has returned; Snapshot is always current. The
// returned func removes fn.
func (m *Machine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// Register creates an account. Success leaves the session signed out.
func (m *Machine) Register(ctx context.Context, p fluxe.RegisterPayload) error {
	m.update(func(s *state) {
		s.loading = true
		s.err = ""
	})
	err := m.svc.Register(ctx, p)
	m.update(func(s *state) {
		s.loading = false
		if err != nil {
			s.err = fluxe.ErrorMessage(err, "Registration failed")
		}
	})
	return err
}

// Login signs in and stores the returned user and token.
func (m *Machine) Login(ctx context.Context, p fluxe.LoginPayload) error {
	m.update(func(s *state) {
		s.loading = true
		s.err = ""
	})
	res, err := m.svc.Login(ctx, p)
	m.update(func(s *state) {
		s.loading = false
		if err != nil {
			s.err = fluxe.ErrorMessage(err, "Invalid credentials")
			return
		}
		s.user = res.User
		s.token = res.Token
	})
	if err == nil {
		slog.Debug("session signed in")
	}
	return err
}

// FetchSelf loads the signed-in user's profile. A failure clears only the
// user; whether the token is still valid is decided by the client's refresh.
func (m *Machine) FetchSelf(ctx context.Context) error {
	hasToken := m.Snapshot().Token != ""
	u, err := m.svc.FetchSelf(ctx, hasToken)
	m.update(func(s *state) {
		if err != nil {
			s.user = nil
			return
		}
		s.user = u
	})
	if err != nil {
		slog.Debug("fetch self failed", slog.Any("error", err))
	}
	return err
}

// Logout signs out. The local session is reset whatever the remote outcome.
func (m *Machine) Logout(ctx context.Context) error {
	err := m.svc.Logout(ctx)
	m.update(func(s *state) {
		*s = state{}
	})
	return err
}

// SetToken applies a token change announced by the client. An empty token
// force-resets the session to signed out.
func (m *Machine) SetToken(token string) {
	m.update(func(s *state) {
		if token == "" {
			s.user = nil
			s.token = ""
			s.loading = false
			return
		}
		s.token = token
	})
}

// ClearError drops the stored error message.
func (m *Machine) ClearError() {
	m.update(func(s *state) { s.err = "" })
}

// update applies fn and notifies subscribers outside the lock. Snapshots are
// delivered one at a time in the order the changes were made: a caller that
// finds a delivery in progress queues its snapshot for that caller to send.
func (m *Machine) update(fn func(*state)) {
	m.mu.Lock()
	fn(&m.st)
	m.pending = append(m.pending, m.snapshotLocked())
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.pending) > 0 {
		snap := m.pending[0]
		m.pending = m.pending[1:]
		subs := slices.Clone(m.subs)
		m.mu.Unlock()

		for _, s := range subs {
			s.fn(snap)
		}
		m.mu.Lock()
	}
	m.pending = nil
	m.delivering = false
	m.mu.Unlock()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		Token:   m.st.token,
		Loading: m.st.loading,
		Error:   m.st.err,
		Phase:   m.st.phase(),
	}
	if m.st.user != nil {
		u := *m.st.user
		snap.User = &u
	}
	return snap
}
