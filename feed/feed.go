// Package feed keeps a paginated, deduplicated tweet feed in sync with the
// Fluxe API.
package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	fluxe "github.com/anatolykoptev/go-fluxe"
)

// Service is the subset of *fluxe.Client the feed drives.
type Service interface {
	ListTweets(ctx context.Context, opts fluxe.ListOptions) (*fluxe.TweetPage, error)
	CreateTweet(ctx context.Context, content string) (*fluxe.Tweet, error)
	UpdateTweet(ctx context.Context, id, content string) (*fluxe.Tweet, error)
	DeleteTweet(ctx context.Context, id string) (string, error)
	ToggleLike(ctx context.Context, id string) (*fluxe.LikeResult, error)
}

// Snapshot is a copy of the feed state. Items never share memory with the
// machine.
type Snapshot struct {
	Items          []fluxe.Tweet
	NextCursor     string // "" when there are no further pages
	Sort           fluxe.SortMode
	Loading        bool
	Creating       bool
	Error          string
	HasFetchedOnce bool
}

// HasMore reports whether another page can be requested.
func (s Snapshot) HasMore() bool { return s.NextCursor != "" }

// Config configures a Machine.
type Config struct {
	// Sort is the initial sort mode. Default: recent.
	Sort fluxe.SortMode

	// PageSize is the listing limit. Zero lets the client pick.
	PageSize int
}

// Machine is the feed state machine. It is safe for concurrent use and never
// holds its lock across a service call.
type Machine struct {
	svc   Service
	limit int

	mu     sync.Mutex
	st     Snapshot
	epoch  uint64 // bumped on sort change; fetches from an older epoch are dropped
	paging bool
	subs   []subscriber
	nextID int

	pending    []Snapshot
	delivering bool
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// New creates an empty feed.
func New(svc Service, cfg Config) *Machine {
	if cfg.Sort == "" {
		cfg.Sort = fluxe.SortRecent
	}
	return &Machine{
		svc:   svc,
		limit: cfg.PageSize,
		st:    Snapshot{Sort: cfg.Sort},
	}
}

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
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

// Fetch loads one page. With a cursor the page is appended; without one it
// replaces the feed, unless it is empty and the feed already has items.
// Errors are only stored while nothing is displayed.
func (m *Machine) Fetch(ctx context.Context, cursor string) error {
	var epoch uint64
	var sort fluxe.SortMode
	m.update(func(s *Snapshot) {
		epoch = m.epoch
		sort = s.Sort
		if len(s.Items) == 0 {
			s.Loading = true
		}
		s.Error = ""
	})

	page, err := m.svc.ListTweets(ctx, fluxe.ListOptions{Cursor: cursor, Limit: m.limit, Sort: sort})

	m.update(func(s *Snapshot) {
		if m.epoch != epoch {
			slog.Debug("dropping fetch from previous sort", slog.String("sort", string(sort)))
			return
		}
		s.Loading = false
		if err != nil {
			if len(s.Items) == 0 {
				s.Error = fluxe.ErrorMessage(err, "Failed to load tweets")
			}
			return
		}
		s.HasFetchedOnce = true
		switch {
		case cursor != "":
			s.Items = appendNew(s.Items, page.Tweets)
			s.NextCursor = page.NextCursor
		case len(page.Tweets) > 0 || len(s.Items) == 0:
			s.Items = appendNew(nil, page.Tweets)
			s.NextCursor = page.NextCursor
		}
	})
	return err
}

// LoadMore fetches the next page if there is one and no page fetch is
// already running. It reports whether a fetch was issued.
func (m *Machine) LoadMore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	cursor := m.st.NextCursor
	if cursor == "" || m.paging || m.st.Loading {
		m.mu.Unlock()
		return false, nil
	}
	m.paging = true
	epoch := m.epoch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.epoch == epoch {
			m.paging = false
		}
		m.mu.Unlock()
	}()
	return true, m.Fetch(ctx, cursor)
}

// Create publishes a tweet. It is prepended only under recent ordering;
// other orderings pick it up on the next fetch.
func (m *Machine) Create(ctx context.Context, content string) error {
	m.update(func(s *Snapshot) { s.Creating = true })

	t, err := m.svc.CreateTweet(ctx, content)

	m.update(func(s *Snapshot) {
		s.Creating = false
		if err != nil {
			s.Error = fluxe.ErrorMessage(err, "Failed to publish tweet")
			return
		}
		if s.Sort == fluxe.SortRecent && indexOf(s.Items, t.ID) < 0 {
			s.Items = append([]fluxe.Tweet{t.Clone()}, s.Items...)
		}
	})
	return err
}

// Update edits a tweet and replaces the local entry with the server's copy.
func (m *Machine) Update(ctx context.Context, id, content string) error {
	t, err := m.svc.UpdateTweet(ctx, id, content)

	m.update(func(s *Snapshot) {
		if err != nil {
			s.Error = fluxe.ErrorMessage(err, "Failed to update tweet")
			return
		}
		if i := indexOf(s.Items, t.ID); i >= 0 {
			s.Items[i] = t.Clone()
		}
	})
	return err
}

// Delete removes a tweet and filters it out of the feed.
func (m *Machine) Delete(ctx context.Context, id string) error {
	removed, err := m.svc.DeleteTweet(ctx, id)

	m.update(func(s *Snapshot) {
		if err != nil {
			s.Error = fluxe.ErrorMessage(err, "Failed to delete tweet")
			return
		}
		kept := s.Items[:0]
		for _, t := range s.Items {
			if t.ID != removed {
				kept = append(kept, t)
			}
		}
		s.Items = kept
	})
	return err
}

// ToggleLike flips userID's like on a tweet. Membership and count change
// together, and only once the server has answered.
func (m *Machine) ToggleLike(ctx context.Context, id, userID string) error {
	res, err := m.svc.ToggleLike(ctx, id)

	m.update(func(s *Snapshot) {
		if err != nil {
			s.Error = fluxe.ErrorMessage(err, "Failed to like tweet")
			return
		}
		if i := indexOf(s.Items, id); i >= 0 {
			s.Items[i].ApplyLike(userID, *res)
		}
	})
	return err
}

// SetSort switches the ordering. Pagination state is discarded and page one
// of the new ordering is fetched. Switching to the current mode does nothing.
func (m *Machine) SetSort(ctx context.Context, mode fluxe.SortMode) error {
	changed := false
	m.update(func(s *Snapshot) {
		if s.Sort == mode {
			return
		}
		changed = true
		m.epoch++
		m.paging = false
		*s = Snapshot{Sort: mode, Creating: s.Creating}
	})
	if !changed {
		return nil
	}
	slog.Debug("feed sort changed", slog.String("sort", string(mode)))
	return m.Fetch(ctx, "")
}

// ClearError drops the stored error message.
func (m *Machine) ClearError() {
	m.update(func(s *Snapshot) { s.Error = "" })
}

// update applies fn and notifies subscribers outside the lock. Snapshots are
// delivered one at a time in the order the changes were made: a caller that
// finds a delivery in progress queues its snapshot for that caller to send.
func (m *Machine) update(fn func(*Snapshot)) {
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
	snap := m.st
	snap.Items = make([]fluxe.Tweet, len(m.st.Items))
	for i, t := range m.st.Items {
		snap.Items[i] = t.Clone()
	}
	return snap
}

// appendNew appends the tweets of page whose ids are not yet in items.
func appendNew(items []fluxe.Tweet, page []fluxe.Tweet) []fluxe.Tweet {
	seen := make(map[string]struct{}, len(items)+len(page))
	for _, t := range items {
		seen[t.ID] = struct{}{}
	}
	for _, t := range page {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		items = append(items, t.Clone())
	}
	return items
}

func indexOf(items []fluxe.Tweet, id string) int {
	for i, t := range items {
		if t.ID == id {
			return i
		}
	}
	return -1
}
