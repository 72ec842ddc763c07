package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	fluxe "github.com/anatolykoptev/go-fluxe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu    sync.Mutex
	lists []fluxe.ListOptions

	list      func(opts fluxe.ListOptions) (*fluxe.TweetPage, error)
	created   *fluxe.Tweet
	updated   *fluxe.Tweet
	like      *fluxe.LikeResult
	mutateErr error
}

func (f *fakeService) ListTweets(_ context.Context, opts fluxe.ListOptions) (*fluxe.TweetPage, error) {
	f.mu.Lock()
	f.lists = append(f.lists, opts)
	f.mu.Unlock()
	return f.list(opts)
}

func (f *fakeService) CreateTweet(context.Context, string) (*fluxe.Tweet, error) {
	return f.created, f.mutateErr
}

func (f *fakeService) UpdateTweet(context.Context, string, string) (*fluxe.Tweet, error) {
	return f.updated, f.mutateErr
}

func (f *fakeService) DeleteTweet(_ context.Context, id string) (string, error) {
	if f.mutateErr != nil {
		return "", f.mutateErr
	}
	return id, nil
}

func (f *fakeService) ToggleLike(context.Context, string) (*fluxe.LikeResult, error) {
	return f.like, f.mutateErr
}

func (f *fakeService) listCalls() []fluxe.ListOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fluxe.ListOptions(nil), f.lists...)
}

func tw(id string) fluxe.Tweet {
	return fluxe.Tweet{ID: id, Content: "tweet " + id}
}

func pageOf(cursor string, ids ...string) *fluxe.TweetPage {
	p := &fluxe.TweetPage{NextCursor: cursor, Tweets: []fluxe.Tweet{}}
	for _, id := range ids {
		p.Tweets = append(p.Tweets, tw(id))
	}
	return p
}

func ids(s Snapshot) []string {
	out := make([]string, 0, len(s.Items))
	for _, t := range s.Items {
		out = append(out, t.ID)
	}
	return out
}

// seeded returns a machine whose first uncursored fetch yields the given page.
func seeded(t *testing.T, svc *fakeService, first *fluxe.TweetPage, sort fluxe.SortMode) *Machine {
	t.Helper()
	next := svc.list
	served := false
	svc.list = func(opts fluxe.ListOptions) (*fluxe.TweetPage, error) {
		if !served {
			served = true
			return first, nil
		}
		return next(opts)
	}
	m := New(svc, Config{Sort: sort, PageSize: 20})
	require.NoError(t, m.Fetch(context.Background(), ""))
	return m
}

func TestFetch_EmptyRefreshKeepsItems(t *testing.T) {
	svc := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return pageOf(""), nil }}
	m := seeded(t, svc, pageOf("", "t1", "t2"), fluxe.SortRecent)

	require.NoError(t, m.Fetch(context.Background(), ""))
	assert.Equal(t, []string{"t1", "t2"}, ids(m.Snapshot()))
}

func TestFetch_EmptyFirstPage(t *testing.T) {
	svc := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return pageOf(""), nil }}
	m := New(svc, Config{})

	require.NoError(t, m.Fetch(context.Background(), ""))
	snap := m.Snapshot()
	assert.Empty(t, snap.Items)
	assert.True(t, snap.HasFetchedOnce)
	assert.False(t, snap.Loading)
}

func TestFetch_NonEmptyRefreshReplaces(t *testing.T) {
	svc := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return pageOf("c9", "t3", "t1"), nil }}
	m := seeded(t, svc, pageOf("c1", "t1", "t2"), fluxe.SortRecent)

	require.NoError(t, m.Fetch(context.Background(), ""))
	snap := m.Snapshot()
	assert.Equal(t, []string{"t3", "t1"}, ids(snap))
	assert.Equal(t, "c9", snap.NextCursor)
}

func TestFetch_CursorAppends(t *testing.T) {
	svc := &fakeService{list: func(opts fluxe.ListOptions) (*fluxe.TweetPage, error) {
		if opts.Cursor == "abc" {
			return pageOf("", "t2"), nil
		}
		return pageOf(""), nil
	}}
	m := seeded(t, svc, pageOf("abc", "t1"), fluxe.SortRecent)

	require.NoError(t, m.Fetch(context.Background(), "abc"))
	snap := m.Snapshot()
	assert.Equal(t, []string{"t1", "t2"}, ids(snap))
	assert.Empty(t, snap.NextCursor)
	assert.False(t, snap.HasMore())
}

func TestFetch_AppendSkipsDuplicates(t *testing.T) {
	svc := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return pageOf("c3", "t2", "t3", "t3"), nil }}
	m := seeded(t, svc, pageOf("c2", "t1", "t2"), fluxe.SortRecent)

	require.NoError(t, m.Fetch(context.Background(), "c2"))
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(m.Snapshot()))
}

func TestFetch_ErrorOnlyStoredWhenEmpty(t *testing.T) {
	fail := &fluxe.Failure{Kind: fluxe.NetworkFailure, Message: "Failed to load tweets"}

	svc := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return nil, fail }}
	m := New(svc, Config{})
	require.Error(t, m.Fetch(context.Background(), ""))
	assert.Equal(t, "Failed to load tweets", m.Snapshot().Error)

	svc2 := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return nil, fail }}
	m2 := seeded(t, svc2, pageOf("", "t1"), fluxe.SortRecent)
	require.Error(t, m2.Fetch(context.Background(), ""))
	snap := m2.Snapshot()
	assert.Empty(t, snap.Error, "polling errors stay silent while items are shown")
	assert.Equal(t, []string{"t1"}, ids(snap))
}

func TestFetch_LoadingOnlyWhileEmpty(t *testing.T) {
	var m *Machine
	var loadingDuring []bool
	svc := &fakeService{}
	svc.list = func(fluxe.ListOptions) (*fluxe.TweetPage, error) {
		loadingDuring = append(loadingDuring, m.Snapshot().Loading)
		return pageOf("", "t1"), nil
	}
	m = New(svc, Config{})

	require.NoError(t, m.Fetch(context.Background(), ""))
	require.NoError(t, m.Fetch(context.Background(), ""))
	assert.Equal(t, []bool{true, false}, loadingDuring)
	assert.False(t, m.Snapshot().Loading)
}

func TestFetch_PassesSortAndLimit(t *testing.T) {
	svc := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return pageOf(""), nil }}
	m := New(svc, Config{Sort: fluxe.SortTrending, PageSize: 7})

	require.NoError(t, m.Fetch(context.Background(), ""))
	assert.Equal(t, []fluxe.ListOptions{{Limit: 7, Sort: fluxe.SortTrending}}, svc.listCalls())
}

func TestSetSort_ResetsPagination(t *testing.T) {
	release := make(chan struct{})
	svc := &fakeService{list: func(opts fluxe.ListOptions) (*fluxe.TweetPage, error) {
		<-release
		return pageOf("", "t9"), nil
	}}
	m := seeded(t, svc, pageOf("x", "t1"), fluxe.SortRecent)

	var first Snapshot
	var once sync.Once
	m.Subscribe(func(s Snapshot) { once.Do(func() { first = s }) })

	done := make(chan error, 1)
	go func() { done <- m.SetSort(context.Background(), fluxe.SortTrending) }()
	close(release)
	require.NoError(t, <-done)

	assert.Empty(t, first.Items)
	assert.Empty(t, first.NextCursor)
	assert.False(t, first.HasFetchedOnce)
	assert.Equal(t, fluxe.SortTrending, first.Sort)

	snap := m.Snapshot()
	assert.Equal(t, []string{"t9"}, ids(snap))
	calls := svc.listCalls()
	assert.Equal(t, fluxe.ListOptions{Limit: 20, Sort: fluxe.SortTrending}, calls[len(calls)-1])
}

func TestSetSort_SameModeIsNoop(t *testing.T) {
	svc := &fakeService{list: func(fluxe.ListOptions) (*fluxe.TweetPage, error) { return pageOf(""), nil }}
	m := seeded(t, svc, pageOf("x", "t1"), fluxe.SortRecent)

	require.NoError(t, m.SetSort(context.Background(), fluxe.SortRecent))
	assert.Len(t, svc.listCalls(), 1)
	assert.Equal(t, []string{"t1"}, ids(m.Snapshot()))
}

func TestSetSort_DropsFetchFromPreviousMode(t *testing.T) {
	recentStarted := make(chan struct{})
	releaseRecent := make(chan struct{})
	svc := &fakeService{list: func(opts fluxe.ListOptions) (*fluxe.TweetPage, error) {
		if opts.Sort == fluxe.SortRecent {
			close(recentStarted)
			<-releaseRecent
			return pageOf("r2", "r1"), nil
		}
		return pageOf("", "tr1"), nil
	}}
	m := New(svc, Config{})

	done := make(chan error, 1)
	go func() { done <- m.Fetch(context.Background(), "") }()
	<-recentStarted

	require.NoError(t, m.SetSort(context.Background(), fluxe.SortTrending))
	close(releaseRecent)
	require.NoError(t, <-done)

	snap := m.Snapshot()
	assert.Equal(t, []string{"tr1"}, ids(snap))
	assert.Empty(t, snap.NextCursor)
	assert.Equal(t, fluxe.SortTrending, snap.Sort)
}

func TestLoadMore(t *testing.T) {
	svc := &fakeService{list: func(opts fluxe.ListOptions) (*fluxe.TweetPage, error) {
		return pageOf("", "t2"), nil
	}}
	m := seeded(t, svc, pageOf("c1", "t1"), fluxe.SortRecent)

	issued, err := m.LoadMore(context.Background())
	require.NoError(t, err)
	assert.True(t, issued)
	assert.Equal(t, []string{"t1", "t2"}, ids(m.Snapshot()))
	assert.Equal(t, "c1", svc.listCalls()[1].Cursor)

	issued, err = m.LoadMore(context.Background())
	require.NoError(t, err)
	assert.False(t, issued, "no cursor left")
}

func TestLoadMore_SingleInFlight(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	svc := &fakeService{list: func(opts fluxe.ListOptions) (*fluxe.TweetPage, error) {
		started <- struct{}{}
		<-release
		return pageOf("", "t2"), nil
	}}
	m := seeded(t, svc, pageOf("c1", "t1"), fluxe.SortRecent)

	done := make(chan struct{})
	go func() {
		_, _ = m.LoadMore(context.Background())
		close(done)
	}()
	<-started

	issued, err := m.LoadMore(context.Background())
	assert.NoError(t, err)
	assert.False(t, issued)

	close(release)
	<-done
	assert.Len(t, svc.listCalls(), 2)
}

func TestCreate_PrependsOnlyUnderRecent(t *testing.T) {
	tests := []struct {
		sort fluxe.SortMode
		want []string
	}{
		{fluxe.SortRecent, []string{"t2", "t1"}},
		{fluxe.SortTrending, []string{"t1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.sort), func(t *testing.T) {
			created := tw("t2")
			svc := &fakeService{created: &created}
			m := seeded(t, svc, pageOf("", "t1"), tt.sort)

			require.NoError(t, m.Create(context.Background(), "hi"))
			snap := m.Snapshot()
			assert.Equal(t, tt.want, ids(snap))
			assert.False(t, snap.Creating)
		})
	}
}

func TestCreate_Failure(t *testing.T) {
	svc := &fakeService{mutateErr: errors.New("boom")}
	m := New(svc, Config{})
	var creating []bool
	m.Subscribe(func(s Snapshot) { creating = append(creating, s.Creating) })

	require.Error(t, m.Create(context.Background(), "hi"))
	snap := m.Snapshot()
	assert.Equal(t, "Failed to publish tweet", snap.Error)
	assert.Equal(t, []bool{true, false}, creating)
}

func TestUpdate_ReplacesWholesale(t *testing.T) {
	updated := fluxe.Tweet{ID: "t1", Content: "edited"}
	svc := &fakeService{updated: &updated}
	first := pageOf("", "t1", "t2")
	first.Tweets[0].LikeCount = 5
	m := seeded(t, svc, first, fluxe.SortRecent)

	require.NoError(t, m.Update(context.Background(), "t1", "edited"))
	snap := m.Snapshot()
	assert.Equal(t, "edited", snap.Items[0].Content)
	assert.Equal(t, 0, snap.Items[0].LikeCount, "no field-by-field merge")
	assert.Equal(t, []string{"t1", "t2"}, ids(snap))
}

func TestDelete(t *testing.T) {
	svc := &fakeService{}
	m := seeded(t, svc, pageOf("", "t1", "t2", "t3"), fluxe.SortRecent)

	require.NoError(t, m.Delete(context.Background(), "t2"))
	assert.Equal(t, []string{"t1", "t3"}, ids(m.Snapshot()))

	svc.mutateErr = &fluxe.Failure{Kind: fluxe.ServerFailure, Status: 403, Message: "Forbidden"}
	require.Error(t, m.Delete(context.Background(), "t1"))
	snap := m.Snapshot()
	assert.Equal(t, []string{"t1", "t3"}, ids(snap))
	assert.Equal(t, "Forbidden", snap.Error)
}

func TestToggleLike_UpdatesMembershipAndCount(t *testing.T) {
	svc := &fakeService{like: &fluxe.LikeResult{Liked: true, LikeCount: 1}}
	m := seeded(t, svc, pageOf("", "t1"), fluxe.SortRecent)

	require.NoError(t, m.ToggleLike(context.Background(), "t1", "u1"))
	got := m.Snapshot().Items[0]
	assert.Equal(t, []fluxe.Like{{UserID: "u1"}}, got.Likes)
	assert.Equal(t, 1, got.LikeCount)

	svc.like = &fluxe.LikeResult{Liked: false, LikeCount: 0}
	require.NoError(t, m.ToggleLike(context.Background(), "t1", "u1"))
	got = m.Snapshot().Items[0]
	assert.Empty(t, got.Likes)
	assert.Equal(t, 0, got.LikeCount)
}

func TestToggleLike_NothingChangesBeforeResponse(t *testing.T) {
	var m *Machine
	var during fluxe.Tweet
	svc := &fakeService{}
	m = seeded(t, svc, pageOf("", "t1"), fluxe.SortRecent)
	svc.mutateErr = errors.New("offline")
	m.Subscribe(func(s Snapshot) { during = s.Items[0] })

	require.Error(t, m.ToggleLike(context.Background(), "t1", "u1"))
	assert.Empty(t, during.Likes)
	assert.Equal(t, 0, during.LikeCount)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	first := pageOf("", "t1")
	first.Tweets[0].Likes = []fluxe.Like{{UserID: "u1"}}
	m := seeded(t, &fakeService{}, first, fluxe.SortRecent)

	snap := m.Snapshot()
	snap.Items[0].Likes[0].UserID = "u9"
	snap.Items[0].Content = "changed"

	again := m.Snapshot()
	assert.Equal(t, "u1", again.Items[0].Likes[0].UserID)
	assert.Equal(t, "tweet t1", again.Items[0].Content)
	first.Tweets[0].Likes[0].UserID = "u7"
	assert.Equal(t, "u1", m.Snapshot().Items[0].Likes[0].UserID, "machine does not alias the service page")
}

func TestSubscribe_DeliveriesDoNotOverlap(t *testing.T) {
	m := New(&fakeService{}, Config{})
	var mu sync.Mutex
	calls := 0
	started := make(chan struct{})
	release := make(chan struct{})
	m.Subscribe(func(Snapshot) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(started)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		m.ClearError()
		close(done)
	}()
	<-started

	m.ClearError()
	mu.Lock()
	assert.Equal(t, 1, calls, "second snapshot waits for the first delivery")
	mu.Unlock()

	close(release)
	<-done
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}
