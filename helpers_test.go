package fluxe

import (
	"context"
	"io"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://api.test"

type fakeRequest struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    string
}

type fakeResponse struct {
	status  int
	body    string
	headers map[string]string
	err     error
}

// fakeDoer records every request and answers through handler.
type fakeDoer struct {
	mu       sync.Mutex
	requests []fakeRequest
	handler  func(r fakeRequest) fakeResponse
}

func (f *fakeDoer) DoWithHeaderOrderCtx(ctx context.Context, method, rawURL string, headers map[string]string, body io.Reader, _ []string) ([]byte, map[string]string, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, 0, err
	}
	r := fakeRequest{Method: method, Headers: headers}
	if u, err := url.Parse(rawURL); err == nil {
		r.Path = u.Path
		r.Query = u.Query()
	}
	if body != nil {
		b, _ := io.ReadAll(body)
		r.Body = string(b)
	}
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.mu.Unlock()

	// The handler may block; like the browser client, give up when ctx is done.
	ch := make(chan fakeResponse, 1)
	go func() { ch <- f.handler(r) }()
	var resp fakeResponse
	select {
	case <-ctx.Done():
		return nil, nil, 0, ctx.Err()
	case resp = <-ch:
	}
	if resp.err != nil {
		return nil, nil, 0, resp.err
	}
	return []byte(resp.body), resp.headers, resp.status, nil
}

func (f *fakeDoer) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeDoer) all() []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, doer *fakeDoer, token string, opts ...func(*ClientConfig)) *Client {
	t.Helper()
	cfg := ClientConfig{
		BaseURL:    testBaseURL,
		Transport:  doer,
		TokenStore: NewMemoryTokenStore(token),
	}
	for _, o := range opts {
		o(&cfg)
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func bearer(r fakeRequest) string {
	return strings.TrimPrefix(r.Headers["authorization"], "Bearer ")
}

const tweetJSON = `{"id":"t1","content":"hello","authorId":"u1","createdAt":"2026-01-02T03:04:05.000Z","updatedAt":"2026-01-02T03:04:05.000Z","author":{"id":"u1","username":"alice","avatar":null},"likes":[{"userId":"u2"}],"_count":{"likes":1}}`

const userJSON = `{"id":"u1","email":"alice@example.com","username":"alice","avatar":null,"bio":"hi","createdAt":"2026-01-01T00:00:00Z"}`
