package fluxe

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Endpoint describes one REST operation of the Fluxe API.
type Endpoint struct {
	Name   string
	Method string
	Path   string // may contain a single %s placeholder for a resource id

	// NoRefresh marks endpoints whose 401 means bad credentials rather than
	// an expired bearer token.
	NoRefresh bool
}

// URL returns the full URL for this endpoint under base.
func (e Endpoint) URL(base string, args ...any) string {
	path := e.Path
	if len(args) > 0 {
		escaped := make([]any, len(args))
		for i, a := range args {
			escaped[i] = url.PathEscape(fmt.Sprint(a))
		}
		path = fmt.Sprintf(e.Path, escaped...)
	}
	return strings.TrimRight(base, "/") + path
}

// Endpoints maps operation names to their method and path.
var Endpoints = map[string]Endpoint{
	"Register":    {Name: "Register", Method: "POST", Path: "/auth/register", NoRefresh: true},
	"Login":       {Name: "Login", Method: "POST", Path: "/auth/login", NoRefresh: true},
	"Refresh":     {Name: "Refresh", Method: "POST", Path: "/auth/refresh", NoRefresh: true},
	"Logout":      {Name: "Logout", Method: "POST", Path: "/auth/logout", NoRefresh: true},
	"Me":          {Name: "Me", Method: "GET", Path: "/auth/me"},
	"ListTweets":  {Name: "ListTweets", Method: "GET", Path: "/tweets"},
	"CreateTweet": {Name: "CreateTweet", Method: "POST", Path: "/tweets"},
	"UpdateTweet": {Name: "UpdateTweet", Method: "PUT", Path: "/tweets/%s"},
	"DeleteTweet": {Name: "DeleteTweet", Method: "DELETE", Path: "/tweets/%s"},
	"LikeTweet":   {Name: "LikeTweet", Method: "POST", Path: "/tweets/%s/like"},
}

// listQuery encodes the tweets listing query string.
func listQuery(opts ListOptions) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Sort != "" {
		q.Set("sort", string(opts.Sort))
	}
	return "?" + q.Encode()
}
