// Package render formats Fluxe tweets and feed snapshots for a terminal.
package render

import (
	"fmt"
	"html"
	"io"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	fluxe "github.com/anatolykoptev/go-fluxe"
	"github.com/anatolykoptev/go-fluxe/feed"
)

// TimeAgo returns a compact relative age: "42s", "5min", "3h", "2d", then a
// day and month ("2 Jan") after a week. A zero time renders as "".
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	secs := int(now.Sub(t) / time.Second)
	if secs < 0 {
		secs = 0
	}
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	mins := secs / 60
	if mins < 60 {
		return fmt.Sprintf("%dmin", mins)
	}
	hours := mins / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}
	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}
	return t.Local().Format("2 Jan")
}

// Renderer writes tweets as plain text.
type Renderer struct {
	policy *bluemonday.Policy

	// ViewerID marks tweets the viewer liked or wrote.
	ViewerID string

	// Now is the clock used for relative times.
	Now func() time.Time
}

// New creates a Renderer for the given viewer ("" when signed out).
func New(viewerID string) *Renderer {
	return &Renderer{
		policy:   bluemonday.StrictPolicy(),
		ViewerID: viewerID,
		Now:      time.Now,
	}
}

// Sanitize strips markup and terminal control sequences from user content.
func (r *Renderer) Sanitize(s string) string {
	s = html.UnescapeString(r.policy.Sanitize(s))
	return strings.Map(func(c rune) rune {
		if c == '\n' || c == '\t' {
			return c
		}
		if unicode.IsControl(c) {
			return -1
		}
		return c
	}, s)
}

// Tweet writes one tweet.
func (r *Renderer) Tweet(w io.Writer, t fluxe.Tweet) error {
	header := "@" + r.Sanitize(t.Author.Username)
	if ago := TimeAgo(t.CreatedAt, r.Now()); ago != "" {
		header += " · " + ago
	}
	if !t.UpdatedAt.IsZero() && t.UpdatedAt.After(t.CreatedAt.Add(time.Second)) {
		header += " (edited)"
	}
	if r.ViewerID != "" && t.AuthorID == r.ViewerID {
		header += " [you]"
	}

	heart := "♡"
	if t.LikedBy(r.ViewerID) {
		heart = "♥"
	}

	_, err := fmt.Fprintf(w, "%s  #%s\n%s\n%s %d\n", header, t.ID, indent(r.Sanitize(t.Content)), heart, t.LikeCount)
	return err
}

// Feed writes a feed snapshot, newest state first.
func (r *Renderer) Feed(w io.Writer, s feed.Snapshot) error {
	switch {
	case s.Loading && len(s.Items) == 0:
		_, err := fmt.Fprintln(w, "Loading…")
		return err
	case s.Error != "" && len(s.Items) == 0:
		_, err := fmt.Fprintf(w, "Error: %s\n", s.Error)
		return err
	case s.HasFetchedOnce && len(s.Items) == 0:
		_, err := fmt.Fprintln(w, "No tweets yet.")
		return err
	}

	for i, t := range s.Items {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if err := r.Tweet(w, t); err != nil {
			return err
		}
	}
	if s.HasMore() {
		if _, err := fmt.Fprintf(w, "\n-- more: --cursor %s\n", s.NextCursor); err != nil {
			return err
		}
	}
	return nil
}

// User writes a short profile.
func (r *Renderer) User(w io.Writer, u *fluxe.User) error {
	if u == nil {
		_, err := fmt.Fprintln(w, "Not signed in.")
		return err
	}
	_, err := fmt.Fprintf(w, "@%s <%s>  id=%s\n", r.Sanitize(u.Username), r.Sanitize(u.Email), u.ID)
	if err != nil {
		return err
	}
	if u.Bio != "" {
		_, err = fmt.Fprintln(w, indent(r.Sanitize(u.Bio)))
	}
	return err
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}
