// Package fetch pulls recent content for a subject from a provider.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"socialwatch/internal/schedule"
)

var (
	// ErrNoContent means the provider answered but had nothing for the query.
	ErrNoContent           = errors.New("no content")
	ErrNotConfigured       = errors.New("fetcher not configured")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

type Query struct {
	Platform schedule.Platform
	Subject  string
	Keywords []string
	Filters  Filters
}

type Filters struct {
	MaxResults int    `json:"max_results,omitempty"`
	TimeFilter string `json:"time_filter,omitempty"`
}

type Engagement struct {
	Likes       int     `json:"likes,omitempty"`
	Shares      int     `json:"shares,omitempty"`
	Replies     int     `json:"replies,omitempty"`
	Quotes      int     `json:"quotes,omitempty"`
	Score       int     `json:"score,omitempty"`
	Comments    int     `json:"comments,omitempty"`
	UpvoteRatio float64 `json:"upvote_ratio,omitempty"`
}

type Item struct {
	// ID is "<platform>:<provider id>" so ids stay unique across providers.
	ID        string            `json:"id"`
	Platform  schedule.Platform `json:"platform"`
	Author    string            `json:"author,omitempty"`
	Title     string            `json:"title,omitempty"`
	Text      string            `json:"text"`
	URL       string            `json:"url,omitempty"`
	Flair     string            `json:"flair,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Metrics   Engagement        `json:"metrics"`
	Raw       json.RawMessage   `json:"-"`
}

// Batch is one provider response for a query.
type Batch struct {
	Query     Query
	Items     []Item
	Info      map[string]any
	Raw       json.RawMessage
	FetchedAt time.Time
}

type Fetcher interface {
	Fetch(ctx context.Context, q Query) (Batch, error)
}

// Error wraps a provider failure. Reached is true when a request was actually
// sent, so the attempt counts against the schedule.
type Error struct {
	Platform   schedule.Platform
	Op         string
	StatusCode int
	Reached    bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Platform, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Reached reports whether err came from an attempt that got past local
// preconditions. Errors of unknown shape count as reached.
func Reached(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reached
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Mux routes queries by platform.
type Mux struct {
	fetchers map[schedule.Platform]Fetcher
}

func NewMux() *Mux { return &Mux{fetchers: map[schedule.Platform]Fetcher{}} }

func (m *Mux) Handle(p schedule.Platform, f Fetcher) *Mux {
	m.fetchers[p] = f
	return m
}

func (m *Mux) Fetch(ctx context.Context, q Query) (Batch, error) {
	f, ok := m.fetchers[q.Platform]
	if !ok || f == nil {
		return Batch{}, &Error{Platform: q.Platform, Op: "route", Err: ErrUnsupportedPlatform}
	}
	return f.Fetch(ctx, q)
}

func clampResults(n, def int) int {
	if n <= 0 {
		n = def
	}
	if n > 100 {
		n = 100
	}
	return n
}
