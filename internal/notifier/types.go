package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Message is one notification. Key overrides the dedup key derived from the
// text; an empty Key dedups on priority and text.
type Message struct {
	Priority int
	Text     string
	Key      string
}

// Sender delivers rendered text to a channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}
