// Package collect writes fetched items into the deduplicated item store.
package collect

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"socialwatch/internal/fetch"
	"socialwatch/internal/storage"
	logx "socialwatch/pkg/logx"
)

// ItemWriter is the slice of storage.Store the ingester needs.
type ItemWriter interface {
	InsertItems(ctx context.Context, items []storage.CollectedItem) (int, error)
}

type Ingester struct {
	store ItemWriter
	log   logx.Logger
	now   func() time.Time
}

func NewIngester(store ItemWriter, log logx.Logger) *Ingester {
	return &Ingester{store: store, log: log.With(logx.String("comp", "collect")), now: time.Now}
}

// Ingest stores items the store has never seen. The first write of an item
// id wins; later copies, including duplicates inside items, are dropped.
func (g *Ingester) Ingest(ctx context.Context, subject string, items []fetch.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	now := g.now().UTC()
	seen := make(map[string]struct{}, len(items))
	rows := make([]storage.CollectedItem, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		metrics, _ := json.Marshal(it.Metrics)
		text := it.Text
		if it.Title != "" {
			text = strings.TrimSpace(it.Title + "\n\n" + it.Text)
		}
		rows = append(rows, storage.CollectedItem{
			ItemID:      id,
			Subject:     subject,
			Platform:    it.Platform,
			Author:      it.Author,
			Text:        text,
			CreatedAt:   it.CreatedAt,
			Metrics:     metrics,
			Raw:         it.Raw,
			CollectedAt: now,
		})
	}

	added, err := g.store.InsertItems(ctx, rows)
	if err != nil {
		return 0, err
	}
	g.log.Debug("items ingested", logx.String("subject", subject), logx.Int("offered", len(items)), logx.Int("new", added))
	return added, nil
}
