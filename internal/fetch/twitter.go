package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"socialwatch/internal/schedule"
	logx "socialwatch/pkg/logx"
)

type TwitterConfig struct {
	BaseURL     string
	BearerToken string
	MaxResults  int
	RatePerSec  float64
	Timeout     time.Duration
}

// Twitter searches recent posts of one account via the v2 API.
type Twitter struct {
	cfg TwitterConfig
	hc  *http.Client
	lim *rate.Limiter
	log logx.Logger
}

func NewTwitter(cfg TwitterConfig, hc *http.Client, log logx.Logger) *Twitter {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.x.com/2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Twitter{
		cfg: cfg,
		hc:  hc,
		lim: newLimiter(cfg.RatePerSec),
		log: log.With(logx.String("comp", "fetch.twitter")),
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		rps = 1
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// SearchQuery builds `from:user` optionally AND-ed with a quoted keyword OR group.
func SearchQuery(username string, keywords []string) string {
	q := "from:" + strings.TrimPrefix(strings.TrimSpace(username), "@")
	if len(keywords) == 0 {
		return q
	}
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		quoted = append(quoted, `"`+strings.ReplaceAll(k, `"`, ``)+`"`)
	}
	return "(" + q + ") (" + strings.Join(quoted, " OR ") + ")"
}

type tweetPayload struct {
	Data     []json.RawMessage `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

type tweet struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AuthorID      string    `json:"author_id"`
	CreatedAt     time.Time `json:"created_at"`
	PublicMetrics struct {
		Like    int `json:"like_count"`
		Retweet int `json:"retweet_count"`
		Reply   int `json:"reply_count"`
		Quote   int `json:"quote_count"`
	} `json:"public_metrics"`
}

func (t *Twitter) Fetch(ctx context.Context, q Query) (Batch, error) {
	fail := func(op string, reached bool, status int, err error) (Batch, error) {
		return Batch{}, &Error{Platform: schedule.PlatformTwitter, Op: op, StatusCode: status, Reached: reached, Err: err}
	}
	if strings.TrimSpace(t.cfg.BearerToken) == "" {
		return fail("search", false, 0, ErrNotConfigured)
	}
	if err := t.lim.Wait(ctx); err != nil {
		return fail("rate", false, 0, err)
	}

	params := url.Values{}
	params.Set("query", SearchQuery(q.Subject, q.Keywords))
	params.Set("max_results", fmt.Sprint(max(10, clampResults(q.Filters.MaxResults, t.cfg.MaxResults))))
	params.Set("tweet.fields", "created_at,public_metrics,text")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username,name")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(t.cfg.BaseURL, "/")+"/tweets/search/recent?"+params.Encode(), nil)
	if err != nil {
		return fail("search", false, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.BearerToken)

	start := time.Now()
	resp, err := t.hc.Do(req)
	if err != nil {
		return fail("search", ctx.Err() == nil, 0, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fail("search", true, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail("search", true, resp.StatusCode, errors.New(truncate(string(body), 300)))
	}

	var p tweetPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return fail("decode", true, resp.StatusCode, err)
	}
	t.log.Debug("search done", logx.String("subject", q.Subject), logx.Int("results", len(p.Data)), logx.Duration("took", time.Since(start)))
	if len(p.Data) == 0 {
		return Batch{}, ErrNoContent
	}

	users := make(map[string]string, len(p.Includes.Users))
	for _, u := range p.Includes.Users {
		users[u.ID] = u.Username
	}
	items := make([]Item, 0, len(p.Data))
	for _, raw := range p.Data {
		var tw tweet
		if err := json.Unmarshal(raw, &tw); err != nil || tw.ID == "" {
			t.log.Warn("skipping undecodable tweet", logx.Err(err))
			continue
		}
		author := users[tw.AuthorID]
		if author == "" {
			author = q.Subject
		}
		items = append(items, Item{
			ID:        "twitter:" + tw.ID,
			Platform:  schedule.PlatformTwitter,
			Author:    author,
			Text:      tw.Text,
			URL:       "https://x.com/" + author + "/status/" + tw.ID,
			CreatedAt: tw.CreatedAt.UTC(),
			Metrics: Engagement{
				Likes:   tw.PublicMetrics.Like,
				Shares:  tw.PublicMetrics.Retweet,
				Replies: tw.PublicMetrics.Reply,
				Quotes:  tw.PublicMetrics.Quote,
			},
			Raw: raw,
		})
	}
	if len(items) == 0 {
		return Batch{}, ErrNoContent
	}
	return Batch{Query: q, Items: items, Raw: body, FetchedAt: time.Now().UTC()}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
