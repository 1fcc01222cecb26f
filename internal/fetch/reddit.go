package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"socialwatch/internal/schedule"
	logx "socialwatch/pkg/logx"
)

type RedditConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	MaxResults   int
	TimeFilter   string
	RatePerSec   float64
	Timeout      time.Duration
}

// Reddit reads subreddit listings with an app-only OAuth token.
type Reddit struct {
	cfg RedditConfig
	hc  *http.Client
	lim *rate.Limiter
	log logx.Logger
}

var validTimeFilters = map[string]bool{"hour": true, "day": true, "week": true, "month": true, "year": true, "all": true}

// NewReddit builds the client. base carries timeouts and the test transport;
// the token exchange and API calls both go through it.
func NewReddit(cfg RedditConfig, base *http.Client, log logx.Logger) *Reddit {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://oauth.reddit.com"
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		cfg.TokenURL = "https://www.reddit.com/api/v1/access_token"
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "socialwatch/1.0"
	}
	if !validTimeFilters[cfg.TimeFilter] {
		cfg.TimeFilter = "week"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	ua := &http.Client{
		Timeout:   base.Timeout,
		Transport: &userAgentTransport{base: base.Transport, ua: cfg.UserAgent},
	}

	r := &Reddit{cfg: cfg, lim: newLimiter(cfg.RatePerSec), log: log.With(logx.String("comp", "fetch.reddit"))}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		tokCtx := context.WithValue(context.Background(), oauth2.HTTPClient, ua)
		r.hc = cc.Client(tokCtx)
		r.hc.Timeout = ua.Timeout
	}
	return r
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.ua)
	return base.RoundTrip(r)
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	SelfText    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Score       int     `json:"score"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
	Permalink   string  `json:"permalink"`
	Flair       string  `json:"link_flair_text"`
}

type about struct {
	Data struct {
		DisplayName       string `json:"display_name"`
		Subscribers       int    `json:"subscribers"`
		PublicDescription string `json:"public_description"`
	} `json:"data"`
}

// ListingPath returns the search path when keywords are given, hot otherwise.
func ListingPath(sub string, keywords []string, timeFilter string, limit int) string {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(limit))
	v.Set("raw_json", "1")
	if len(keywords) == 0 {
		return "/r/" + url.PathEscape(sub) + "/hot?" + v.Encode()
	}
	v.Set("q", strings.Join(keywords, " OR "))
	v.Set("restrict_sr", "1")
	v.Set("t", timeFilter)
	return "/r/" + url.PathEscape(sub) + "/search?" + v.Encode()
}

func (r *Reddit) Fetch(ctx context.Context, q Query) (Batch, error) {
	fail := func(op string, reached bool, status int, err error) (Batch, error) {
		return Batch{}, &Error{Platform: schedule.PlatformReddit, Op: op, StatusCode: status, Reached: reached, Err: err}
	}
	if r.hc == nil {
		return fail("search", false, 0, ErrNotConfigured)
	}
	if err := r.lim.Wait(ctx); err != nil {
		return fail("rate", false, 0, err)
	}

	tf := r.cfg.TimeFilter
	if validTimeFilters[q.Filters.TimeFilter] {
		tf = q.Filters.TimeFilter
	}
	sub := schedule.NormalizeSubject(schedule.PlatformReddit, q.Subject)
	path := ListingPath(sub, q.Keywords, tf, clampResults(q.Filters.MaxResults, r.cfg.MaxResults))

	body, status, err := r.get(ctx, path)
	if err != nil {
		return fail("listing", ctx.Err() == nil, status, err)
	}
	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return fail("decode", true, status, err)
	}

	items := make([]Item, 0, len(l.Data.Children))
	for _, ch := range l.Data.Children {
		if ch.Kind != "" && ch.Kind != "t3" {
			continue
		}
		var p post
		if err := json.Unmarshal(ch.Data, &p); err != nil || p.ID == "" {
			r.log.Warn("skipping undecodable post", logx.Err(err))
			continue
		}
		author := p.Author
		if author == "" {
			author = "[deleted]"
		}
		items = append(items, Item{
			ID:        "reddit:" + p.ID,
			Platform:  schedule.PlatformReddit,
			Author:    author,
			Title:     p.Title,
			Text:      p.SelfText,
			URL:       "https://reddit.com" + p.Permalink,
			Flair:     p.Flair,
			CreatedAt: time.Unix(int64(p.CreatedUTC), 0).UTC(),
			Metrics:   Engagement{Score: p.Score, Comments: p.NumComments, UpvoteRatio: p.UpvoteRatio},
			Raw:       ch.Data,
		})
	}
	r.log.Debug("listing done", logx.String("subject", sub), logx.Int("results", len(items)))
	if len(items) == 0 {
		return Batch{}, ErrNoContent
	}

	b := Batch{Query: q, Items: items, Raw: body, FetchedAt: time.Now().UTC()}
	// Subreddit info only decorates the report.
	if ab, _, err := r.get(ctx, "/r/"+url.PathEscape(sub)+"/about?raw_json=1"); err == nil {
		var a about
		if json.Unmarshal(ab, &a) == nil && a.Data.DisplayName != "" {
			b.Info = map[string]any{
				"name":        a.Data.DisplayName,
				"subscribers": a.Data.Subscribers,
				"description": a.Data.PublicDescription,
			}
		}
	}
	return b, nil
}

func (r *Reddit) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(r.cfg.BaseURL, "/")+path, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, errors.New(truncate(string(body), 300))
	}
	return body, resp.StatusCode, nil
}
