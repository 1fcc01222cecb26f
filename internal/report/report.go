// Package report turns a fetched batch into a text report plus the summary
// metrics stored alongside it.
package report

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"socialwatch/internal/fetch"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
)

var ErrBuild = errors.New("report build failed")

type Builder interface {
	Build(b fetch.Batch) (Built, error)
}

type Built struct {
	Text     string
	Summary  Summary
	Entities storage.Entities
}

type KeywordCount struct {
	Keyword   string  `json:"keyword"`
	Count     int     `json:"count"`
	Percent   float64 `json:"percent"`
	Qualified bool    `json:"qualified"`
}

type Sentiment struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

type Scored struct {
	Item       fetch.Item `json:"item"`
	Engagement float64    `json:"engagement"`
	Sentiment  string     `json:"sentiment"`
	Signals    []string   `json:"signals,omitempty"`
}

type Summary struct {
	Platform      schedule.Platform `json:"platform"`
	Subject       string            `json:"subject"`
	Keywords      []string          `json:"keywords,omitempty"`
	ItemCount     int               `json:"item_count"`
	Totals        fetch.Engagement  `json:"totals"`
	AvgEngagement float64           `json:"avg_engagement"`
	KeywordCounts []KeywordCount    `json:"keyword_counts,omitempty"`
	Sentiment     Sentiment         `json:"sentiment"`
	Opportunities int               `json:"opportunities"`
	AccountType   string            `json:"account_type"`
	LeadScore     int               `json:"lead_score"`
}

// Classification projects the summary onto the stored report columns.
func (s Summary) Classification() storage.Classification {
	return storage.Classification{
		AccountType: s.AccountType,
		LeadScore:   s.LeadScore,
		Positive:    s.Sentiment.Positive,
		Negative:    s.Sentiment.Negative,
		Neutral:     s.Sentiment.Neutral,
	}
}

type Config struct {
	MinKeywordMentions int
	TopN               int
}

type TextBuilder struct {
	cfg Config
	now func() time.Time
}

func NewTextBuilder(cfg Config) *TextBuilder {
	if cfg.MinKeywordMentions <= 0 {
		cfg.MinKeywordMentions = 1
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	return &TextBuilder{cfg: cfg, now: time.Now}
}

func (tb *TextBuilder) Build(b fetch.Batch) (Built, error) {
	if len(b.Items) == 0 {
		return Built{}, errors.Join(ErrBuild, errors.New("no items"))
	}
	if strings.TrimSpace(b.Query.Subject) == "" {
		return Built{}, errors.Join(ErrBuild, errors.New("subject required"))
	}

	scored := make([]Scored, 0, len(b.Items))
	sum := Summary{
		Platform:  b.Query.Platform,
		Subject:   b.Query.Subject,
		Keywords:  b.Query.Keywords,
		ItemCount: len(b.Items),
	}
	var engagement float64
	for _, it := range b.Items {
		sent, signals := Analyze(it.Title + " " + it.Text)
		sc := Scored{Item: it, Engagement: Engagement(it), Sentiment: sent, Signals: signals}
		scored = append(scored, sc)
		engagement += sc.Engagement

		m := it.Metrics
		sum.Totals.Likes += m.Likes
		sum.Totals.Shares += m.Shares
		sum.Totals.Replies += m.Replies
		sum.Totals.Quotes += m.Quotes
		sum.Totals.Score += m.Score
		sum.Totals.Comments += m.Comments

		switch sent {
		case SentimentPositive:
			sum.Sentiment.Positive++
		case SentimentNegative:
			sum.Sentiment.Negative++
		default:
			sum.Sentiment.Neutral++
		}
		if len(signals) > 0 {
			sum.Opportunities++
		}
	}
	sum.AvgEngagement = round2(engagement / float64(len(b.Items)))
	sum.KeywordCounts = countKeywords(b.Items, b.Query.Keywords, tb.cfg.MinKeywordMentions)
	sum.AccountType = accountType(sum)
	sum.LeadScore = leadScore(sum)

	top := append([]Scored(nil), scored...)
	sort.SliceStable(top, func(i, j int) bool { return top[i].Engagement > top[j].Engagement })
	if len(top) > tb.cfg.TopN {
		top = top[:tb.cfg.TopN]
	}

	return Built{
		Text:     render(tb.now().UTC(), b, sum, scored, top),
		Summary:  sum,
		Entities: ExtractEntities(b.Items),
	}, nil
}

// Engagement weights comments and shares above plain votes.
func Engagement(it fetch.Item) float64 {
	m := it.Metrics
	if it.Platform == schedule.PlatformReddit {
		return round2(float64(m.Score) + 3*float64(m.Comments) + 100*m.UpvoteRatio)
	}
	return float64(m.Likes + 2*m.Shares + m.Replies + m.Quotes)
}

func countKeywords(items []fetch.Item, keywords []string, minMentions int) []KeywordCount {
	if len(keywords) == 0 {
		return nil
	}
	out := make([]KeywordCount, 0, len(keywords))
	for _, kw := range keywords {
		needle := strings.ToLower(kw)
		n := 0
		for _, it := range items {
			if strings.Contains(strings.ToLower(it.Title), needle) || strings.Contains(strings.ToLower(it.Text), needle) {
				n++
			}
		}
		out = append(out, KeywordCount{
			Keyword:   kw,
			Count:     n,
			Percent:   round2(float64(n) * 100 / float64(len(items))),
			Qualified: n >= minMentions,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func accountType(s Summary) string {
	if s.Platform == schedule.PlatformReddit {
		return "community"
	}
	switch {
	case s.AvgEngagement >= 500:
		return "influencer"
	case s.AvgEngagement >= 50:
		return "active"
	default:
		return "individual"
	}
}

// leadScore is a 0..7 heuristic over opportunity signals, keyword fit,
// sentiment and engagement.
func leadScore(s Summary) int {
	score := 0
	if s.Opportunities > 0 {
		score++
	}
	if s.ItemCount > 0 && s.Opportunities*4 >= s.ItemCount {
		score++
	}
	if len(s.KeywordCounts) > 0 {
		qualified := 0
		for _, k := range s.KeywordCounts {
			if k.Qualified {
				qualified++
			}
		}
		if qualified > 0 {
			score++
		}
		if qualified == len(s.KeywordCounts) {
			score++
		}
	}
	if s.Sentiment.Positive > s.Sentiment.Negative {
		score++
	}
	if s.AvgEngagement >= 10 {
		score++
	}
	if s.AvgEngagement >= 100 {
		score++
	}
	return score
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
