package report

import (
	"fmt"
	"strings"
	"time"

	"socialwatch/internal/fetch"
	"socialwatch/internal/schedule"
)

var rule = strings.Repeat("=", 80)
var thin = strings.Repeat("-", 80)

func render(now time.Time, b fetch.Batch, s Summary, all, top []Scored) string {
	var w strings.Builder
	p := func(format string, args ...any) { fmt.Fprintf(&w, format, args...) }

	reddit := s.Platform == schedule.PlatformReddit
	p("%s\n", rule)
	if reddit {
		p("REDDIT ANALYSIS REPORT\n")
		p("Subreddit: r/%s\n", s.Subject)
		if subs, ok := b.Info["subscribers"]; ok {
			p("Subscribers: %v\n", subs)
		}
		if d, ok := b.Info["description"].(string); ok && d != "" {
			p("Description: %s\n", d)
		}
	} else {
		p("TWITTER ANALYSIS REPORT\n")
		p("Username: @%s\n", s.Subject)
	}
	p("Generated: %s\n", now.Format("2006-01-02 15:04:05 UTC"))
	if len(s.Keywords) > 0 {
		p("Keywords: %s\n", strings.Join(s.Keywords, ", "))
	}
	p("Total Items: %d\n", s.ItemCount)
	p("%s\n\n", rule)

	n := float64(s.ItemCount)
	p("SUMMARY STATISTICS\n%s\n", thin)
	if reddit {
		p("Total Score: %d\n", s.Totals.Score)
		p("Total Comments: %d\n", s.Totals.Comments)
		p("Average Score per Post: %.2f\n", float64(s.Totals.Score)/n)
		p("Average Comments per Post: %.2f\n", float64(s.Totals.Comments)/n)
	} else {
		p("Total Likes: %d\n", s.Totals.Likes)
		p("Total Retweets: %d\n", s.Totals.Shares)
		p("Total Replies: %d\n", s.Totals.Replies)
		p("Average Likes per Tweet: %.2f\n", float64(s.Totals.Likes)/n)
		p("Average Retweets per Tweet: %.2f\n", float64(s.Totals.Shares)/n)
	}
	p("Average Engagement: %.2f\n", s.AvgEngagement)
	p("Account Type: %s\n", s.AccountType)
	p("Lead Score: %d/7\n\n", s.LeadScore)

	if len(s.KeywordCounts) > 0 {
		p("KEYWORD ANALYSIS\n%s\n", thin)
		var disq []KeywordCount
		p("Qualified Keywords:\n")
		for _, k := range s.KeywordCounts {
			if !k.Qualified {
				disq = append(disq, k)
				continue
			}
			p("  - %s: %d mentions (%.1f%% of items)\n", k.Keyword, k.Count, k.Percent)
		}
		if len(disq) > 0 {
			p("Disqualified Keywords:\n")
			for _, k := range disq {
				p("  - %s: %d mentions\n", k.Keyword, k.Count)
			}
		}
		p("\n")
	}

	p("ENGAGEMENT ANALYSIS\n%s\n", thin)
	p("Top %d by Engagement:\n", len(top))
	for i, sc := range top {
		p("\n%d. %s\n", i+1, headline(sc.Item))
		if reddit {
			p("   Score: %d | Comments: %d | Upvote Ratio: %.0f%%\n", sc.Item.Metrics.Score, sc.Item.Metrics.Comments, sc.Item.Metrics.UpvoteRatio*100)
		} else {
			p("   Likes: %d | Retweets: %d | Replies: %d\n", sc.Item.Metrics.Likes, sc.Item.Metrics.Shares, sc.Item.Metrics.Replies)
		}
		p("   Engagement Score: %.2f\n", sc.Engagement)
		if sc.Item.URL != "" {
			p("   Link: %s\n", sc.Item.URL)
		}
	}

	p("\n%s\nSENTIMENT ANALYSIS\n%s\n", rule, thin)
	for _, row := range []struct {
		label string
		n     int
	}{{SentimentPositive, s.Sentiment.Positive}, {SentimentNegative, s.Sentiment.Negative}, {SentimentNeutral, s.Sentiment.Neutral}} {
		p("  - %s: %d (%.1f%%)\n", row.label, row.n, float64(row.n)*100/n)
	}
	if s.Opportunities > 0 {
		p("\nLead Opportunities (%d found):\n", s.Opportunities)
		shown := 0
		for _, sc := range all {
			if len(sc.Signals) == 0 {
				continue
			}
			p("  - %s\n    Signals: %s\n", headline(sc.Item), strings.Join(sc.Signals, ", "))
			if shown++; shown == 10 {
				break
			}
		}
	}

	p("\n%s\nDETAILED ITEMS\n%s\n\n", rule, thin)
	for i, sc := range all {
		it := sc.Item
		p("%d. %s\n", i+1, headline(it))
		if !it.CreatedAt.IsZero() {
			p("   Date: %s\n", it.CreatedAt.Format(time.RFC3339))
		}
		if it.Author != "" {
			p("   Author: %s\n", it.Author)
		}
		if reddit && it.Text != "" {
			p("   %s\n", preview(it.Text, 200))
		}
		p("   Sentiment: %s\n", sc.Sentiment)
		if it.URL != "" {
			p("   Link: %s\n", it.URL)
		}
		p("\n")
	}
	return w.String()
}

func headline(it fetch.Item) string {
	if it.Title != "" {
		return it.Title
	}
	return preview(it.Text, 140)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
