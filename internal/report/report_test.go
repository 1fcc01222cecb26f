package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialwatch/internal/fetch"
	"socialwatch/internal/schedule"
)

func redditBatch() fetch.Batch {
	return fetch.Batch{
		Query: fetch.Query{Platform: schedule.PlatformReddit, Subject: "golang", Keywords: []string{"generics", "gc"}},
		Items: []fetch.Item{
			{ID: "reddit:a", Platform: schedule.PlatformReddit, Title: "Looking for advice on generics", Text: "great feature",
				Metrics: fetch.Engagement{Score: 10, Comments: 4, UpvoteRatio: 0.9}},
			{ID: "reddit:b", Platform: schedule.PlatformReddit, Title: "GC issue", Text: "terrible problem",
				Metrics: fetch.Engagement{Score: 100, Comments: 20, UpvoteRatio: 0.5}},
			{ID: "reddit:c", Platform: schedule.PlatformReddit, Title: "Weekly thread", Text: "",
				Metrics: fetch.Engagement{Score: 1}},
		},
		Info: map[string]any{"subscribers": 250000},
	}
}

func TestBuildReddit(t *testing.T) {
	t.Parallel()

	tb := NewTextBuilder(Config{MinKeywordMentions: 1})
	tb.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }

	built, err := tb.Build(redditBatch())
	require.NoError(t, err)

	s := built.Summary
	assert.Equal(t, 3, s.ItemCount)
	assert.Equal(t, 111, s.Totals.Score)
	assert.Equal(t, Sentiment{Positive: 1, Negative: 1, Neutral: 1}, s.Sentiment)
	assert.Equal(t, 1, s.Opportunities)
	assert.Equal(t, "community", s.AccountType)
	require.Len(t, s.KeywordCounts, 2)
	assert.True(t, s.KeywordCounts[0].Qualified)
	assert.True(t, s.KeywordCounts[1].Qualified)
	assert.GreaterOrEqual(t, s.LeadScore, 4)
	assert.LessOrEqual(t, s.LeadScore, 7)

	assert.Contains(t, built.Text, "REDDIT ANALYSIS REPORT")
	assert.Contains(t, built.Text, "Subscribers: 250000")
	assert.Contains(t, built.Text, "Generated: 2024-01-01 09:00:00 UTC")
	assert.Contains(t, built.Text, "Lead Opportunities (1 found)")
	assert.Equal(t, []string{"reddit:a", "reddit:b", "reddit:c"}, built.Entities.IDs)

	cls := s.Classification()
	assert.Equal(t, 1, cls.Positive)
	assert.Equal(t, s.LeadScore, cls.LeadScore)
}

func TestBuildEmptyFails(t *testing.T) {
	t.Parallel()

	_, err := NewTextBuilder(Config{}).Build(fetch.Batch{Query: fetch.Query{Subject: "x"}})
	require.ErrorIs(t, err, ErrBuild)
}

func TestEngagement(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 112.0, Engagement(fetch.Item{Platform: schedule.PlatformReddit, Metrics: fetch.Engagement{Score: 10, Comments: 4, UpvoteRatio: 0.9}}))
	assert.Equal(t, 10.0, Engagement(fetch.Item{Platform: schedule.PlatformTwitter, Metrics: fetch.Engagement{Likes: 5, Shares: 2, Replies: 1}}))
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	s, sig := Analyze("I need a recommendation, this is the best")
	assert.Equal(t, SentimentPositive, s)
	assert.ElementsMatch(t, []string{"need", "recommend"}, sig)

	s, sig = Analyze("")
	assert.Equal(t, SentimentNeutral, s)
	assert.Nil(t, sig)
}

func TestExtractEntities(t *testing.T) {
	t.Parallel()

	e := ExtractEntities([]fetch.Item{
		{ID: "twitter:1", Text: "Ship it #golang with @rob_pike see https://go.dev/blog."},
		{ID: "twitter:2", Text: "again #GoLang mail me at a@b.c"},
	})
	assert.Equal(t, []string{"twitter:1", "twitter:2"}, e.IDs)
	assert.Equal(t, []string{"#golang"}, e.Hashtags)
	assert.Equal(t, []string{"@rob_pike"}, e.Mentions)
	assert.Equal(t, []string{"https://go.dev/blog"}, e.URLs)
}
