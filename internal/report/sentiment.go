package report

import "strings"

const (
	SentimentPositive = "Positive"
	SentimentNegative = "Negative"
	SentimentNeutral  = "Neutral"
)

var (
	positiveWords    = []string{"great", "excellent", "amazing", "love", "best", "awesome", "fantastic", "perfect"}
	negativeWords    = []string{"bad", "terrible", "worst", "hate", "awful", "poor", "disappointing", "issue", "problem"}
	opportunityWords = []string{"looking for", "need", "want", "seeking", "recommend", "suggestion", "help", "advice"}
)

// Analyze classifies text by counting word-list hits and returns any
// opportunity phrases found.
func Analyze(text string) (string, []string) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return SentimentNeutral, nil
	}
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(t, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(t, w) {
			neg++
		}
	}
	var signals []string
	for _, w := range opportunityWords {
		if strings.Contains(t, w) {
			signals = append(signals, w)
		}
	}
	switch {
	case pos > neg:
		return SentimentPositive, signals
	case neg > pos:
		return SentimentNegative, signals
	default:
		return SentimentNeutral, signals
	}
}
