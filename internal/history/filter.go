package history

import (
	"strings"
	"time"

	"github.com/godseye/insight/internal/analysis"
)

// Recency windows supported by the query surface.
const (
	WindowWeek  = 7 * 24 * time.Hour
	WindowMonth = 30 * 24 * time.Hour
)

// Filter narrows a history query. Zero values match everything.
type Filter struct {
	// Text matches case-insensitively against title, URL and content.
	Text string
	// Sentiment matches the dominant sentiment class of the stored analysis.
	Sentiment analysis.SentimentClass
	// Credibility matches the credibility status of the stored analysis.
	Credibility analysis.CredibilityStatus
	// Within keeps items newer than now minus the window.
	Within time.Duration
}

func (f Filter) matches(item Item, now time.Time) bool {
	if f.Text != "" {
		needle := strings.ToLower(f.Text)
		if !strings.Contains(strings.ToLower(item.Title), needle) &&
			!strings.Contains(strings.ToLower(item.URL), needle) &&
			!strings.Contains(strings.ToLower(item.Content), needle) {
			return false
		}
	}
	if f.Sentiment != "" {
		if item.Analysis == nil || item.Analysis.Sentiment.Dominant != f.Sentiment {
			return false
		}
	}
	if f.Credibility != "" {
		if item.Analysis == nil || item.Analysis.Credibility.Status != f.Credibility {
			return false
		}
	}
	if f.Within > 0 && item.Timestamp().Before(now.Add(-f.Within)) {
		return false
	}
	return true
}
