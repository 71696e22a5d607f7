// Package analysis defines core types shared across subsystems.
package analysis

import "time"

// SentimentClass labels the dominant sentiment of a page.
type SentimentClass string

// Dominant sentiment values.
const (
	SentimentPositive SentimentClass = "positive"
	SentimentNegative SentimentClass = "negative"
	SentimentNeutral  SentimentClass = "neutral"
)

// BiasType labels the political lean of a page.
type BiasType string

// Bias lean values.
const (
	BiasLeft   BiasType = "left"
	BiasCenter BiasType = "center"
	BiasRight  BiasType = "right"
)

// ClaimStatus is the fact-check verdict for a single claim.
type ClaimStatus string

// Claim verdict values.
const (
	ClaimVerified   ClaimStatus = "verified"
	ClaimDisputed   ClaimStatus = "disputed"
	ClaimFalse      ClaimStatus = "false"
	ClaimUnverified ClaimStatus = "unverified"
)

// CredibilityStatus is the coarse source-trust verdict.
type CredibilityStatus string

// Credibility verdict values.
const (
	CredibilityReliable     CredibilityStatus = "reliable"
	CredibilityQuestionable CredibilityStatus = "questionable"
)

// Sentiment holds the per-class sentiment breakdown. Each component is a
// percentage in [0,100]; the components need not sum to 100.
type Sentiment struct {
	Positive   float64            `json:"positive"`
	Negative   float64            `json:"negative"`
	Neutral    float64            `json:"neutral"`
	Dominant   SentimentClass     `json:"dominant"`
	Confidence float64            `json:"confidence"`
	Emotions   map[string]float64 `json:"emotions,omitempty"`
}

// BiasFactors breaks the bias score into its inputs.
type BiasFactors struct {
	Political float64 `json:"political"`
	Emotional float64 `json:"emotional"`
	Factual   float64 `json:"factual"`
}

// Bias describes the detected slant of a page. Overall is in [-1,1] with
// negative values leaning left.
type Bias struct {
	Overall     float64     `json:"overall"`
	Type        BiasType    `json:"type"`
	Confidence  float64     `json:"confidence"`
	Factors     BiasFactors `json:"factors"`
	Explanation string      `json:"explanation"`
}

// Claim is a single fact-checked statement.
type Claim struct {
	Text       string      `json:"text"`
	Status     ClaimStatus `json:"status"`
	Confidence float64     `json:"confidence"`
	Sources    []string    `json:"sources,omitempty"`
}

// FactCheck aggregates claim verdicts for a page.
type FactCheck struct {
	Claims             []Claim `json:"claims"`
	OverallReliability float64 `json:"overallReliability"`
}

// CredibilityFactors records the signals behind a credibility verdict.
type CredibilityFactors struct {
	DomainAgeYears int    `json:"domainAge"`
	HTTPS          bool   `json:"https"`
	Reputation     string `json:"reputation"`
}

// Credibility describes how trustworthy the source appears.
type Credibility struct {
	Status     CredibilityStatus  `json:"status"`
	TrustScore float64            `json:"trustScore"`
	Domain     string             `json:"domain"`
	Factors    CredibilityFactors `json:"factors"`
}

// Result is a completed page analysis. Synthetic marks results produced by
// the local fallback generator rather than the backend; downstream consumers
// must not branch on it.
type Result struct {
	URL             string      `json:"url"`
	Title           string      `json:"title"`
	TimestampMillis int64       `json:"timestampMillis"`
	Summary         string      `json:"summary,omitempty"`
	Sentiment       Sentiment   `json:"sentiment"`
	Bias            Bias        `json:"bias"`
	FactCheck       FactCheck   `json:"factCheck"`
	Credibility     Credibility `json:"credibility"`
	Synthetic       bool        `json:"synthetic,omitempty"`
}

// Request captures one analysis invocation. ContentDigest is derived from the
// extracted page text and is never persisted; it only short-circuits
// redundant work within a session.
type Request struct {
	PageURL       string
	ContentDigest string
}

// DominantSentiment returns the class holding the largest share. Ties resolve
// in positive, negative, neutral order, except that a three-way tie is
// reported as neutral.
func DominantSentiment(positive, negative, neutral float64) SentimentClass {
	if positive == negative && negative == neutral {
		return SentimentNeutral
	}
	max := positive
	if negative > max {
		max = negative
	}
	if neutral > max {
		max = neutral
	}
	switch {
	case positive == max:
		return SentimentPositive
	case negative == max:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// Normalize recomputes derived fields so the result satisfies its own
// invariants regardless of what the backend sent.
func (r *Result) Normalize() {
	r.Sentiment.Positive = clampPercent(r.Sentiment.Positive)
	r.Sentiment.Negative = clampPercent(r.Sentiment.Negative)
	r.Sentiment.Neutral = clampPercent(r.Sentiment.Neutral)
	r.Sentiment.Dominant = DominantSentiment(
		r.Sentiment.Positive,
		r.Sentiment.Negative,
		r.Sentiment.Neutral,
	)
	if r.Bias.Overall < -1 {
		r.Bias.Overall = -1
	}
	if r.Bias.Overall > 1 {
		r.Bias.Overall = 1
	}
}

// HasFalseClaim reports whether any fact-checked claim was ruled false.
func (r Result) HasFalseClaim() bool {
	for _, claim := range r.FactCheck.Claims {
		if claim.Status == ClaimFalse {
			return true
		}
	}
	return false
}

// Timestamp converts TimestampMillis to a time.Time.
func (r Result) Timestamp() time.Time {
	return time.UnixMilli(r.TimestampMillis).UTC()
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
