package preview

import "strings"

// LinkPreview is one synthesized preview. Values are immutable snapshots:
// the cache overwrites them wholesale rather than mutating in place.
type LinkPreview struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	SiteName    string    `json:"siteName"`
	Image       string    `json:"image"`
	KeyPoints   []string  `json:"keyPoints"`
	Category    Category  `json:"category"`
	Sentiment   Sentiment `json:"sentiment"`
	Reliability int       `json:"reliability"`
	ReadingTime int       `json:"readingTime"`
	Language    string    `json:"language"`
	Timestamp   int64     `json:"timestamp"`
}

const (
	// MaxKeyPoints bounds LinkPreview.KeyPoints.
	MaxKeyPoints = 3
	// DefaultLanguage is reported when no language could be detected.
	DefaultLanguage = "en"
)

type Category string

const (
	CategoryNews          Category = "news"
	CategoryTech          Category = "tech"
	CategorySocial        Category = "social"
	CategoryShopping      Category = "shopping"
	CategoryEntertainment Category = "entertainment"
	CategoryEducation     Category = "education"
	CategoryBusiness      Category = "business"
	CategoryHealth        Category = "health"
	CategoryTravel        Category = "travel"
	CategoryOther         Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryNews, CategoryTech, CategorySocial, CategoryShopping, CategoryEntertainment,
	CategoryEducation, CategoryBusiness, CategoryHealth, CategoryTravel, CategoryOther,
}

// Valid reports whether c is one of the enumerated categories.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ParseCategory returns the category named by s, or CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return CategoryOther
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentMixed    Sentiment = "mixed"
)

// Valid reports whether s is one of the enumerated sentiments.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentMixed:
		return true
	}
	return false
}

// ParseSentiment returns the sentiment named by s, or SentimentNeutral.
func ParseSentiment(s string) Sentiment {
	v := Sentiment(strings.ToLower(strings.TrimSpace(s)))
	if v.Valid() {
		return v
	}
	return SentimentNeutral
}

// Normalize repairs a preview read back from storage so the enum, range and
// length invariants hold even if the stored form was written by an older build.
func (p *LinkPreview) Normalize() {
	p.Category = ParseCategory(string(p.Category))
	p.Sentiment = ParseSentiment(string(p.Sentiment))
	p.Reliability = ClampReliability(p.Reliability)
	if len(p.KeyPoints) > MaxKeyPoints {
		p.KeyPoints = p.KeyPoints[:MaxKeyPoints]
	}
	if p.KeyPoints == nil {
		p.KeyPoints = []string{}
	}
	if p.ReadingTime < 1 {
		p.ReadingTime = 1
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
}

// ClampReliability bounds a score to [0, 100].
func ClampReliability(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
