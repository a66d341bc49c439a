package inference

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/lobisloby/Link-Preview-AI/internal/preview"
)

const (
	// SummaryUnavailable is returned when the summarization call fails.
	SummaryUnavailable = "Summary unavailable."
	// SummaryEmpty is returned when the model answers without a summary.
	SummaryEmpty = "Unable to generate summary."

	minSummarizeRunes = 200
	maxSummarizeRunes = 3000
	maxSentimentRunes = 500
	maxClassifyRunes  = 3000
)

// CandidateLabels are the zero-shot labels offered to the classifier.
var CandidateLabels = []string{
	"news", "technology", "social media", "shopping", "entertainment",
	"education", "business", "health", "travel", "other",
}

// labelSynonyms maps classifier labels onto categories where the names differ.
var labelSynonyms = map[string]preview.Category{
	"technology":   preview.CategoryTech,
	"social media": preview.CategorySocial,
	"e-commerce":   preview.CategoryShopping,
	"academic":     preview.CategoryEducation,
	"finance":      preview.CategoryBusiness,
	"medical":      preview.CategoryHealth,
	"tourism":      preview.CategoryTravel,
}

// IsFallbackSummary reports whether s is one of the summary sentinels.
func IsFallbackSummary(s string) bool {
	return s == SummaryUnavailable || s == SummaryEmpty
}

// Summarize returns a model summary of text. Short inputs are returned as is.
// It never fails; see SummaryUnavailable and SummaryEmpty.
func (c *Client) Summarize(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minSummarizeRunes {
		return text
	}

	var res SummaryResult
	err := c.query(ctx, c.models.Summarization, request{
		Inputs: truncate(text, maxSummarizeRunes),
		Parameters: map[string]any{
			"max_length": 150,
			"min_length": 30,
			"do_sample":  false,
		},
	}, &res)
	if err != nil {
		slog.Warn("summarization failed", "model", c.models.Summarization, "error", err)
		return SummaryUnavailable
	}

	summary := strings.TrimSpace(res.Text)
	if summary == "" {
		return SummaryEmpty
	}
	return summary
}

// Classify returns the category of text, or other on any failure.
func (c *Client) Classify(ctx context.Context, text string) preview.Category {
	var res ClassificationResult
	err := c.query(ctx, c.models.Classification, request{
		Inputs:     truncate(text, maxClassifyRunes),
		Parameters: map[string]any{"candidate_labels": CandidateLabels},
	}, &res)
	if err != nil {
		slog.Warn("classification failed", "model", c.models.Classification, "error", err)
		return preview.CategoryOther
	}
	return CategoryForLabel(res.Top())
}

// CategoryForLabel maps a classifier label to a Category.
func CategoryForLabel(label string) preview.Category {
	label = strings.ToLower(strings.TrimSpace(label))
	if cat, ok := labelSynonyms[label]; ok {
		return cat
	}
	return preview.ParseCategory(label)
}

// AnalyzeSentiment returns the sentiment of text, or neutral on any failure.
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) preview.Sentiment {
	var res SentimentResult
	err := c.query(ctx, c.models.Sentiment, request{Inputs: truncate(text, maxSentimentRunes)}, &res)
	if err != nil {
		slog.Warn("sentiment analysis failed", "model", c.models.Sentiment, "error", err)
		return preview.SentimentNeutral
	}
	return SentimentForLabel(res.Top())
}

// SentimentForLabel maps a sentiment model label to a Sentiment.
func SentimentForLabel(label string) preview.Sentiment {
	label = strings.ToLower(label)
	switch {
	case strings.Contains(label, "positive"):
		return preview.SentimentPositive
	case strings.Contains(label, "negative"):
		return preview.SentimentNegative
	default:
		return preview.SentimentNeutral
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
