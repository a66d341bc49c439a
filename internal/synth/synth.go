// Package synth builds a LinkPreview for a URL from extracted page metadata,
// model inference and the reliability heuristic.
package synth

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/lobisloby/Link-Preview-AI/internal/extractor"
	"github.com/lobisloby/Link-Preview-AI/internal/inference"
	"github.com/lobisloby/Link-Preview-AI/internal/preview"
	"github.com/lobisloby/Link-Preview-AI/internal/reliability"
)

const (
	wordsPerMinute = 200
	minKeyPointLen = 15
	maxTitleRunes  = 100
	minTitleRunes  = 3
)

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

type Extractor interface {
	Extract(ctx context.Context, url string) extractor.Metadata
}

// Inference is the set of model calls a preview needs. Implementations
// degrade to safe defaults instead of failing.
type Inference interface {
	Summarize(ctx context.Context, text string) string
	Classify(ctx context.Context, text string) preview.Category
	AnalyzeSentiment(ctx context.Context, text string) preview.Sentiment
}

type LanguageDetector interface {
	Detect(text string) string
}

// Synthesizer is safe for concurrent use.
type Synthesizer struct {
	extractor Extractor
	inference Inference
	language  LanguageDetector
	now       func() time.Time
}

// New creates a Synthesizer. lang may be nil, in which case every preview
// reports the default language.
func New(ex Extractor, inf Inference, lang LanguageDetector) *Synthesizer {
	return &Synthesizer{extractor: ex, inference: inf, language: lang, now: time.Now}
}

// WithClock returns a copy of s that timestamps previews with now.
func (s *Synthesizer) WithClock(now func() time.Time) *Synthesizer {
	c := *s
	c.now = now
	return &c
}

// Synthesize builds the preview for rawURL. It never fails: every step has
// a fallback, and a panicking collaborator only loses its own field.
func (s *Synthesizer) Synthesize(ctx context.Context, rawURL string) preview.LinkPreview {
	md := s.extract(ctx, rawURL)
	extracted := md.Text != rawURL

	summary := inference.SummaryUnavailable
	category := preview.CategoryOther
	sentiment := preview.SentimentNeutral

	var g errgroup.Group
	g.Go(guard("summarize", func() { summary = s.inference.Summarize(ctx, md.Text) }))
	g.Go(guard("classify", func() { category = s.inference.Classify(ctx, md.Text) }))
	g.Go(guard("sentiment", func() { sentiment = s.inference.AnalyzeSentiment(ctx, md.Text) }))
	_ = g.Wait()

	// A failed fetch leaves only the URL as content, which is too short to
	// summarize and comes back verbatim.
	if !extracted && summary == rawURL {
		summary = inference.SummaryUnavailable
	}
	if inference.IsFallbackSummary(summary) && md.Description != "" {
		summary = md.Description
	}

	p := preview.LinkPreview{
		URL:         rawURL,
		Title:       pickTitle(rawURL, md, extracted),
		Summary:     summary,
		Description: md.Description,
		SiteName:    md.SiteName,
		Image:       md.Image,
		KeyPoints:   KeyPoints(summary),
		Category:    category,
		Sentiment:   sentiment,
		Reliability: reliability.Score(rawURL, md.Text),
		ReadingTime: ReadingTime(md.Text),
		Language:    s.detectLanguage(md.Text, extracted),
		Timestamp:   s.now().UnixMilli(),
	}
	p.Normalize()
	return p
}

func (s *Synthesizer) extract(ctx context.Context, rawURL string) (md extractor.Metadata) {
	md = extractor.Metadata{Text: rawURL}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("extractor panicked", "url", rawURL, "panic", r)
			md = extractor.Metadata{Text: rawURL}
		}
	}()
	return s.extractor.Extract(ctx, rawURL)
}

func (s *Synthesizer) detectLanguage(text string, extracted bool) string {
	if s.language == nil || !extracted {
		return preview.DefaultLanguage
	}
	if code := s.language.Detect(text); code != "" {
		return code
	}
	return preview.DefaultLanguage
}

// guard adapts fn for errgroup and contains its panics.
func guard(step string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("synthesis step panicked", "step", step, "panic", r)
				err = fmt.Errorf("%s panicked: %v", step, r)
			}
		}()
		fn()
		return nil
	}
}

// KeyPoints splits summary into sentences and keeps the first few that are
// long enough to be meaningful. Summary sentinels produce no key points.
func KeyPoints(summary string) []string {
	if inference.IsFallbackSummary(summary) {
		return []string{}
	}

	points := make([]string, 0, preview.MaxKeyPoints)
	for _, sentence := range sentenceSplit.Split(summary, -1) {
		sentence = strings.TrimSpace(sentence)
		if utf8.RuneCountInString(sentence) < minKeyPointLen {
			continue
		}
		points = append(points, sentence)
		if len(points) == preview.MaxKeyPoints {
			break
		}
	}
	return points
}

// ReadingTime estimates minutes to read text, at least 1.
func ReadingTime(text string) int {
	words := len(strings.Fields(text))
	return max(1, int(math.Ceil(float64(words)/wordsPerMinute)))
}

func pickTitle(rawURL string, md extractor.Metadata, extracted bool) string {
	if md.Title != "" {
		return md.Title
	}
	if extracted {
		for _, line := range strings.Split(md.Text, "\n") {
			line = strings.TrimSpace(line)
			if utf8.RuneCountInString(line) < minTitleRunes {
				continue
			}
			if utf8.RuneCountInString(line) > maxTitleRunes {
				line = string([]rune(line)[:maxTitleRunes])
			}
			return line
		}
	}
	return BareHost(rawURL)
}

// BareHost returns the host of rawURL without a leading "www.", or rawURL
// itself when it has no host.
func BareHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
