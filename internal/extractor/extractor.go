// Package extractor fetches a page and derives preview metadata and a plain
// text body from its HTML by scanning tags and attributes.
package extractor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	maxBodySize      = 1 << 20 // 1 MB
	maxTextRunes     = 5000
	maxRedirects     = 3
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "LinkPreviewAI/1.0 (+https://github.com/lobisloby/Link-Preview-AI)"
)

// Metadata is what the extractor derives from a page. On failure every field
// is empty except Text, which holds the requested URL.
type Metadata struct {
	Text        string
	Title       string
	Description string
	Image       string
	SiteName    string
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// Extractor fetches pages over an SSRF-safe HTTP client.
type Extractor struct {
	client    *http.Client
	userAgent string
}

// New creates an Extractor with the default SSRF-safe client.
func New(opts Options) *Extractor {
	return NewWithClient(nil, opts)
}

// NewWithClient creates an Extractor with a custom HTTP client.
// If client is nil, a default SSRF-safe client is used.
func NewWithClient(client *http.Client, opts Options) *Extractor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DialContext: newPublicDialer().DialContext},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Extractor{client: client, userAgent: ua}
}

// Extract fetches url and returns its metadata. It never fails; any network,
// status or content-type problem yields the fallback Metadata{Text: url}.
func (e *Extractor) Extract(ctx context.Context, url string) Metadata {
	body, err := e.fetch(ctx, url)
	if err != nil {
		slog.Debug("extract failed", "url", url, "error", err)
		return Metadata{Text: url}
	}
	return Parse(url, body)
}

func (e *Extractor) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "text/html") {
		return "", fmt.Errorf("unsupported content type %q", ct)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
