// Package inference calls the hosted inference API for summarization,
// zero-shot classification and sentiment analysis.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL             = "https://api-inference.huggingface.co/models"
	DefaultSummarizationModel  = "facebook/bart-large-cnn"
	DefaultClassificationModel = "facebook/bart-large-mnli"
	DefaultSentimentModel      = "cardiffnlp/twitter-roberta-base-sentiment-latest"

	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
	maxResponseSize   = 1 << 20
)

// Models names the model used for each capability.
type Models struct {
	Summarization  string
	Classification string
	Sentiment      string
}

type Options struct {
	BaseURL      string
	Models       Models
	Timeout      time.Duration
	RateLimit    float64 // requests per second; 0 disables limiting
	Burst        int
	MaxRetries   int // retries of 503 answers; 0 uses the default, negative disables
	RetryBackoff time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	http       *http.Client
	keys       KeyProvider
	baseURL    string
	models     Models
	timeout    time.Duration
	limiter    *rate.Limiter
	maxRetries uint64
	backoff    time.Duration
}

// New creates a Client. If httpClient is nil, an instrumented default is used.
func New(httpClient *http.Client, keys KeyProvider, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if keys == nil {
		keys = StaticKey("")
	}

	c := &Client{
		http:    httpClient,
		keys:    keys,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		models:  opts.Models,
		timeout: opts.Timeout,
		backoff: opts.RetryBackoff,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.models.Summarization == "" {
		c.models.Summarization = DefaultSummarizationModel
	}
	if c.models.Classification == "" {
		c.models.Classification = DefaultClassificationModel
	}
	if c.models.Sentiment == "" {
		c.models.Sentiment = DefaultSentimentModel
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}

	switch {
	case opts.MaxRetries > 0:
		c.maxRetries = uint64(opts.MaxRetries)
	case opts.MaxRetries == 0:
		c.maxRetries = defaultMaxRetries
	}

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return c
}

// Models returns the configured model identifiers.
func (c *Client) Models() Models {
	return c.models
}

type request struct {
	Inputs     string         `json:"inputs"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// query posts req to model and decodes the answer into out. The whole call,
// retries included, is bounded by the client timeout.
func (c *Client) query(ctx context.Context, model string, req request, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("load api key: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		body, err := c.post(ctx, model, key, payload)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Loading() {
				return retry.RetryableError(err)
			}
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			var eb errorBody
			if json.Unmarshal(body, &eb) == nil && len(eb.Error) > 0 {
				return parseAPIError(http.StatusOK, body)
			}
			return fmt.Errorf("decode %s response: %w", model, err)
		}
		return nil
	})
}

func (c *Client) post(ctx context.Context, model, key string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+model, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}
