// Package coordinator runs the preview pipeline and answers the extension's
// message protocol. It is the only place where component failures become
// user-facing error strings.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lobisloby/Link-Preview-AI/internal/kvstore"
	"github.com/lobisloby/Link-Preview-AI/internal/preview"
	"github.com/lobisloby/Link-Preview-AI/internal/quota"
	"github.com/lobisloby/Link-Preview-AI/internal/settings"
	"github.com/lobisloby/Link-Preview-AI/internal/sse"
	"github.com/lobisloby/Link-Preview-AI/internal/subscription"
)

// LimitReachedMessage is shown when the daily allowance is spent.
const LimitReachedMessage = "Daily preview limit reached. Upgrade for more previews!"

var (
	errInvalidURL       = errors.New("invalid URL: only http and https links can be previewed")
	errDisabled         = errors.New("link previews are disabled")
	errExcluded         = errors.New("previews are disabled for this domain")
	errQuotaUnavailable = errors.New("usage tracking is unavailable, try again later")
	errCanceled         = errors.New("preview request canceled")
)

type Cache interface {
	Get(ctx context.Context, url string) *preview.LinkPreview
	Set(ctx context.Context, url string, p preview.LinkPreview, ttl time.Duration)
	Clear(ctx context.Context) error
}

type Quota interface {
	Used(ctx context.Context) (int, error)
	CheckLimit(ctx context.Context) (quota.LimitStatus, error)
	IncrementUsage(ctx context.Context) (quota.IncrementResult, error)
	Stats(ctx context.Context) (quota.Stats, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, url string) preview.LinkPreview
}

type Subscriptions interface {
	Get(ctx context.Context) (subscription.Subscription, error)
	Activate(ctx context.Context, key string) (subscription.Subscription, error)
	Deactivate(ctx context.Context) error
}

type Settings interface {
	Get(ctx context.Context) (settings.Settings, error)
	Update(ctx context.Context, patch json.RawMessage) (settings.Settings, error)
}

// Publisher receives events for connected UI surfaces.
type Publisher interface {
	Broadcast(event sse.Event)
}

type Deps struct {
	Cache         Cache
	Quota         Quota
	Synth         Synthesizer
	Subscriptions Subscriptions
	Settings      Settings
	Events        Publisher // optional
}

// PreviewResponse answers GET_PREVIEW.
type PreviewResponse struct {
	Success           bool                 `json:"success"`
	Data              *preview.LinkPreview `json:"data,omitempty"`
	Error             string               `json:"error,omitempty"`
	LimitReached      bool                 `json:"limitReached,omitempty"`
	RemainingPreviews *int                 `json:"remainingPreviews,omitempty"`
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	cache         Cache
	quota         Quota
	synth         Synthesizer
	subscriptions Subscriptions
	settings      Settings
	events        Publisher

	flights singleflight.Group
}

func New(d Deps) *Coordinator {
	return &Coordinator{
		cache:         d.Cache,
		quota:         d.Quota,
		synth:         d.Synth,
		subscriptions: d.Subscriptions,
		settings:      d.Settings,
		events:        d.Events,
	}
}

// GetPreview returns the preview for rawURL, spending one preview from the
// daily allowance unless it is served from cache. Concurrent calls for the
// same URL share one pipeline run. The run is not cancelled with ctx; a
// cancelled caller gets an error while the run completes and caches its
// result.
func (c *Coordinator) GetPreview(ctx context.Context, rawURL string) (resp PreviewResponse) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("preview panicked", "url", rawURL, "panic", r)
			resp = failure(fmt.Errorf("internal error: %v", r))
		}
	}()

	target, ttl, err := c.validate(ctx, rawURL)
	if err != nil {
		return failure(err)
	}

	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(target, func() (any, error) {
		return c.run(detached, target, ttl), nil
	})

	select {
	case <-ctx.Done():
		return failure(errCanceled)
	case res := <-ch:
		return res.Val.(PreviewResponse)
	}
}

// validate checks the URL and the user's preview settings and returns the
// cache key and TTL to use.
func (c *Coordinator) validate(ctx context.Context, rawURL string) (string, time.Duration, error) {
	target := strings.TrimSpace(rawURL)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", 0, errInvalidURL
	}

	prefs, err := c.settings.Get(ctx)
	if err != nil {
		slog.Warn("load settings, using defaults", "error", err)
		prefs = settings.Defaults()
	}
	if !prefs.Enabled {
		return "", 0, errDisabled
	}
	if prefs.Excludes(u.Hostname()) {
		return "", 0, errExcluded
	}
	return target, prefs.CacheTTL(), nil
}

// run executes the pipeline steps in order: quota check, cache lookup,
// quota spend, synthesis, cache write.
func (c *Coordinator) run(ctx context.Context, target string, ttl time.Duration) (resp PreviewResponse) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("preview pipeline panicked", "url", target, "panic", r)
			resp = failure(fmt.Errorf("internal error: %v", r))
		}
	}()

	status, err := c.quota.CheckLimit(ctx)
	if err != nil {
		slog.Error("check limit", "error", err)
		return failure(errQuotaUnavailable)
	}
	if !status.CanUse {
		c.limitReached(status.ResetTime)
		return limitResponse()
	}

	if cached := c.cache.Get(ctx, target); cached != nil {
		remaining := status.Remaining
		return PreviewResponse{Success: true, Data: cached, RemainingPreviews: &remaining}
	}

	inc, err := c.quota.IncrementUsage(ctx)
	if err != nil {
		slog.Error("increment usage", "error", err)
		return failure(errQuotaUnavailable)
	}
	if !inc.Success {
		c.limitReached(status.ResetTime)
		return limitResponse()
	}

	p := c.synth.Synthesize(ctx, target)
	c.cache.Set(ctx, target, p, ttl)

	if inc.LimitReached {
		c.limitReached(status.ResetTime)
	}

	remaining := inc.Remaining
	return PreviewResponse{Success: true, Data: &p, RemainingPreviews: &remaining}
}

func (c *Coordinator) limitReached(resetTime int64) {
	c.publish(sse.EventLimitReached, map[string]int64{"resetTime": resetTime})
}

func (c *Coordinator) publish(eventType string, data any) {
	if c.events == nil {
		return
	}
	c.events.Broadcast(sse.Event{Type: eventType, Data: data})
}

// Forward turns sync-scope changes into SETTINGS_UPDATED and
// SUBSCRIPTION_CHANGED events until changes is closed.
func (c *Coordinator) Forward(ctx context.Context, changes <-chan kvstore.Change) {
	for change := range changes {
		switch change.Key {
		case settings.StorageKey:
			prefs, err := c.settings.Get(ctx)
			if err != nil {
				slog.Warn("load changed settings", "error", err)
				continue
			}
			c.publish(sse.EventSettingsUpdated, prefs)
		case subscription.StorageKey:
			sub, err := c.subscriptions.Get(ctx)
			if err != nil {
				slog.Warn("load changed subscription", "error", err)
				continue
			}
			c.publish(sse.EventSubscriptionChanged, sub)
		}
	}
}

func failure(err error) PreviewResponse {
	return PreviewResponse{Error: err.Error()}
}

func limitResponse() PreviewResponse {
	remaining := 0
	return PreviewResponse{Error: LimitReachedMessage, LimitReached: true, RemainingPreviews: &remaining}
}
