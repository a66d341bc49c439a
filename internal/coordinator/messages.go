package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lobisloby/Link-Preview-AI/internal/sse"
	"github.com/lobisloby/Link-Preview-AI/internal/subscription"
)

// Message types accepted by Dispatch.
const (
	TypeGetPreview        = "GET_PREVIEW"
	TypeCheckLimit        = "CHECK_LIMIT"
	TypeGetStats          = "GET_STATS"
	TypeIncrementUsage    = "INCREMENT_USAGE"
	TypeActivateLicense   = "ACTIVATE_LICENSE"
	TypeDeactivateLicense = "DEACTIVATE_LICENSE"
	TypeGetSettings       = "GET_SETTINGS"
	TypeUpdateSettings    = "UPDATE_SETTINGS"
	TypeCheckSubscription = "CHECK_SUBSCRIPTION"
	TypeClearCache        = "CLEAR_CACHE"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Message is a tagged request from a UI surface.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is the reply shape for operations that report only success.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ActivateResponse answers ACTIVATE_LICENSE.
type ActivateResponse struct {
	Success      bool                       `json:"success"`
	Subscription *subscription.Subscription `json:"subscription,omitempty"`
	Error        string                     `json:"error,omitempty"`
}

// Dispatch routes msg to its handler. The returned error is non-nil only
// for unknown types and malformed payloads; component failures are reported
// inside the response.
func (c *Coordinator) Dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Type {
	case TypeGetPreview:
		u, err := decodeString(msg.Payload, "url")
		if err != nil {
			return nil, err
		}
		return c.GetPreview(ctx, u), nil

	case TypeCheckLimit:
		status, err := c.quota.CheckLimit(ctx)
		if err != nil {
			slog.Error("check limit", "error", err)
		}
		return status, nil

	case TypeGetStats:
		stats, err := c.quota.Stats(ctx)
		if err != nil {
			slog.Error("usage stats", "error", err)
			return Result{Error: errQuotaUnavailable.Error()}, nil
		}
		return stats, nil

	case TypeIncrementUsage:
		inc, err := c.quota.IncrementUsage(ctx)
		if err != nil {
			slog.Error("increment usage", "error", err)
			return inc, nil
		}
		if inc.LimitReached {
			c.limitReached(c.resetTime(ctx))
		}
		return inc, nil

	case TypeActivateLicense:
		key, err := decodeString(msg.Payload, "licenseKey")
		if err != nil {
			return nil, err
		}
		sub, err := c.subscriptions.Activate(ctx, key)
		if err != nil {
			slog.Warn("activate license", "error", err)
			return ActivateResponse{Error: err.Error()}, nil
		}
		return ActivateResponse{Success: true, Subscription: &sub}, nil

	case TypeDeactivateLicense:
		if err := c.subscriptions.Deactivate(ctx); err != nil {
			slog.Warn("deactivate license", "error", err)
			return Result{Error: err.Error()}, nil
		}
		return Result{Success: true}, nil

	case TypeGetSettings:
		prefs, err := c.settings.Get(ctx)
		if err != nil {
			slog.Error("load settings", "error", err)
			return Result{Error: err.Error()}, nil
		}
		return prefs, nil

	case TypeUpdateSettings:
		prefs, err := c.settings.Update(ctx, msg.Payload)
		if err != nil {
			return Result{Error: err.Error()}, nil
		}
		return prefs, nil

	case TypeCheckSubscription:
		sub, err := c.subscriptions.Get(ctx)
		if err != nil {
			slog.Error("load subscription", "error", err)
			return Result{Error: err.Error()}, nil
		}
		used, err := c.quota.Used(ctx)
		if err != nil {
			slog.Warn("load usage", "error", err)
		}
		sub.PreviewsUsed = used
		return sub, nil

	case TypeClearCache:
		if err := c.cache.Clear(ctx); err != nil {
			slog.Error("clear cache", "error", err)
			return Result{Error: err.Error()}, nil
		}
		c.publish(sse.EventCacheCleared, nil)
		return Result{Success: true}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

func (c *Coordinator) resetTime(ctx context.Context) int64 {
	status, _ := c.quota.CheckLimit(ctx)
	return status.ResetTime
}

// decodeString reads a payload that is either a JSON string or an object
// carrying the value under field.
func decodeString(payload json.RawMessage, field string) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
	}

	var s string
	if trimmed[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw, ok := obj[field]
		if !ok {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidPayload, field)
		}
		trimmed = raw
	}
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidPayload, field)
	}
	return s, nil
}
