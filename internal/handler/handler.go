// Package handler exposes the message protocol over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lobisloby/Link-Preview-AI/internal/coordinator"
	"github.com/lobisloby/Link-Preview-AI/internal/ratelimit"
)

// DefaultMaxBodySize bounds a message request body.
const DefaultMaxBodySize = 64 << 10

type Dispatcher interface {
	Dispatch(ctx context.Context, msg coordinator.Message) (any, error)
}

type Handler struct {
	coord       Dispatcher
	limiter     *ratelimit.Limiter
	maxBodySize int64
}

// New creates a Handler. limiter may be nil to accept every message.
func New(coord Dispatcher, limiter *ratelimit.Limiter) *Handler {
	return &Handler{coord: coord, limiter: limiter, maxBodySize: DefaultMaxBodySize}
}

// Messages handles POST /api/messages. The body is a {type, payload}
// message and the response body is the message's reply. Each message
// spends from its type's rate limit budget.
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var msg coordinator.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidJSON, "Invalid JSON body")
		return
	}

	if h.limiter != nil {
		d, ok := h.limiter.Allow(ratelimit.ClientIP(r), msg.Type)
		d.SetHeaders(w.Header())
		if !ok {
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many "+msg.Type+" requests")
			return
		}
	}

	reply, err := h.coord.Dispatch(r.Context(), msg)
	switch {
	case errors.Is(err, coordinator.ErrUnknownMessage):
		writeError(w, http.StatusBadRequest, ErrCodeUnknownMessage, err.Error())
	case errors.Is(err, coordinator.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidPayload, err.Error())
	case err != nil:
		slog.Error("dispatch message", "type", msg.Type, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred")
	default:
		writeJSON(w, http.StatusOK, reply)
	}
}
