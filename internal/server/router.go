package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lobisloby/Link-Preview-AI/internal/handler"
	"github.com/lobisloby/Link-Preview-AI/internal/ratelimit"
	"github.com/lobisloby/Link-Preview-AI/internal/sse"
)

// EventStreamKind is the rate limit kind of event stream connections.
const EventStreamKind = "EVENTS"

// NewRouter creates a new HTTP router with all routes registered. limiter
// budgets event stream connections and may be nil; message budgets are
// spent by the handler once it knows the message type.
func NewRouter(h *handler.Handler, sseHandler *sse.Handler, limiter *ratelimit.Limiter, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Last-Event-ID"},
			AllowCredentials: false,
			MaxAge:           86400,
		}))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages", h.Messages)
		r.Group(func(r chi.Router) {
			if limiter != nil {
				r.Use(ratelimit.Middleware(limiter, EventStreamKind))
			}
			r.Get("/events", sseHandler.Events)
		})
	})

	return otelhttp.NewHandler(r, "linkpreviewd")
}
