package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lobisloby/Link-Preview-AI/internal/config"
)

// Setup configures the default slog logger based on the provided config.
// This also bridges the standard "log" package via slog.SetDefault.
func Setup(cfg config.LogConfig) {
	slog.SetDefault(New(os.Stderr, cfg))
}

// New builds a logger writing to w.
func New(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
