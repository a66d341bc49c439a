package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lobisloby/Link-Preview-AI/internal/app"
	"github.com/lobisloby/Link-Preview-AI/internal/config"
	"github.com/lobisloby/Link-Preview-AI/internal/database"
	"github.com/lobisloby/Link-Preview-AI/internal/logging"
)

func main() {
	// Check for subcommands before flag parsing
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "migrate":
			runMigrate(os.Args[2:])
			return
		case "preview":
			runPreview(os.Args[2:])
			return
		}
	}

	cfg, _ := loadConfig(os.Args[1:])

	// Create application
	application, err := app.New(cfg)
	if err != nil {
		slog.Error("error creating application", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("received shutdown signal")
		cancel()

		// Give server time to shutdown gracefully
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}()

	// Start application
	if err := application.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

// loadConfig parses flags, loads configuration and sets up logging. It exits
// on error. Positional arguments left after the flags are returned.
func loadConfig(args []string) (*config.Config, []string) {
	flags := config.SetupFlags()
	if err := flags.Parse(args); err != nil {
		slog.Error("error parsing flags", "error", err)
		os.Exit(1)
	}

	configPath, _ := flags.GetString("config")

	cfg, err := config.Load(configPath, flags)
	if err != nil {
		slog.Error("error loading config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log)
	return cfg, flags.Args()
}

// runMigrate handles `linkpreviewd migrate <up|down|status|version|reset>`.
func runMigrate(args []string) {
	cfg, rest := loadConfig(args)
	command := "up"
	if len(rest) > 0 {
		command = rest[0]
	}

	db, err := database.Open(cfg.Database.Path, database.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		slog.Error("error opening database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrationCommand(command); err != nil {
		slog.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
}

// runPreview handles `linkpreviewd preview <url>`: it runs the whole
// pipeline once, spending quota like any other request, and prints the
// response as JSON.
func runPreview(args []string) {
	cfg, rest := loadConfig(args)
	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: linkpreviewd preview [flags] <url>")
		os.Exit(2)
	}

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("error creating application", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resp := application.Coordinator.GetPreview(ctx, rest[0])

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		slog.Error("error writing preview", "error", err)
		os.Exit(1)
	}
	if !resp.Success {
		os.Exit(1)
	}
}
