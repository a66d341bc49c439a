// Package app wires the preview pipeline, its storage and the HTTP server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lobisloby/Link-Preview-AI/internal/cache"
	"github.com/lobisloby/Link-Preview-AI/internal/config"
	"github.com/lobisloby/Link-Preview-AI/internal/coordinator"
	"github.com/lobisloby/Link-Preview-AI/internal/database"
	"github.com/lobisloby/Link-Preview-AI/internal/extractor"
	"github.com/lobisloby/Link-Preview-AI/internal/handler"
	"github.com/lobisloby/Link-Preview-AI/internal/inference"
	"github.com/lobisloby/Link-Preview-AI/internal/kvstore"
	"github.com/lobisloby/Link-Preview-AI/internal/language"
	"github.com/lobisloby/Link-Preview-AI/internal/licensing"
	"github.com/lobisloby/Link-Preview-AI/internal/quota"
	"github.com/lobisloby/Link-Preview-AI/internal/ratelimit"
	"github.com/lobisloby/Link-Preview-AI/internal/server"
	"github.com/lobisloby/Link-Preview-AI/internal/settings"
	"github.com/lobisloby/Link-Preview-AI/internal/sse"
	"github.com/lobisloby/Link-Preview-AI/internal/subscription"
	"github.com/lobisloby/Link-Preview-AI/internal/synth"
)

type App struct {
	Config        *config.Config
	DB            *database.DB
	Server        *server.Server
	Hub           *sse.Hub
	Coordinator   *coordinator.Coordinator
	Cache         *cache.Cache
	Subscriptions *subscription.Service
	SyncStore     kvstore.Store
	RateLimiter   *ratelimit.Limiter

	redis *redis.Client
}

func New(cfg *config.Config) (*App, error) {
	// Open database
	db, err := database.Open(cfg.Database.Path, database.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	localStore := kvstore.NewSQLiteStore(db.DB, kvstore.ScopeLocal)

	var (
		syncStore   kvstore.Store
		redisClient *redis.Client
	)
	switch cfg.Storage.SyncBackend {
	case "redis":
		redisClient, err = openRedis(cfg.Storage.RedisURL)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		syncStore = kvstore.NewRedisStore(redisClient, kvstore.ScopeSync)
	default:
		syncStore = kvstore.NewSQLiteStore(db.DB, kvstore.ScopeSync)
	}

	detector, err := language.New(language.Options{
		Enabled:     cfg.Language.Enabled,
		Codes:       cfg.Language.Codes,
		Default:     cfg.Language.Default,
		LowAccuracy: cfg.Language.LowAccuracy,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	inferenceClient := inference.New(nil, &inference.StoreKeyProvider{
		Store:    localStore,
		Fallback: cfg.Inference.APIKey,
	}, inference.Options{
		BaseURL: cfg.Inference.BaseURL,
		Models: inference.Models{
			Summarization:  cfg.Inference.SummaryModel,
			Classification: cfg.Inference.ClassificationModel,
			Sentiment:      cfg.Inference.SentimentModel,
		},
		Timeout:      cfg.Inference.Timeout,
		RateLimit:    cfg.Inference.RateLimit,
		Burst:        cfg.Inference.Burst,
		MaxRetries:   cfg.Inference.MaxRetries,
		RetryBackoff: cfg.Inference.RetryBackoff,
	})

	pageExtractor := extractor.New(extractor.Options{
		Timeout:   cfg.Extractor.Timeout,
		UserAgent: cfg.Extractor.UserAgent,
	})

	subscriptions := subscription.NewService(syncStore, licensing.New(nil, cfg.Licensing.BaseURL), subscription.Limits{
		subscription.TierFree: cfg.Quota.FreeLimit,
		subscription.TierPro:  cfg.Quota.ProLimit,
		subscription.TierTeam: cfg.Quota.TeamLimit,
	})

	previewCache := cache.New(db.DB, cache.Options{
		Capacity:      cfg.Cache.Capacity,
		TTL:           cfg.Cache.TTL,
		BatchEviction: cfg.Cache.BatchEviction,
	})

	hub := sse.NewHub(cfg.Events.ReplaySize)

	coord := coordinator.New(coordinator.Deps{
		Cache:         previewCache,
		Quota:         quota.NewTracker(db.DB, subscriptions),
		Synth:         synth.New(pageExtractor, inferenceClient, detector),
		Subscriptions: subscriptions,
		Settings:      settings.NewService(syncStore),
		Events:        hub,
	})

	// Build rate limiter (nil if disabled)
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		rl := cfg.RateLimit
		limiter = ratelimit.NewLimiter(
			ratelimit.Rule{Kind: coordinator.TypeGetPreview, Limit: rl.Previews.Limit, Window: rl.Previews.Window},
			ratelimit.Rule{Kind: ratelimit.AnyKind, Limit: rl.Messages.Limit, Window: rl.Messages.Window},
			ratelimit.Rule{Kind: server.EventStreamKind, Limit: rl.Events.Limit, Window: rl.Events.Window},
		)
	}

	router := server.NewRouter(handler.New(coord, limiter), sse.NewHandler(hub), limiter, cfg.Server.AllowedOrigins)

	srv, err := server.New(cfg.Server, router)
	if err != nil {
		a := &App{DB: db, redis: redisClient}
		_ = a.Close()
		return nil, err
	}

	return &App{
		Config:        cfg,
		DB:            db,
		Server:        srv,
		Hub:           hub,
		Coordinator:   coord,
		Cache:         previewCache,
		Subscriptions: subscriptions,
		SyncStore:     syncStore,
		RateLimiter:   limiter,
		redis:         redisClient,
	}, nil
}

func openRedis(rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse storage.redis_url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// StartBackground runs the hub and the periodic jobs until ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	go a.Hub.Run(ctx)
	go a.Coordinator.Forward(ctx, a.SyncStore.Watch(ctx))
	go a.announceLimitResets(ctx)

	a.cleanCache(ctx)
	go every(ctx, a.Config.Cache.CleanupInterval, a.cleanCache)

	if interval := a.Config.Licensing.RevalidateInterval; interval > 0 {
		go every(ctx, interval, a.revalidate)
	}

	if a.RateLimiter != nil {
		go every(ctx, 10*time.Minute, func(context.Context) {
			if n := a.RateLimiter.Cleanup(); n > 0 {
				slog.Debug("rate limit budgets expired", "count", n)
			}
		})
	}
}

func (a *App) Start(ctx context.Context) error {
	a.StartBackground(ctx)

	slog.Info("starting link preview backend",
		"addr", a.Server.Addr(),
		"database", a.Config.Database.Path,
		"sync_backend", a.Config.Storage.SyncBackend,
		"tls", a.Server.TLSMode(),
	)

	return a.Server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.Server.Shutdown(ctx); err != nil {
		return err
	}
	return a.Close()
}

// Close releases storage without touching the HTTP server.
func (a *App) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("close redis", "error", err)
		}
	}
	return a.DB.Close()
}

func (a *App) cleanCache(ctx context.Context) {
	n, err := a.Cache.CleanExpired(ctx)
	if err != nil {
		slog.Warn("clean expired previews", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("cleaned expired previews", "count", n)
	}
}

func (a *App) revalidate(ctx context.Context) {
	changed, err := a.Subscriptions.Revalidate(ctx)
	if err != nil {
		slog.Warn("revalidate license", "error", err)
		return
	}
	if changed {
		slog.Info("subscription changed after revalidation")
	}
}

// announceLimitResets broadcasts LIMIT_RESET at each local midnight.
func (a *App) announceLimitResets(ctx context.Context) {
	for {
		next := quota.ResetTime(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			a.Hub.Broadcast(sse.Event{
				Type: sse.EventLimitReset,
				Data: map[string]int64{"resetTime": quota.ResetTime(time.Now()).UnixMilli()},
			})
		}
	}
}

func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
