package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

func Validate(cfg *Config) error {
	var errs []error

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	if cfg.Server.PublicURL != "" {
		if _, err := url.Parse(cfg.Server.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("server.public_url is not a valid URL: %w", err))
		}
	}

	// Allowed origins validation
	for i, origin := range cfg.Server.AllowedOrigins {
		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.allowed_origins[%d] %q is not a valid URL with scheme", i, origin))
		}
	}

	// TLS validation
	switch cfg.Server.TLS.Mode {
	case "", "off":
		// no additional validation needed
	case "auto":
		if cfg.Server.TLS.Auto.Domain == "" {
			errs = append(errs, fmt.Errorf("server.tls.auto.domain is required when tls mode is auto"))
		}
		if cfg.Server.TLS.Auto.CacheDir == "" {
			errs = append(errs, fmt.Errorf("server.tls.auto.cache_dir is required when tls mode is auto"))
		}
	case "manual":
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, fmt.Errorf("server.tls.cert_file is required when tls mode is manual"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls.key_file is required when tls mode is manual"))
		}
	default:
		errs = append(errs, fmt.Errorf("server.tls.mode must be off, auto, or manual"))
	}

	// Database validation
	if cfg.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if cfg.Database.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("database.max_open_conns must be at least 1"))
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json"))
	}

	// Inference validation
	if u, err := url.Parse(cfg.Inference.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("inference.base_url must be an absolute URL"))
	}
	if cfg.Inference.Timeout < time.Second {
		errs = append(errs, fmt.Errorf("inference.timeout must be at least 1s"))
	}
	if cfg.Inference.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("inference.rate_limit must not be negative"))
	}

	if u, err := url.Parse(cfg.Licensing.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("licensing.base_url must be an absolute URL"))
	}
	if cfg.Licensing.RevalidateInterval != 0 && cfg.Licensing.RevalidateInterval < time.Minute {
		errs = append(errs, fmt.Errorf("licensing.revalidate_interval must be 0 or at least 1m"))
	}

	// Quota limits: -1 is unlimited
	for _, q := range []struct {
		name  string
		limit int
	}{
		{"quota.free_limit", cfg.Quota.FreeLimit},
		{"quota.pro_limit", cfg.Quota.ProLimit},
		{"quota.team_limit", cfg.Quota.TeamLimit},
	} {
		if q.limit < -1 {
			errs = append(errs, fmt.Errorf("%s must be -1 (unlimited) or at least 0", q.name))
		}
	}

	// Cache validation
	if cfg.Cache.Capacity < 1 {
		errs = append(errs, fmt.Errorf("cache.capacity must be at least 1"))
	}
	if cfg.Cache.TTL < time.Minute {
		errs = append(errs, fmt.Errorf("cache.ttl must be at least 1m"))
	}

	if cfg.Extractor.Timeout < time.Second {
		errs = append(errs, fmt.Errorf("extractor.timeout must be at least 1s"))
	}

	// Storage validation
	switch cfg.Storage.SyncBackend {
	case "sqlite":
	case "redis":
		if cfg.Storage.RedisURL == "" {
			errs = append(errs, fmt.Errorf("storage.redis_url is required when sync_backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.sync_backend must be sqlite or redis"))
	}

	if cfg.Language.Enabled && len(cfg.Language.Codes) < 2 {
		errs = append(errs, fmt.Errorf("language.codes must list at least 2 languages"))
	}

	// Rate limit validation (only when enabled)
	if cfg.RateLimit.Enabled {
		rules := []struct {
			name string
			rule RateLimitRule
		}{
			{"previews", cfg.RateLimit.Previews},
			{"messages", cfg.RateLimit.Messages},
			{"events", cfg.RateLimit.Events},
		}
		for _, r := range rules {
			if r.rule.Limit < 1 {
				errs = append(errs, fmt.Errorf("rate_limit.%s.limit must be at least 1", r.name))
			}
			if r.rule.Window < time.Second {
				errs = append(errs, fmt.Errorf("rate_limit.%s.window must be at least 1s", r.name))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
