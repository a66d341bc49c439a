package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override, e.g. LINKPREVIEW_SERVER_PORT.
const EnvPrefix = "LINKPREVIEW_"

func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	defaults := Defaults()
	if err := k.Load(defaultsProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// 2. Load from config file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		}
	} else {
		for _, path := range []string{"config.yaml", "config.yml"} {
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
					return nil, fmt.Errorf("loading config file: %w", err)
				}
				break
			}
		}
	}

	// 3. Load from environment variables. Underscores are ambiguous
	// (rate_limit.messages.limit vs rate.limit...), so names are matched
	// against the keys already known before falling back to dots.
	known := make(map[string]string)
	for _, key := range k.Keys() {
		known[strings.ReplaceAll(key, ".", "_")] = key
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if key, ok := known[name]; ok {
			return key
		}
		return strings.ReplaceAll(name, "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// 4. Load from CLI flags
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("loading flags: %w", err)
		}
	}

	// 5. Unmarshal into struct
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
	}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// 6. Validate
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

type defaultsProviderStruct struct {
	defaults *Config
}

func defaultsProvider(defaults *Config) *defaultsProviderStruct {
	return &defaultsProviderStruct{defaults: defaults}
}

func (d *defaultsProviderStruct) ReadBytes() ([]byte, error) {
	return nil, nil
}

func (d *defaultsProviderStruct) Read() (map[string]interface{}, error) {
	c := d.defaults
	return map[string]interface{}{
		"server": map[string]interface{}{
			"host":            c.Server.Host,
			"port":            c.Server.Port,
			"public_url":      c.Server.PublicURL,
			"allowed_origins": c.Server.AllowedOrigins,
			"tls": map[string]interface{}{
				"mode":      c.Server.TLS.Mode,
				"cert_file": c.Server.TLS.CertFile,
				"key_file":  c.Server.TLS.KeyFile,
				"auto": map[string]interface{}{
					"domain":    c.Server.TLS.Auto.Domain,
					"email":     c.Server.TLS.Auto.Email,
					"cache_dir": c.Server.TLS.Auto.CacheDir,
				},
			},
		},
		"database": map[string]interface{}{
			"path":           c.Database.Path,
			"max_open_conns": c.Database.MaxOpenConns,
			"busy_timeout":   c.Database.BusyTimeout.String(),
		},
		"log": map[string]interface{}{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
		"inference": map[string]interface{}{
			"base_url":             c.Inference.BaseURL,
			"api_key":              c.Inference.APIKey,
			"summary_model":        c.Inference.SummaryModel,
			"classification_model": c.Inference.ClassificationModel,
			"sentiment_model":      c.Inference.SentimentModel,
			"timeout":              c.Inference.Timeout.String(),
			"rate_limit":           c.Inference.RateLimit,
			"burst":                c.Inference.Burst,
			"max_retries":          c.Inference.MaxRetries,
			"retry_backoff":        c.Inference.RetryBackoff.String(),
		},
		"licensing": map[string]interface{}{
			"base_url":            c.Licensing.BaseURL,
			"revalidate_interval": c.Licensing.RevalidateInterval.String(),
		},
		"quota": map[string]interface{}{
			"free_limit": c.Quota.FreeLimit,
			"pro_limit":  c.Quota.ProLimit,
			"team_limit": c.Quota.TeamLimit,
		},
		"cache": map[string]interface{}{
			"capacity":         c.Cache.Capacity,
			"ttl":              c.Cache.TTL.String(),
			"batch_eviction":   c.Cache.BatchEviction,
			"cleanup_interval": c.Cache.CleanupInterval.String(),
		},
		"extractor": map[string]interface{}{
			"timeout":    c.Extractor.Timeout.String(),
			"user_agent": c.Extractor.UserAgent,
		},
		"storage": map[string]interface{}{
			"sync_backend": c.Storage.SyncBackend,
			"redis_url":    c.Storage.RedisURL,
		},
		"language": map[string]interface{}{
			"enabled":      c.Language.Enabled,
			"codes":        c.Language.Codes,
			"default":      c.Language.Default,
			"low_accuracy": c.Language.LowAccuracy,
		},
		"rate_limit": map[string]interface{}{
			"enabled":  c.RateLimit.Enabled,
			"previews": ruleMap(c.RateLimit.Previews),
			"messages": ruleMap(c.RateLimit.Messages),
			"events":   ruleMap(c.RateLimit.Events),
		},
		"events": map[string]interface{}{
			"replay_size": c.Events.ReplaySize,
		},
	}, nil
}

func ruleMap(r RateLimitRule) map[string]interface{} {
	return map[string]interface{}{
		"limit":  r.Limit,
		"window": r.Window.String(),
	}
}

func SetupFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("linkpreviewd", pflag.ContinueOnError)
	flags.String("config", "", "Path to config file")
	flags.String("server.host", "", "Server host")
	flags.Int("server.port", 0, "Server port")
	flags.String("server.public_url", "", "Public URL")
	flags.StringSlice("server.allowed_origins", nil, "Allowed CORS origins")
	flags.String("server.tls.mode", "", "TLS mode: off, auto, or manual")
	flags.String("server.tls.cert_file", "", "TLS certificate file (manual mode)")
	flags.String("server.tls.key_file", "", "TLS key file (manual mode)")
	flags.String("server.tls.auto.domain", "", "Domain for automatic TLS (auto mode)")
	flags.String("server.tls.auto.email", "", "Contact email for Let's Encrypt (auto mode)")
	flags.String("server.tls.auto.cache_dir", "", "Certificate cache directory (auto mode)")
	flags.String("database.path", "", "Database path")
	flags.String("log.level", "", "Log level: debug, info, warn, error")
	flags.String("log.format", "", "Log format: text or json")
	flags.String("inference.api_key", "", "Inference API key used when none is stored")
	flags.String("storage.sync_backend", "", "Sync-scope storage: sqlite or redis")
	flags.String("storage.redis_url", "", "Redis URL for the redis sync backend")
	flags.Int("cache.capacity", 0, "Maximum cached previews")
	return flags
}
