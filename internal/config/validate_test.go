package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"origin without scheme", func(c *Config) { c.Server.AllowedOrigins = []string{"localhost:3000"} }, "server.allowed_origins[0]"},
		{"tls mode", func(c *Config) { c.Server.TLS.Mode = "sometimes" }, "server.tls.mode"},
		{"auto tls domain", func(c *Config) { c.Server.TLS.Mode = "auto" }, "server.tls.auto.domain"},
		{"manual tls cert", func(c *Config) { c.Server.TLS.Mode = "manual"; c.Server.TLS.KeyFile = "k" }, "server.tls.cert_file"},
		{"database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"inference url", func(c *Config) { c.Inference.BaseURL = "models" }, "inference.base_url"},
		{"inference timeout", func(c *Config) { c.Inference.Timeout = 0 }, "inference.timeout"},
		{"revalidate interval", func(c *Config) { c.Licensing.RevalidateInterval = time.Second }, "licensing.revalidate_interval"},
		{"quota limit", func(c *Config) { c.Quota.ProLimit = -2 }, "quota.pro_limit"},
		{"cache capacity", func(c *Config) { c.Cache.Capacity = 0 }, "cache.capacity"},
		{"cache ttl", func(c *Config) { c.Cache.TTL = time.Second }, "cache.ttl"},
		{"sync backend", func(c *Config) { c.Storage.SyncBackend = "etcd" }, "storage.sync_backend"},
		{"redis url", func(c *Config) { c.Storage.SyncBackend = "redis" }, "storage.redis_url"},
		{"language codes", func(c *Config) { c.Language.Codes = []string{"en"} }, "language.codes"},
		{"rate limit", func(c *Config) { c.RateLimit.Messages.Limit = 0 }, "rate_limit.messages.limit"},
		{"preview rate limit", func(c *Config) { c.RateLimit.Previews.Window = 0 }, "rate_limit.previews.window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	cfg.Cache.Capacity = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.port", "cache.capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate_DisabledSectionsSkipChecks(t *testing.T) {
	cfg := Defaults()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.Messages.Limit = 0
	cfg.Language.Enabled = false
	cfg.Language.Codes = nil
	cfg.Licensing.RevalidateInterval = 0

	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled sections should not be validated: %v", err)
	}
}
