package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func missingPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nonexistent.yaml")
}

func TestLoad_DefaultsWithoutYAML(t *testing.T) {
	cfg, err := Load(missingPath(t), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if diff := cmp.Diff(Defaults(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FromYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	yaml := `
server:
  port: 9000
  allowed_origins:
    - chrome-extension://abcdef
quota:
  free_limit: 10
cache:
  capacity: 50
  ttl: 2h
storage:
  sync_backend: redis
  redis_url: redis://localhost:6379/0
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if diff := cmp.Diff([]string{"chrome-extension://abcdef"}, cfg.Server.AllowedOrigins); diff != "" {
		t.Errorf("allowed_origins mismatch (-want +got):\n%s", diff)
	}
	if cfg.Quota.FreeLimit != 10 || cfg.Quota.ProLimit != 500 {
		t.Errorf("quota = %+v", cfg.Quota)
	}
	if cfg.Cache.Capacity != 50 || cfg.Cache.TTL != 2*time.Hour {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Storage.SyncBackend != "redis" || cfg.Storage.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}

func TestLoad_EnvSimpleKey(t *testing.T) {
	t.Setenv("LINKPREVIEW_SERVER_PORT", "9090")

	cfg, err := Load(missingPath(t), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
}

func TestLoad_EnvUnderscoreInLeafKey(t *testing.T) {
	t.Setenv("LINKPREVIEW_INFERENCE_API_KEY", "hf_test")
	t.Setenv("LINKPREVIEW_DATABASE_MAX_OPEN_CONNS", "8")

	cfg, err := Load(missingPath(t), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Inference.APIKey != "hf_test" {
		t.Errorf("api_key = %q, want hf_test", cfg.Inference.APIKey)
	}
	if cfg.Database.MaxOpenConns != 8 {
		t.Errorf("max_open_conns = %d, want 8", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_EnvDeepNestedUnderscore(t *testing.T) {
	t.Setenv("LINKPREVIEW_RATE_LIMIT_MESSAGES_LIMIT", "3")
	t.Setenv("LINKPREVIEW_RATE_LIMIT_PREVIEWS_WINDOW", "30s")

	cfg, err := Load(missingPath(t), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RateLimit.Messages.Limit != 3 {
		t.Fatalf("expected messages limit 3, got %d", cfg.RateLimit.Messages.Limit)
	}
	if cfg.RateLimit.Previews.Window != 30*time.Second {
		t.Fatalf("expected previews window 30s, got %v", cfg.RateLimit.Previews.Window)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("quota:\n  free_limit: 10\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LINKPREVIEW_QUOTA_FREE_LIMIT", "40")

	cfg, err := Load(cfgPath, nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Quota.FreeLimit != 40 {
		t.Fatalf("expected env override free_limit 40, got %d", cfg.Quota.FreeLimit)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("LINKPREVIEW_LOG_LEVEL", "warn")

	flags := SetupFlags()
	if err := flags.Parse([]string{"--log.level=debug", "--server.tls.mode=manual", "--server.tls.cert_file=/tmp/cert.pem", "--server.tls.key_file=/tmp/key.pem"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(missingPath(t), flags)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Server.TLS.Mode != "manual" || cfg.Server.TLS.CertFile != "/tmp/cert.pem" {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	// Unset flags keep lower layers.
	if cfg.Server.Port != Defaults().Server.Port {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}
}

func TestLoad_InvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("storage:\n  sync_backend: redis\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, nil); err == nil {
		t.Fatal("expected validation error for redis backend without URL")
	}
}
