package config

import "time"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Inference InferenceConfig `koanf:"inference"`
	Licensing LicensingConfig `koanf:"licensing"`
	Quota     QuotaConfig     `koanf:"quota"`
	Cache     CacheConfig     `koanf:"cache"`
	Extractor ExtractorConfig `koanf:"extractor"`
	Storage   StorageConfig   `koanf:"storage"`
	Language  LanguageConfig  `koanf:"language"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Events    EventsConfig    `koanf:"events"`
}

type ServerConfig struct {
	Host           string    `koanf:"host"`
	Port           int       `koanf:"port"`
	PublicURL      string    `koanf:"public_url"`
	AllowedOrigins []string  `koanf:"allowed_origins"`
	TLS            TLSConfig `koanf:"tls"`
}

type TLSConfig struct {
	Mode     string        `koanf:"mode"` // off, auto, manual
	CertFile string        `koanf:"cert_file"`
	KeyFile  string        `koanf:"key_file"`
	Auto     AutoTLSConfig `koanf:"auto"`
}

type AutoTLSConfig struct {
	Domain   string `koanf:"domain"`
	Email    string `koanf:"email"`
	CacheDir string `koanf:"cache_dir"`
}

type DatabaseConfig struct {
	Path         string        `koanf:"path"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	BusyTimeout  time.Duration `koanf:"busy_timeout"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type InferenceConfig struct {
	BaseURL             string        `koanf:"base_url"`
	APIKey              string        `koanf:"api_key"` // used when no key is stored
	SummaryModel        string        `koanf:"summary_model"`
	ClassificationModel string        `koanf:"classification_model"`
	SentimentModel      string        `koanf:"sentiment_model"`
	Timeout             time.Duration `koanf:"timeout"`
	RateLimit           float64       `koanf:"rate_limit"` // requests per second, 0 disables
	Burst               int           `koanf:"burst"`
	MaxRetries          int           `koanf:"max_retries"`
	RetryBackoff        time.Duration `koanf:"retry_backoff"`
}

type LicensingConfig struct {
	BaseURL            string        `koanf:"base_url"`
	RevalidateInterval time.Duration `koanf:"revalidate_interval"` // 0 disables
}

type QuotaConfig struct {
	FreeLimit int `koanf:"free_limit"`
	ProLimit  int `koanf:"pro_limit"`
	TeamLimit int `koanf:"team_limit"` // -1 is unlimited
}

type CacheConfig struct {
	Capacity        int           `koanf:"capacity"`
	TTL             time.Duration `koanf:"ttl"`
	BatchEviction   bool          `koanf:"batch_eviction"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

type ExtractorConfig struct {
	Timeout   time.Duration `koanf:"timeout"`
	UserAgent string        `koanf:"user_agent"`
}

type StorageConfig struct {
	SyncBackend string `koanf:"sync_backend"` // sqlite or redis
	RedisURL    string `koanf:"redis_url"`
}

type LanguageConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Codes       []string `koanf:"codes"`
	Default     string   `koanf:"default"`
	LowAccuracy bool     `koanf:"low_accuracy"`
}

// RateLimitConfig budgets protocol traffic per client. Previews cost model
// calls and get their own budget; every other message type shares Messages.
type RateLimitConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Previews RateLimitRule `koanf:"previews"`
	Messages RateLimitRule `koanf:"messages"`
	Events   RateLimitRule `koanf:"events"` // event stream connections
}

type RateLimitRule struct {
	Limit  int           `koanf:"limit"`
	Window time.Duration `koanf:"window"`
}

type EventsConfig struct {
	ReplaySize int `koanf:"replay_size"`
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8787,
			PublicURL: "http://localhost:8787",
			TLS: TLSConfig{
				Mode: "off",
				Auto: AutoTLSConfig{CacheDir: "./data/certs"},
			},
		},
		Database: DatabaseConfig{
			Path:         "./data/linkpreview.db",
			MaxOpenConns: 4,
			BusyTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Inference: InferenceConfig{
			BaseURL:             "https://api-inference.huggingface.co/models",
			SummaryModel:        "facebook/bart-large-cnn",
			ClassificationModel: "facebook/bart-large-mnli",
			SentimentModel:      "cardiffnlp/twitter-roberta-base-sentiment-latest",
			Timeout:             15 * time.Second,
			RateLimit:           5,
			Burst:               3,
			MaxRetries:          2,
			RetryBackoff:        time.Second,
		},
		Licensing: LicensingConfig{
			BaseURL:            "https://api.lemonsqueezy.com/v1",
			RevalidateInterval: 24 * time.Hour,
		},
		Quota: QuotaConfig{
			FreeLimit: 25,
			ProLimit:  500,
			TeamLimit: -1,
		},
		Cache: CacheConfig{
			Capacity:        100,
			TTL:             24 * time.Hour,
			CleanupInterval: time.Hour,
		},
		Extractor: ExtractorConfig{
			Timeout:   10 * time.Second,
			UserAgent: "LinkPreviewAI/1.0 (+https://github.com/lobisloby/Link-Preview-AI)",
		},
		Storage: StorageConfig{
			SyncBackend: "sqlite",
		},
		Language: LanguageConfig{
			Enabled: true,
			Codes:   []string{"en", "de", "fr", "es", "it", "pt", "nl", "ru", "ja", "zh"},
			Default: "en",
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Previews: RateLimitRule{Limit: 30, Window: time.Minute},
			Messages: RateLimitRule{Limit: 120, Window: time.Minute},
			Events:   RateLimitRule{Limit: 10, Window: time.Minute},
		},
		Events: EventsConfig{
			ReplaySize: 100,
		},
	}
}
