// Package settings stores the user's preview preferences in the sync scope.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lobisloby/Link-Preview-AI/internal/kvstore"
)

// StorageKey is the sync-scope key holding the settings.
const StorageKey = "settings"

const (
	maxHoverDelay  = 10000 // ms
	maxCacheAgeHrs = 24 * 30
)

type Settings struct {
	Enabled         bool     `json:"enabled"`
	HoverDelay      int      `json:"hoverDelay"`
	ShowKeyPoints   bool     `json:"showKeyPoints"`
	ShowCategory    bool     `json:"showCategory"`
	ShowSentiment   bool     `json:"showSentiment"`
	ShowReliability bool     `json:"showReliability"`
	Theme           string   `json:"theme"`
	Language        string   `json:"language"`
	ExcludedDomains []string `json:"excludedDomains"`
	MaxCacheAge     int      `json:"maxCacheAge"` // hours
}

// Defaults returns the settings of a fresh install.
func Defaults() Settings {
	return Settings{
		Enabled:         true,
		HoverDelay:      500,
		ShowKeyPoints:   true,
		ShowCategory:    true,
		ShowSentiment:   true,
		ShowReliability: true,
		Theme:           "auto",
		Language:        "en",
		ExcludedDomains: []string{},
		MaxCacheAge:     24,
	}
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.HoverDelay < 0 || s.HoverDelay > maxHoverDelay {
		errs = append(errs, fmt.Errorf("hoverDelay must be between 0 and %d", maxHoverDelay))
	}
	switch s.Theme {
	case "light", "dark", "auto":
	default:
		errs = append(errs, fmt.Errorf("theme must be one of light, dark, auto"))
	}
	if len(s.Language) < 2 {
		errs = append(errs, fmt.Errorf("language must be a language code"))
	}
	if s.MaxCacheAge < 1 || s.MaxCacheAge > maxCacheAgeHrs {
		errs = append(errs, fmt.Errorf("maxCacheAge must be between 1 and %d hours", maxCacheAgeHrs))
	}
	return errors.Join(errs...)
}

// CacheTTL is how long new previews stay cached.
func (s Settings) CacheTTL() time.Duration {
	return time.Duration(s.MaxCacheAge) * time.Hour
}

// Excludes reports whether host is, or is a subdomain of, an excluded domain.
func (s Settings) Excludes(host string) bool {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	for _, d := range s.ExcludedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// repair resets fields that fail validation to their defaults. Stored
// settings may come from another instance or an older build.
func (s *Settings) repair() {
	d := Defaults()
	if s.HoverDelay < 0 || s.HoverDelay > maxHoverDelay {
		s.HoverDelay = d.HoverDelay
	}
	switch s.Theme {
	case "light", "dark", "auto":
	default:
		s.Theme = d.Theme
	}
	if len(s.Language) < 2 {
		s.Language = d.Language
	}
	if s.MaxCacheAge < 1 || s.MaxCacheAge > maxCacheAgeHrs {
		s.MaxCacheAge = d.MaxCacheAge
	}
}

func (s *Settings) normalize() {
	domains := make([]string, 0, len(s.ExcludedDomains))
	seen := make(map[string]bool, len(s.ExcludedDomains))
	for _, d := range s.ExcludedDomains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	s.ExcludedDomains = domains
	s.Language = strings.ToLower(strings.TrimSpace(s.Language))
}

// Service is safe for concurrent use.
type Service struct {
	store kvstore.Store
	mu    sync.Mutex
}

func NewService(store kvstore.Store) *Service {
	return &Service{store: store}
}

// Get returns the stored settings layered over the defaults. Stored fields
// out of range read as their defaults.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	raw, err := s.store.Get(ctx, StorageKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return Defaults(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	prefs, err := decodeOver(Defaults(), raw)
	if err != nil {
		return Settings{}, err
	}
	prefs.repair()
	return prefs, nil
}

// Update merges the JSON object patch into the current settings, validates
// the result and stores it.
func (s *Service) Update(ctx context.Context, patch json.RawMessage) (Settings, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(patch), []byte("{")) {
		return Settings{}, errors.New("settings update must be a JSON object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx)
	if err != nil {
		return Settings{}, err
	}
	updated, err := decodeOver(current, patch)
	if err != nil {
		return Settings{}, err
	}
	if err := updated.Validate(); err != nil {
		return Settings{}, err
	}
	if err := kvstore.SetJSON(ctx, s.store, StorageKey, updated); err != nil {
		return Settings{}, err
	}
	return updated, nil
}

// decodeOver applies the fields present in raw on top of base.
func decodeOver(base Settings, raw []byte) (Settings, error) {
	if err := json.Unmarshal(raw, &base); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if base.ExcludedDomains == nil {
		base.ExcludedDomains = []string{}
	}
	base.normalize()
	return base, nil
}
