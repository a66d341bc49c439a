// Package subscription tracks the user's plan. Paid plans come from license
// activation and fall back to free on expiry, deactivation or a failed
// revalidation.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lobisloby/Link-Preview-AI/internal/kvstore"
	"github.com/lobisloby/Link-Preview-AI/internal/licensing"
	"github.com/lobisloby/Link-Preview-AI/internal/quota"
)

// StorageKey is the sync-scope key holding the subscription.
const StorageKey = "subscription"

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
	TierTeam Tier = "team"
)

// Limits maps tiers to daily preview limits. -1 means unlimited.
type Limits map[Tier]int

// DefaultLimits are the daily allowances per tier.
var DefaultLimits = Limits{TierFree: 25, TierPro: 500, TierTeam: quota.Unlimited}

// features lists what each tier unlocks. "all" unlocks everything.
var features = map[Tier][]string{
	TierFree: {"basic_preview", "category"},
	TierPro:  {"basic_preview", "category", "sentiment", "key_points", "reliability", "multi_language"},
	TierTeam: {"all"},
}

// Subscription is the stored plan plus its derived limit.
type Subscription struct {
	Tier          Tier     `json:"tier"`
	ExpiresAt     *int64   `json:"expiresAt"` // epoch millis; nil never expires
	LicenseKey    string   `json:"licenseKey,omitempty"`
	InstanceID    string   `json:"instanceId,omitempty"`
	PreviewsLimit int      `json:"previewsLimit"`
	PreviewsUsed  int      `json:"previewsUsed"`
	Features      []string `json:"features"`
}

// stored is the persisted form.
type stored struct {
	Tier       Tier   `json:"tier"`
	ExpiresAt  *int64 `json:"expiresAt"`
	LicenseKey string `json:"licenseKey,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
}

// Licensor is the licensing provider.
type Licensor interface {
	Activate(ctx context.Context, key, instanceName string) (*licensing.License, error)
	Validate(ctx context.Context, key, instanceID string) (*licensing.License, error)
	Deactivate(ctx context.Context, key, instanceID string) error
}

// Service is safe for concurrent use.
type Service struct {
	store    kvstore.Store
	licensor Licensor
	limits   Limits
	now      func() time.Time

	// mu serializes read-modify-write cycles on the stored record.
	mu sync.Mutex
}

// NewService creates a Service. Missing tiers in limits use DefaultLimits.
func NewService(store kvstore.Store, licensor Licensor, limits Limits) *Service {
	merged := make(Limits, len(DefaultLimits))
	for t, l := range DefaultLimits {
		merged[t] = l
	}
	for t, l := range limits {
		merged[t] = l
	}
	return &Service{store: store, licensor: licensor, limits: merged, now: time.Now}
}

// SetClock replaces the clock. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Get returns the current subscription. A paid plan past its expiry is
// demoted to free and the demotion persisted.
func (s *Service) Get(ctx context.Context) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return Subscription{}, err
	}

	if rec.Tier != TierFree && rec.ExpiresAt != nil && *rec.ExpiresAt < s.now().UnixMilli() {
		slog.Info("subscription expired", "tier", rec.Tier)
		rec = stored{Tier: TierFree}
		if err := s.save(ctx, rec); err != nil {
			return Subscription{}, err
		}
	}
	return s.view(rec), nil
}

// Plan implements quota.PlanSource.
func (s *Service) Plan(ctx context.Context) (quota.Plan, error) {
	sub, err := s.Get(ctx)
	if err != nil {
		return quota.Plan{}, err
	}
	return quota.Plan{Tier: string(sub.Tier), Limit: sub.PreviewsLimit}, nil
}

// CanUseFeature reports whether the current tier unlocks feature.
func (s *Service) CanUseFeature(ctx context.Context, feature string) (bool, error) {
	sub, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(sub.Features, "all") || slices.Contains(sub.Features, feature), nil
}

// Activate activates key with the licensing provider and upgrades the plan.
// Provider errors are returned unchanged.
func (s *Service) Activate(ctx context.Context, key string) (Subscription, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Subscription{}, errors.New("license key is required")
	}

	lic, err := s.licensor.Activate(ctx, key, "linkpreview-"+ulid.Make().String())
	if err != nil {
		return Subscription{}, err
	}

	rec := stored{
		Tier:       tierForVariant(lic.VariantName),
		ExpiresAt:  millis(lic.ExpiresAt),
		LicenseKey: key,
		InstanceID: lic.InstanceID,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, rec); err != nil {
		return Subscription{}, err
	}
	slog.Info("license activated", "tier", rec.Tier)
	return s.view(rec), nil
}

// Deactivate releases the stored license and demotes the plan to free. A
// license the provider no longer recognizes is demoted as well.
func (s *Service) Deactivate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return err
	}
	if rec.LicenseKey == "" {
		return errors.New("no active license")
	}

	if err := s.licensor.Deactivate(ctx, rec.LicenseKey, rec.InstanceID); err != nil && !errors.Is(err, licensing.ErrInvalidLicense) {
		return err
	}

	slog.Info("license deactivated", "tier", rec.Tier)
	return s.save(ctx, stored{Tier: TierFree})
}

// Revalidate checks the stored license with the provider. Rejected licenses
// are demoted to free; transport errors leave the plan unchanged. It reports
// whether the plan changed.
func (s *Service) Revalidate(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	if rec.Tier == TierFree || rec.LicenseKey == "" {
		return false, nil
	}

	lic, err := s.licensor.Validate(ctx, rec.LicenseKey, rec.InstanceID)
	var provErr *licensing.Error
	switch {
	case errors.Is(err, licensing.ErrInvalidLicense), errors.As(err, &provErr) && provErr.StatusCode < 500:
		slog.Info("license no longer valid", "tier", rec.Tier, "error", err)
		return true, s.save(ctx, stored{Tier: TierFree})
	case err != nil:
		return false, fmt.Errorf("revalidate license: %w", err)
	}

	updated := rec
	updated.Tier = tierForVariant(lic.VariantName)
	updated.ExpiresAt = millis(lic.ExpiresAt)
	if updated.Tier == rec.Tier && equalMillis(updated.ExpiresAt, rec.ExpiresAt) {
		return false, nil
	}
	return true, s.save(ctx, updated)
}

func (s *Service) load(ctx context.Context) (stored, error) {
	var rec stored
	err := kvstore.GetJSON(ctx, s.store, StorageKey, &rec)
	if errors.Is(err, kvstore.ErrNotFound) {
		return stored{Tier: TierFree}, nil
	}
	if err != nil {
		return stored{}, fmt.Errorf("load subscription: %w", err)
	}
	switch rec.Tier {
	case TierPro, TierTeam:
	default:
		rec = stored{Tier: TierFree}
	}
	return rec, nil
}

func (s *Service) save(ctx context.Context, rec stored) error {
	if err := kvstore.SetJSON(ctx, s.store, StorageKey, rec); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (s *Service) view(rec stored) Subscription {
	limit, ok := s.limits[rec.Tier]
	if !ok {
		limit = s.limits[TierFree]
	}
	return Subscription{
		Tier:          rec.Tier,
		ExpiresAt:     rec.ExpiresAt,
		LicenseKey:    rec.LicenseKey,
		InstanceID:    rec.InstanceID,
		PreviewsLimit: limit,
		Features:      slices.Clone(features[rec.Tier]),
	}
}

func tierForVariant(variant string) Tier {
	if strings.Contains(strings.ToLower(variant), "team") {
		return TierTeam
	}
	return TierPro
}

func millis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func equalMillis(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
