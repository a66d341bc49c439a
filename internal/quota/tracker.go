// Package quota enforces the daily preview allowance of the current plan.
//
// Usage is counted per local calendar day. The stored day marker is compared
// with today's on every read, so a new day starts at zero without any
// scheduled reset. Storage failures deny usage.
package quota

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Unlimited is the limit of plans without a daily cap.
const Unlimited = -1

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Plan is the tier in effect and its daily limit.
type Plan struct {
	Tier  string
	Limit int
}

// PlanSource reports the plan in effect.
type PlanSource interface {
	Plan(ctx context.Context) (Plan, error)
}

// LimitStatus answers whether a new preview may be generated.
type LimitStatus struct {
	CanUse       bool  `json:"canUse"`
	Remaining    int   `json:"remaining"`
	ResetTime    int64 `json:"resetTime"`
	LimitReached bool  `json:"limitReached"`
}

// IncrementResult is the outcome of spending one preview.
type IncrementResult struct {
	Success      bool `json:"success"`
	Remaining    int  `json:"remaining"`
	LimitReached bool `json:"limitReached"`
}

// Stats summarizes today's usage.
type Stats struct {
	PreviewsToday int    `json:"previewsToday"`
	PreviewsLimit int    `json:"previewsLimit"`
	Tier          string `json:"tier"`
	LimitReached  bool   `json:"limitReached"`
	ResetTime     int64  `json:"resetTime"`
}

// Tracker is safe for concurrent use.
type Tracker struct {
	repo  *Repository
	plans PlanSource
	clock Clock

	// mu serializes increments within the process.
	mu sync.Mutex
}

// NewTracker creates a Tracker over db.
func NewTracker(db *sql.DB, plans PlanSource) *Tracker {
	return &Tracker{repo: NewRepository(db), plans: plans, clock: realClock{}}
}

// SetClock replaces the clock. Intended for tests.
func (t *Tracker) SetClock(clock Clock) {
	t.clock = clock
}

// Used returns the number of previews spent today.
func (t *Tracker) Used(ctx context.Context) (int, error) {
	rec, err := t.repo.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load usage: %w", err)
	}
	if !IsSameDay(rec.UsageDate, t.clock.Now()) {
		return 0, nil
	}
	return rec.UsageCount, nil
}

// CheckLimit reports whether a preview may be spent now. On error the
// returned status denies usage.
func (t *Tracker) CheckLimit(ctx context.Context) (LimitStatus, error) {
	now := t.clock.Now()
	reset := ResetTime(now).UnixMilli()

	plan, used, err := t.load(ctx)
	if err != nil {
		return LimitStatus{ResetTime: reset}, err
	}

	if plan.Limit < 0 {
		return LimitStatus{CanUse: true, Remaining: Unlimited, ResetTime: reset}, nil
	}

	remaining := max(0, plan.Limit-used)
	return LimitStatus{
		CanUse:       remaining > 0,
		Remaining:    remaining,
		ResetTime:    reset,
		LimitReached: remaining == 0,
	}, nil
}

// IncrementUsage spends one preview if the limit allows it, checking the
// limit again at the moment of the write. On error nothing is spent and the
// result denies usage.
func (t *Tracker) IncrementUsage(ctx context.Context) (IncrementResult, error) {
	plan, err := t.plans.Plan(ctx)
	if err != nil {
		return IncrementResult{}, fmt.Errorf("load plan: %w", err)
	}

	t.mu.Lock()
	count, ok, err := t.repo.IncrementWithLimit(ctx, DayMarker(t.clock.Now()), plan.Limit)
	t.mu.Unlock()
	if err != nil {
		return IncrementResult{}, fmt.Errorf("increment usage: %w", err)
	}
	if !ok {
		return IncrementResult{Success: false, Remaining: 0, LimitReached: true}, nil
	}

	if plan.Limit < 0 {
		return IncrementResult{Success: true, Remaining: Unlimited}, nil
	}
	return IncrementResult{
		Success:      true,
		Remaining:    max(0, plan.Limit-count),
		LimitReached: count >= plan.Limit,
	}, nil
}

// Stats returns today's usage summary.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	plan, used, err := t.load(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		PreviewsToday: used,
		PreviewsLimit: plan.Limit,
		Tier:          plan.Tier,
		LimitReached:  plan.Limit >= 0 && used >= plan.Limit,
		ResetTime:     ResetTime(t.clock.Now()).UnixMilli(),
	}, nil
}

func (t *Tracker) load(ctx context.Context) (Plan, int, error) {
	plan, err := t.plans.Plan(ctx)
	if err != nil {
		return Plan{}, 0, fmt.Errorf("load plan: %w", err)
	}
	used, err := t.Used(ctx)
	if err != nil {
		return Plan{}, 0, err
	}
	return plan, used, nil
}
