// Package ratelimit budgets protocol traffic per client in fixed windows.
//
// Budgets are keyed by message kind: a GET_PREVIEW spends model calls while
// CHECK_LIMIT and GET_STATS are cheap polls, so they are limited separately.
// Kinds without a rule of their own fall back to the AnyKind rule.
package ratelimit

import (
	"sync"
	"time"
)

// AnyKind is the rule used for kinds that have no rule of their own.
const AnyKind = "*"

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Rule allows Limit requests of Kind per client in each Window.
type Rule struct {
	Kind   string
	Limit  int
	Window time.Duration
}

// Decision is the budget left after a request. Limit is zero when no rule
// applied.
type Decision struct {
	Kind      string
	Limit     int
	Remaining int
	ResetAt   time.Time
	RetryIn   time.Duration
}

type budgetKey struct {
	client string
	kind   string // rule kind, AnyKind for fallbacks
}

type budget struct {
	used    int
	started time.Time
	window  time.Duration
}

// Limiter is safe for concurrent use.
type Limiter struct {
	rules map[string]Rule
	clock Clock

	mu      sync.Mutex
	budgets map[budgetKey]*budget
}

// NewLimiter creates a Limiter. A later rule for the same kind replaces an
// earlier one.
func NewLimiter(rules ...Rule) *Limiter {
	byKind := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byKind[r.Kind] = r
	}
	return &Limiter{rules: byKind, clock: realClock{}, budgets: make(map[budgetKey]*budget)}
}

// SetClock replaces the clock. Intended for tests.
func (l *Limiter) SetClock(clock Clock) {
	l.clock = clock
}

func (l *Limiter) rule(kind string) (Rule, bool) {
	if r, ok := l.rules[kind]; ok {
		return r, true
	}
	r, ok := l.rules[AnyKind]
	return r, ok
}

// Allow spends one request of kind for client and reports whether it fits
// the budget. A denied request spends nothing.
func (l *Limiter) Allow(client, kind string) (Decision, bool) {
	rule, ok := l.rule(kind)
	if !ok {
		return Decision{Kind: kind}, true
	}
	now := l.clock.Now()
	key := budgetKey{client: client, kind: rule.Kind}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.budgets[key]
	if b == nil || now.Sub(b.started) >= rule.Window {
		b = &budget{started: now, window: rule.Window}
		l.budgets[key] = b
	}

	d := Decision{Kind: kind, Limit: rule.Limit, ResetAt: b.started.Add(rule.Window)}
	if b.used >= rule.Limit {
		d.RetryIn = d.ResetAt.Sub(now)
		return d, false
	}
	b.used++
	d.Remaining = rule.Limit - b.used
	return d, true
}

// Cleanup drops budgets whose window has passed and returns how many it
// dropped.
func (l *Limiter) Cleanup() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for key, b := range l.budgets {
		if now.Sub(b.started) >= b.window {
			delete(l.budgets, key)
			n++
		}
	}
	return n
}
