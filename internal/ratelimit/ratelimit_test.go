package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lobisloby/Link-Preview-AI/internal/testutil"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(rules ...Rule) (*Limiter, *testutil.FakeClock) {
	l := NewLimiter(rules...)
	clock := testutil.NewFakeClock(start)
	l.SetClock(clock)
	return l, clock
}

func TestAllow_FixedWindowPerKind(t *testing.T) {
	l, clock := newTestLimiter(
		Rule{Kind: "GET_PREVIEW", Limit: 2, Window: time.Minute},
		Rule{Kind: AnyKind, Limit: 10, Window: time.Minute},
	)

	for i := range 2 {
		d, ok := l.Allow("10.0.0.1", "GET_PREVIEW")
		if !ok {
			t.Fatalf("preview %d denied", i+1)
		}
		if d.Remaining != 1-i {
			t.Errorf("preview %d remaining = %d, want %d", i+1, d.Remaining, 1-i)
		}
	}

	clock.Advance(15 * time.Second)
	got, ok := l.Allow("10.0.0.1", "GET_PREVIEW")
	if ok {
		t.Fatal("third preview allowed")
	}
	want := Decision{Kind: "GET_PREVIEW", Limit: 2, ResetAt: start.Add(time.Minute), RetryIn: 45 * time.Second}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("denied decision mismatch (-want +got):\n%s", diff)
	}

	if _, ok := l.Allow("10.0.0.1", "CHECK_LIMIT"); !ok {
		t.Error("polling denied while previews are exhausted")
	}
	if _, ok := l.Allow("10.0.0.2", "GET_PREVIEW"); !ok {
		t.Error("other client denied")
	}

	clock.Advance(45 * time.Second)
	if _, ok := l.Allow("10.0.0.1", "GET_PREVIEW"); !ok {
		t.Error("preview in new window denied")
	}
}

func TestAllow_FallbackKindsShareOneBudget(t *testing.T) {
	l, _ := newTestLimiter(Rule{Kind: AnyKind, Limit: 2, Window: time.Minute})

	l.Allow("10.0.0.1", "CHECK_LIMIT")
	l.Allow("10.0.0.1", "GET_STATS")
	d, ok := l.Allow("10.0.0.1", "GET_SETTINGS")
	if ok {
		t.Fatal("third fallback message allowed")
	}
	if d.Kind != "GET_SETTINGS" || d.Limit != 2 {
		t.Errorf("decision = %+v", d)
	}
}

func TestAllow_NoRule(t *testing.T) {
	l, _ := newTestLimiter(Rule{Kind: "GET_PREVIEW", Limit: 1, Window: time.Minute})

	for range 5 {
		if d, ok := l.Allow("10.0.0.1", "GET_STATS"); !ok || d.Limit != 0 {
			t.Fatalf("unlimited kind: %+v, %v", d, ok)
		}
	}
}

func TestCleanup(t *testing.T) {
	l, clock := newTestLimiter(
		Rule{Kind: "GET_PREVIEW", Limit: 1, Window: time.Minute},
		Rule{Kind: "EVENTS", Limit: 1, Window: time.Hour},
	)
	l.Allow("10.0.0.1", "GET_PREVIEW")
	l.Allow("10.0.0.1", "EVENTS")

	clock.Advance(2 * time.Minute)
	if n := l.Cleanup(); n != 1 {
		t.Errorf("Cleanup removed %d, want 1", n)
	}
	if n := len(l.budgets); n != 1 {
		t.Errorf("budgets after cleanup = %d, want 1", n)
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := newTestLimiter(Rule{Kind: "EVENTS", Limit: 1, Window: time.Minute})
	h := Middleware(l, "EVENTS")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/api/events", nil)
		r.RemoteAddr = "10.0.0.1:5555"
		h.ServeHTTP(w, r)
		return w
	}

	first := send()
	if first.Code != http.StatusNoContent {
		t.Fatalf("first status = %d", first.Code)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if got := first.Header().Get("Retry-After"); got != "" {
		t.Errorf("Retry-After on allowed request = %q", got)
	}

	second := send()
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Code)
	}
	if got := second.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientIP(r); got != "2001:db8::1" {
		t.Errorf("ClientIP = %q", got)
	}
	r.RemoteAddr = "203.0.113.9"
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Errorf("ClientIP without port = %q", got)
	}
}
