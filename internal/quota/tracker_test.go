package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lobisloby/Link-Preview-AI/internal/testutil"
)

type fixedPlan struct {
	plan Plan
	err  error
}

func (f *fixedPlan) Plan(context.Context) (Plan, error) {
	return f.plan, f.err
}

var day1 = time.Date(2026, 3, 3, 9, 0, 0, 0, time.Local)

func newTestTracker(t *testing.T, plan Plan) (*Tracker, *testutil.FakeClock) {
	t.Helper()
	tr := NewTracker(testutil.TestDB(t), &fixedPlan{plan: plan})
	clock := testutil.NewFakeClock(day1)
	tr.SetClock(clock)
	return tr, clock
}

func TestCheckLimit_Fresh(t *testing.T) {
	tr, _ := newTestTracker(t, Plan{Tier: "free", Limit: 25})

	got, err := tr.CheckLimit(context.Background())
	if err != nil {
		t.Fatalf("CheckLimit: %v", err)
	}
	want := LimitStatus{CanUse: true, Remaining: 25, ResetTime: ResetTime(day1).UnixMilli()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CheckLimit mismatch (-want +got):\n%s", diff)
	}
}

func TestIncrementUsage_Monotonic(t *testing.T) {
	const limit = 5
	tr, _ := newTestTracker(t, Plan{Tier: "free", Limit: limit})
	ctx := context.Background()

	for i := 1; i <= limit; i++ {
		res, err := tr.IncrementUsage(ctx)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		want := IncrementResult{Success: true, Remaining: limit - i, LimitReached: i == limit}
		if diff := cmp.Diff(want, res); diff != "" {
			t.Errorf("increment %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	res, err := tr.IncrementUsage(ctx)
	if err != nil {
		t.Fatalf("increment over limit: %v", err)
	}
	if diff := cmp.Diff(IncrementResult{Success: false, Remaining: 0, LimitReached: true}, res); diff != "" {
		t.Errorf("over-limit mismatch (-want +got):\n%s", diff)
	}

	status, _ := tr.CheckLimit(ctx)
	if status.CanUse || !status.LimitReached || status.Remaining != 0 {
		t.Errorf("CheckLimit after exhaustion = %+v", status)
	}
	if used, _ := tr.Used(ctx); used != limit {
		t.Errorf("Used = %d, want %d", used, limit)
	}
}

func TestIncrementUsage_ConcurrentNeverExceedsLimit(t *testing.T) {
	const limit = 10
	tr, _ := newTestTracker(t, Plan{Tier: "free", Limit: limit})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.IncrementUsage(ctx)
			if err != nil {
				t.Errorf("IncrementUsage: %v", err)
				return
			}
			if res.Success {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit {
		t.Errorf("granted = %d, want %d", granted, limit)
	}
	if used, _ := tr.Used(ctx); used != limit {
		t.Errorf("Used = %d, want %d", used, limit)
	}
}

func TestIncrementUsage_PooledFileDatabase(t *testing.T) {
	const (
		workers = 8
		rounds  = 50
	)
	db := testutil.FileDB(t, 4)
	tr := NewTracker(db, &fixedPlan{plan: Plan{Tier: "team", Limit: Unlimited}})
	tr.SetClock(testutil.NewFakeClock(day1))
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				// A competing writer on another pooled connection.
				_, err := db.ExecContext(ctx,
					`INSERT INTO kv_store (scope, key, value, updated_at) VALUES ('sync', ?, '{}', ?)
					 ON CONFLICT (scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
					fmt.Sprintf("worker-%d", w), i)
				if err != nil {
					t.Errorf("kv write: %v", err)
					return
				}
				if _, err := tr.IncrementUsage(ctx); err != nil {
					t.Errorf("IncrementUsage: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if used, err := tr.Used(ctx); err != nil || used != workers*rounds {
		t.Errorf("Used = %d, %v; want %d", used, err, workers*rounds)
	}
}

func TestDayRollover(t *testing.T) {
	const limit = 3
	tr, clock := newTestTracker(t, Plan{Tier: "free", Limit: limit})
	ctx := context.Background()

	for range limit {
		if _, err := tr.IncrementUsage(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if status, _ := tr.CheckLimit(ctx); status.CanUse {
		t.Fatal("expected limit reached on day 1")
	}

	clock.Advance(24 * time.Hour)

	status, err := tr.CheckLimit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !status.CanUse || status.Remaining != limit {
		t.Errorf("after rollover CheckLimit = %+v, want remaining %d", status, limit)
	}

	res, err := tr.IncrementUsage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Remaining != limit-1 {
		t.Errorf("first increment of new day = %+v", res)
	}
}

func TestUnlimitedPlan(t *testing.T) {
	tr, _ := newTestTracker(t, Plan{Tier: "team", Limit: Unlimited})
	ctx := context.Background()

	for i := range 1000 {
		res, err := tr.IncrementUsage(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success || res.Remaining != Unlimited || res.LimitReached {
			t.Fatalf("increment %d = %+v", i, res)
		}
	}

	status, err := tr.CheckLimit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !status.CanUse || status.Remaining != Unlimited || status.LimitReached {
		t.Errorf("CheckLimit = %+v", status)
	}

	stats, _ := tr.Stats(ctx)
	if stats.PreviewsToday != 1000 || stats.LimitReached {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestZeroLimitDeniesEverything(t *testing.T) {
	tr, _ := newTestTracker(t, Plan{Tier: "free", Limit: 0})
	ctx := context.Background()

	res, err := tr.IncrementUsage(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("expected denial with zero limit")
	}
	if status, _ := tr.CheckLimit(ctx); status.CanUse {
		t.Error("CheckLimit allows use with zero limit")
	}
}

func TestStats(t *testing.T) {
	tr, _ := newTestTracker(t, Plan{Tier: "pro", Limit: 500})
	ctx := context.Background()

	for range 3 {
		tr.IncrementUsage(ctx)
	}

	got, err := tr.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{PreviewsToday: 3, PreviewsLimit: 500, Tier: "pro", ResetTime: ResetTime(day1).UnixMilli()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
}

func TestStorageFailureDenies(t *testing.T) {
	db := testutil.TestDB(t)
	tr := NewTracker(db, &fixedPlan{plan: Plan{Tier: "free", Limit: 25}})
	db.Close()
	ctx := context.Background()

	status, err := tr.CheckLimit(ctx)
	if err == nil {
		t.Fatal("expected error from CheckLimit")
	}
	if status.CanUse {
		t.Error("CheckLimit must deny on storage failure")
	}

	res, err := tr.IncrementUsage(ctx)
	if err == nil {
		t.Fatal("expected error from IncrementUsage")
	}
	if res.Success {
		t.Error("IncrementUsage must deny on storage failure")
	}
}

func TestPlanFailureDenies(t *testing.T) {
	tr := NewTracker(testutil.TestDB(t), &fixedPlan{err: errors.New("sync store down")})
	ctx := context.Background()

	if status, err := tr.CheckLimit(ctx); err == nil || status.CanUse {
		t.Errorf("CheckLimit = %+v, %v; want denial with error", status, err)
	}
	if res, err := tr.IncrementUsage(ctx); err == nil || res.Success {
		t.Errorf("IncrementUsage = %+v, %v; want denial with error", res, err)
	}
}
