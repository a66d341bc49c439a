package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lobisloby/Link-Preview-AI/internal/testutil"
)

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := NewSQLiteStore(testutil.TestDB(t), ScopeLocal)

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_SetGetRemove(t *testing.T) {
	s := NewSQLiteStore(testutil.TestDB(t), ScopeLocal)
	ctx := context.Background()

	if err := s.Set(ctx, "hf_api_key", []byte("hf_123")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "hf_api_key", []byte("hf_456")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}

	got, err := s.Get(ctx, "hf_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hf_456" {
		t.Errorf("value = %q, want %q", got, "hf_456")
	}

	if err := s.Remove(ctx, "hf_api_key"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(ctx, "hf_api_key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestSQLiteStore_ScopesAreIsolated(t *testing.T) {
	db := testutil.TestDB(t)
	local := NewSQLiteStore(db, ScopeLocal)
	synced := NewSQLiteStore(db, ScopeSync)
	ctx := context.Background()

	if err := local.Set(ctx, "settings", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := synced.Get(ctx, "settings"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sync scope should not see local key, got %v", err)
	}
}

func TestSQLiteStore_JSONHelpers(t *testing.T) {
	s := NewSQLiteStore(testutil.TestDB(t), ScopeSync)
	ctx := context.Background()

	type payload struct {
		Tier  string `json:"tier"`
		Limit int    `json:"limit"`
	}
	if err := SetJSON(ctx, s, "subscription", payload{Tier: "pro", Limit: 500}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got payload
	if err := GetJSON(ctx, s, "subscription", &got); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if got.Tier != "pro" || got.Limit != 500 {
		t.Errorf("got %+v", got)
	}
}

func TestSQLiteStore_Watch(t *testing.T) {
	s := NewSQLiteStore(testutil.TestDB(t), ScopeSync)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := s.Watch(ctx)

	if err := s.Set(ctx, "settings", []byte(`{}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Remove(ctx, "settings"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	for i, wantNil := range []bool{false, true} {
		select {
		case c := <-changes:
			if c.Key != "settings" || c.Scope != ScopeSync {
				t.Errorf("change %d = %+v", i, c)
			}
			if (c.Value == nil) != wantNil {
				t.Errorf("change %d value nil = %v, want %v", i, c.Value == nil, wantNil)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			// A buffered change may still be pending; the channel closes right after.
			<-changes
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
