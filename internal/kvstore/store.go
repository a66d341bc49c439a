// Package kvstore persists small keyed values in the two storage scopes the
// extension used: a per-device local scope and a cross-device sync scope.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type Scope string

const (
	ScopeLocal Scope = "local"
	ScopeSync  Scope = "sync"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kvstore: key not found")

// Change describes a write to a key. Value is nil when the key was removed.
type Change struct {
	Scope Scope
	Key   string
	Value []byte
}

// Store is a scoped key-value store with change notifications.
type Store interface {
	Scope() Scope
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, keys ...string) error
	// Watch delivers changes until ctx is done. Slow receivers drop changes.
	Watch(ctx context.Context) <-chan Change
}

// GetJSON decodes the JSON value stored under key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v under key as JSON.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

// notifier fans changes out to watchers without blocking writers.
type notifier struct {
	mu       sync.Mutex
	watchers map[chan Change]struct{}
}

func newNotifier() *notifier {
	return &notifier{watchers: make(map[chan Change]struct{})}
}

func (n *notifier) watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, 16)

	n.mu.Lock()
	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, ch)
		close(ch)
		n.mu.Unlock()
	}()

	return ch
}

func (n *notifier) publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
