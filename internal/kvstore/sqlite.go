package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore keeps one scope of the kv_store table.
type SQLiteStore struct {
	db     *sql.DB
	scope  Scope
	notify *notifier
}

// NewSQLiteStore creates a store bound to scope.
func NewSQLiteStore(db *sql.DB, scope Scope) *SQLiteStore {
	return &SQLiteStore{db: db, scope: scope, notify: newNotifier()}
}

func (s *SQLiteStore) Scope() Scope {
	return s.scope
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE scope = ? AND key = ?`, string(s.scope), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.scope, key, err)
	}
	return []byte(value), nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_store (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, string(s.scope), key, string(value), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", s.scope, key, err)
	}
	s.notify.publish(Change{Scope: s.scope, Key: key, Value: value})
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM kv_store WHERE scope = ? AND key = ?`, string(s.scope), key,
		); err != nil {
			return fmt.Errorf("remove %s/%s: %w", s.scope, key, err)
		}
		s.notify.publish(Change{Scope: s.scope, Key: key})
	}
	return nil
}

func (s *SQLiteStore) Watch(ctx context.Context) <-chan Change {
	return s.notify.watch(ctx)
}
