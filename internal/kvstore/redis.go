package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "linkpreview:"

// RedisStore backs a scope with Redis so several devices share it.
// Writes are announced on a pub/sub channel so every instance can watch them.
type RedisStore struct {
	client *redis.Client
	scope  Scope
}

// NewRedisStore creates a Redis-backed store for scope.
func NewRedisStore(client *redis.Client, scope Scope) *RedisStore {
	return &RedisStore{client: client, scope: scope}
}

type redisChange struct {
	Key     string `json:"key"`
	Value   []byte `json:"value,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

func (s *RedisStore) Scope() Scope {
	return s.scope
}

func (s *RedisStore) key(k string) string {
	return redisKeyPrefix + string(s.scope) + ":" + k
}

func (s *RedisStore) channel() string {
	return redisKeyPrefix + string(s.scope) + ":changes"
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.scope, key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s/%s: %w", s.scope, key, err)
	}
	s.publish(ctx, redisChange{Key: key, Value: value})
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", s.scope, err)
	}
	for _, k := range keys {
		s.publish(ctx, redisChange{Key: k, Removed: true})
	}
	return nil
}

func (s *RedisStore) publish(ctx context.Context, c redisChange) {
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		slog.Warn("kvstore: publish change failed", "scope", s.scope, "key", c.Key, "error", err)
	}
}

func (s *RedisStore) Watch(ctx context.Context) <-chan Change {
	out := make(chan Change, 16)
	sub := s.client.Subscribe(ctx, s.channel())

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c redisChange
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					continue
				}
				change := Change{Scope: s.scope, Key: c.Key}
				if !c.Removed {
					change.Value = c.Value
				}
				select {
				case out <- change:
				default:
				}
			}
		}
	}()

	return out
}
