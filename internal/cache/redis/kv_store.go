package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// KVStore implements domain.KVStore on plain Redis strings so every instance
// shares the tier-1 freight cache. Expiry is delegated to Redis.
//
// Key schema:
//
//	{namespace}{key} - raw value, TTL set on write
type KVStore struct {
	rdb       *redis.Client
	namespace string
}

var _ domain.KVStore = (*KVStore)(nil)

// NewKVStore creates a KVStore. namespace is prepended to every key.
func NewKVStore(c *Client, namespace string) *KVStore {
	return &KVStore{rdb: c.Underlying(), namespace: namespace}
}

func (s *KVStore) key(k string) string { return s.namespace + k }

// Get returns the value under key or domain.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return data, nil
}

// Set stores value with ttl; zero ttl keeps the key until deleted.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys in one round-trip.
func (s *KVStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis: del %d keys: %w", len(keys), err)
	}
	return nil
}

// ListByPrefix walks the keyspace with SCAN and returns the matching keys
// without the namespace, sorted.
func (s *KVStore) ListByPrefix(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.key(prefix)) + "*"
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan %s: %w", prefix, err)
		}
		for _, k := range keys {
			seen[k[len(s.namespace):]] = struct{}{}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// escapeGlob escapes the characters SCAN MATCH treats as wildcards.
func escapeGlob(s string) string {
	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			buf = append(buf, '\\')
		}
		buf = append(buf, s[i])
	}
	return string(buf)
}
