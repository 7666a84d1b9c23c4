// Package memory provides in-process implementations of the cache ports for
// single-node deployments: the tier-1 TTL store, a rate limiter and a lock
// manager.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

type item struct {
	value     []byte
	expiresAt time.Time
}

func (i item) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// KV is a mutex-guarded map with per-key expiry. Expired keys are invisible
// to readers and removed lazily or by Sweep.
type KV struct {
	mu    sync.RWMutex
	items map[string]item
	now   func() time.Time
}

var _ domain.KVStore = (*KV)(nil)

// NewKV creates an empty KV.
func NewKV() *KV {
	return &KV{items: make(map[string]item), now: time.Now}
}

// Get returns the value stored under key or domain.ErrNotFound.
func (kv *KV) Get(_ context.Context, key string) ([]byte, error) {
	kv.mu.RLock()
	it, ok := kv.items[key]
	kv.mu.RUnlock()
	if !ok || it.expired(kv.now()) {
		return nil, domain.ErrNotFound
	}
	out := make([]byte, len(it.value))
	copy(out, it.value)
	return out, nil
}

// Set stores value under key. A zero ttl never expires.
func (kv *KV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expiresAt = kv.now().Add(ttl)
	}
	kv.mu.Lock()
	kv.items[key] = it
	kv.mu.Unlock()
	return nil
}

// Delete removes keys. Missing keys are ignored.
func (kv *KV) Delete(_ context.Context, keys ...string) error {
	kv.mu.Lock()
	for _, k := range keys {
		delete(kv.items, k)
	}
	kv.mu.Unlock()
	return nil
}

// ListByPrefix returns the live keys starting with prefix in sorted order.
func (kv *KV) ListByPrefix(_ context.Context, prefix string) ([]string, error) {
	now := kv.now()
	kv.mu.RLock()
	var keys []string
	for k, it := range kv.items {
		if strings.HasPrefix(k, prefix) && !it.expired(now) {
			keys = append(keys, k)
		}
	}
	kv.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Sweep removes expired keys and returns how many were dropped.
func (kv *KV) Sweep() int {
	now := kv.now()
	kv.mu.Lock()
	defer kv.mu.Unlock()
	n := 0
	for k, it := range kv.items {
		if it.expired(now) {
			delete(kv.items, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored keys, expired or not.
func (kv *KV) Len() int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return len(kv.items)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (kv *KV) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			kv.Sweep()
		}
	}
}
