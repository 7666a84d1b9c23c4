package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

// newTestClient connects to FREIGHT_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("FREIGHT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FREIGHT_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, DialTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `freight:MLB\*1:`, escapeGlob("freight:MLB*1:"))
	assert.Equal(t, `a\?b\[c\]\\`, escapeGlob(`a?b[c]\`))
	assert.Equal(t, "plain", escapeGlob("plain"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("freight:*"))
	assert.False(t, hasPattern("freight:invalidations"))
}

func TestKVStore_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	ns := "test:" + uuid.NewString() + ":"
	kv := NewKVStore(c, ns)

	require.NoError(t, kv.Set(ctx, "freight:MLB1:01310100", []byte(`{"v":1}`), time.Minute))
	require.NoError(t, kv.Set(ctx, "freight:MLB1:20040020", []byte(`{"v":2}`), time.Minute))
	require.NoError(t, kv.Set(ctx, "freight:MLB2:01310100", []byte(`{"v":3}`), time.Minute))

	got, err := kv.Get(ctx, "freight:MLB1:01310100")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))

	keys, err := kv.ListByPrefix(ctx, "freight:MLB1:")
	require.NoError(t, err)
	assert.Equal(t, []string{"freight:MLB1:01310100", "freight:MLB1:20040020"}, keys)

	require.NoError(t, kv.Delete(ctx, keys...))
	_, err = kv.Get(ctx, "freight:MLB1:01310100")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, kv.Delete(ctx, "freight:MLB2:01310100"))
}

func TestLockManager_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiter_Integration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBus_Integration(t *testing.T) {
	c := newTestClient(t)
	bus := NewSignalBus(c)
	channel := "test:" + uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, channel, []byte("MLB1")))
	select {
	case msg := <-ch:
		assert.Equal(t, "MLB1", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
