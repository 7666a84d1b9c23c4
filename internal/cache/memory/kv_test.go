package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/freightquote/internal/domain"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestKV() (*KV, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	kv := NewKV()
	kv.now = c.now
	return kv, c
}

func TestKV_SetGet(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestKV()

	require.NoError(t, kv.Set(ctx, "freight:MLB1:01310100", []byte("v1"), time.Minute))
	got, err := kv.Get(ctx, "freight:MLB1:01310100")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	_, err = kv.Get(ctx, "freight:missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKV_Expiry(t *testing.T) {
	ctx := context.Background()
	kv, c := newTestKV()

	require.NoError(t, kv.Set(ctx, "a", []byte("x"), 10*time.Minute))
	require.NoError(t, kv.Set(ctx, "b", []byte("y"), 0))

	c.t = c.t.Add(10 * time.Minute)
	_, err := kv.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = kv.Get(ctx, "b")
	assert.NoError(t, err)

	assert.Equal(t, 1, kv.Sweep())
	assert.Equal(t, 1, kv.Len())
}

func TestKV_ListByPrefixAndDelete(t *testing.T) {
	ctx := context.Background()
	kv, c := newTestKV()

	require.NoError(t, kv.Set(ctx, "freight:MLB1:1", nil, time.Minute))
	require.NoError(t, kv.Set(ctx, "freight:MLB1:2", nil, time.Minute))
	require.NoError(t, kv.Set(ctx, "freight:MLB2:1", nil, time.Second))
	require.NoError(t, kv.Set(ctx, "other", nil, time.Minute))

	keys, err := kv.ListByPrefix(ctx, "freight:")
	require.NoError(t, err)
	assert.Equal(t, []string{"freight:MLB1:1", "freight:MLB1:2", "freight:MLB2:1"}, keys)

	c.t = c.t.Add(2 * time.Second)
	keys, err = kv.ListByPrefix(ctx, "freight:")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, kv.Delete(ctx, "freight:MLB1:1", "nope"))
	keys, err = kv.ListByPrefix(ctx, "freight:MLB1:")
	require.NoError(t, err)
	assert.Equal(t, []string{"freight:MLB1:2"}, keys)
}

func TestKV_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	kv, _ := newTestKV()
	require.NoError(t, kv.Set(ctx, "k", []byte("abc"), 0))

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'z'

	again, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}
