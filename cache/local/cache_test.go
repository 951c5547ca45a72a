package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session:1", "admin", 0))
	v, err := c.Get(ctx, "session:1")
	require.NoError(t, err)
	assert.Equal(t, "admin", v)

	ok, err := c.Exists(ctx, "session:1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	ok, _ := c.Exists(ctx, "short")
	assert.False(t, ok)
}

func TestExpireAndDel(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Expire(ctx, "nope", time.Second), ErrNotFound)

	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))
	require.NoError(t, c.Expire(ctx, "a", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Del(ctx, "b", "unknown"))
	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListPushRangeTrim(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.LPush(ctx, "recent", "e1"))
	require.NoError(t, c.LPush(ctx, "recent", "e2", "e3"))

	all, err := c.LRange(ctx, "recent", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e2", "e1"}, all)

	head, err := c.LRange(ctx, "recent", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e2"}, head)

	require.NoError(t, c.LTrim(ctx, "recent", 0, 1))
	all, err = c.LRange(ctx, "recent", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"e3", "e2"}, all)

	empty, err := c.LRange(ctx, "recent", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListWrongType(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	assert.ErrorIs(t, c.LPush(ctx, "k", "x"), ErrWrongType)

	require.NoError(t, c.LPush(ctx, "l", "x"))
	_, err := c.Get(ctx, "l")
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestClampRange(t *testing.T) {
	lo, hi, ok := clampRange(5, -2, -1)
	require.True(t, ok)
	assert.Equal(t, int64(3), lo)
	assert.Equal(t, int64(5), hi)

	_, _, ok = clampRange(0, 0, -1)
	assert.False(t, ok)

	_, _, ok = clampRange(3, 2, 1)
	assert.False(t, ok)
}
