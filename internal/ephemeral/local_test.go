package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLocalStore() (*LocalStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := NewLocalStore()
	s.now = clock.Now
	return s, clock
}

func TestLocalStore_GetSetTTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestLocalStore()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	clock.Advance(time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "key must be gone exactly at its deadline")
}

func TestLocalStore_IncrKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestLocalStore()

	n, err := s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, s.Expire(ctx, "counter", 10*time.Second))

	clock.Advance(5 * time.Second)
	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	clock.Advance(5 * time.Second)
	n, err = s.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "the counter restarts once the first window expired")
}

func TestLocalStore_IncrNonInteger(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestLocalStore()

	require.NoError(t, s.Set(ctx, "k", "abc", 0))
	_, err := s.Incr(ctx, "k")
	assert.Error(t, err)
}

func TestLocalStore_SetNX(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestLocalStore()

	ok, err := s.SetNX(ctx, "lock", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Second)
	ok, err = s.SetNX(ctx, "lock", "c", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	val, _, _ := s.Get(ctx, "lock")
	assert.Equal(t, "c", val)
}

func TestLocalStore_Sweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestLocalStore()

	require.NoError(t, s.Set(ctx, "short", "1", time.Second))
	require.NoError(t, s.Set(ctx, "forever", "1", 0))
	require.NoError(t, s.Del(ctx, "missing"))

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, s.sweep())
	assert.Equal(t, 1, s.Len())
}
