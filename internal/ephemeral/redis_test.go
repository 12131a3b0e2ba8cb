package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "chat:"), mr
}

func TestRedisStore_Contract(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	assert.True(t, mr.Exists("chat:k"), "keys are namespaced by prefix")

	val, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)

	mr.FastForward(time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_IncrExpire(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	n, err := s.Incr(ctx, "rl")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, s.Expire(ctx, "rl", 10*time.Second))

	n, err = s.Incr(ctx, "rl")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mr.FastForward(10 * time.Second)
	n, err = s.Incr(ctx, "rl")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStore_SetNXAndDel(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestRedisStore(t)

	ok, err := s.SetNX(ctx, "idem", "pending", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "idem", "pending", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Del(ctx, "idem"))
	ok, err = s.SetNX(ctx, "idem", "pending", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	mr.Close()

	_, err := s.Incr(ctx, "rl")
	assert.Error(t, err)
}
