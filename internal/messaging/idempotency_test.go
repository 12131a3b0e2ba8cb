package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

// disconnectingRepo cancels the request context once the insert commits,
// the way a client hanging up mid-send would.
type disconnectingRepo struct {
	*memoryRepo
	cancel context.CancelFunc
}

func (r *disconnectingRepo) CreateMessage(ctx context.Context, in *NewMessage) (*CreateMessageResult, error) {
	res, err := r.memoryRepo.CreateMessage(ctx, in)
	if err == nil && r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return res, err
}

func TestSendMessage_RetryAfterClientDisconnect(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := &disconnectingRepo{memoryRepo: newMemoryRepo()}
	svc := NewService(repo, ephemeral.NewRedisStore(client, "chat:"), ratelimit.New(nil), nil, &recordingPush{}, testConfig())
	svc.SetNotifier(&recordingNotifier{})
	svc.idempotency.pollTimeout = 200 * time.Millisecond

	change, err := svc.CreateGroupChat(context.Background(), alice, "team", []string{"bob"})
	require.NoError(t, err)
	req := &SendMessageRequest{ConversationID: change.Conversation.ID, Content: "once", ClientMessageID: "c-1"}

	ctx, cancel := context.WithCancel(context.Background())
	repo.cancel = cancel
	first, err := svc.SendMessage(ctx, alice, nil, req)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	second, err := svc.SendMessage(context.Background(), alice, nil, req)
	require.NoError(t, err, "the retry must not see a stranded pending marker")
	svc.Wait()

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, repo.createCalls)
}

func TestClaim_AbortSurvivesCanceledContext(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := newIdempotencyStore(ephemeral.NewRedisStore(client, ""), time.Minute)

	_, c, err := s.Begin(context.Background(), alice, "c-2")
	require.NoError(t, err)
	require.NotNil(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.Abort(ctx)

	assert.False(t, mr.Exists(idempotencyKey(alice, "c-2")))
}

// brokenEntryStore always returns an undecodable snapshot and can fail deletes
type brokenEntryStore struct {
	*ephemeral.LocalStore
	delErr error
	gets   int
	dels   int
}

func (s *brokenEntryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.gets++
	if s.dels > 0 && s.delErr == nil {
		return s.LocalStore.Get(ctx, key)
	}
	return "{not json", true, nil
}

func (s *brokenEntryStore) Del(ctx context.Context, key string) error {
	s.dels++
	if s.delErr != nil {
		return s.delErr
	}
	return s.LocalStore.Del(ctx, key)
}

func TestIdempotencyBegin_UnreadableEntry(t *testing.T) {
	t.Run("failed delete proceeds unprotected", func(t *testing.T) {
		store := &brokenEntryStore{LocalStore: ephemeral.NewLocalStore(), delErr: errors.New("connection reset")}
		s := newIdempotencyStore(store, time.Minute)

		cached, c, err := s.Begin(context.Background(), alice, "k")
		require.NoError(t, err)
		assert.Nil(t, cached)
		assert.Nil(t, c)
		assert.Equal(t, 1, store.gets)
		assert.Equal(t, 1, store.dels)
	})

	t.Run("successful delete reclaims the key", func(t *testing.T) {
		store := &brokenEntryStore{LocalStore: ephemeral.NewLocalStore()}
		s := newIdempotencyStore(store, time.Minute)

		cached, c, err := s.Begin(context.Background(), alice, "k")
		require.NoError(t, err)
		assert.Nil(t, cached)
		require.NotNil(t, c)
		assert.Equal(t, 2, store.gets)
	})
}
