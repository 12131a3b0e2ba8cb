// internal/messaging/idempotency.go
// Client message ids make sends retry-safe. The first send claims the key
// with a pending marker; the stored snapshot replaces it once the message
// is persisted. Duplicates that arrive while the marker is pending wait for
// the snapshot instead of inserting again.

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
)

const (
	pendingMarker = "pending"

	// bookkeeping outlives the request so a disconnect cannot strand the marker
	bookkeepingTimeout = 2 * time.Second
)

type idempotencyStore struct {
	store        ephemeral.Store
	ttl          time.Duration
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func newIdempotencyStore(store ephemeral.Store, ttl time.Duration) *idempotencyStore {
	return &idempotencyStore{
		store:        store,
		ttl:          ttl,
		pollInterval: 50 * time.Millisecond,
		pollTimeout:  5 * time.Second,
	}
}

// claim is held by the send that owns a client message id
type claim struct {
	s   *idempotencyStore
	key string
}

func idempotencyKey(userID int64, clientMessageID string) string {
	return fmt.Sprintf("idem:%d:%s", userID, clientMessageID)
}

// Begin returns either a cached message or a claim. Both are nil when the
// store is unavailable; the send then proceeds without duplicate protection.
func (s *idempotencyStore) Begin(ctx context.Context, userID int64, clientMessageID string) (*Message, *claim, error) {
	key := idempotencyKey(userID, clientMessageID)
	deadline := time.Now().Add(s.pollTimeout)

	for {
		value, found, err := s.store.Get(ctx, key)
		if err != nil {
			log.Printf("⚠️  Idempotency store unavailable for %s: %v", key, err)
			return nil, nil, nil
		}

		switch {
		case found && value != pendingMarker:
			var cached Message
			if err := json.Unmarshal([]byte(value), &cached); err != nil {
				log.Printf("⚠️  Discarding unreadable idempotency entry %s: %v", key, err)
				if err := s.store.Del(ctx, key); err != nil {
					log.Printf("⚠️  Idempotency store unavailable for %s: %v", key, err)
					return nil, nil, nil
				}
				continue
			}
			return &cached, nil, nil

		case !found:
			ok, err := s.store.SetNX(ctx, key, pendingMarker, s.ttl)
			if err != nil {
				log.Printf("⚠️  Idempotency store unavailable for %s: %v", key, err)
				return nil, nil, nil
			}
			if ok {
				return nil, &claim{s: s, key: key}, nil
			}
			// lost the race, the winner's marker is now visible
			continue
		}

		if time.Now().After(deadline) {
			return nil, nil, ErrInFlight
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// Complete replaces the pending marker with the snapshot
func (c *claim) Complete(ctx context.Context, msg *Message) {
	if c == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("❌ Failed to encode idempotency snapshot %s: %v", c.key, err)
		return
	}

	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()
	if err := c.s.store.Set(ctx, c.key, string(data), c.s.ttl); err != nil {
		log.Printf("⚠️  Failed to store idempotency snapshot %s: %v", c.key, err)
	}
}

// Abort releases the key so a retry can send again
func (c *claim) Abort(ctx context.Context) {
	if c == nil {
		return
	}

	ctx, cancel := bookkeepingContext(ctx)
	defer cancel()
	if err := c.s.store.Del(ctx, c.key); err != nil {
		log.Printf("⚠️  Failed to release idempotency key %s: %v", c.key, err)
	}
}

func bookkeepingContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}
