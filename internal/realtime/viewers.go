// internal/realtime/viewers.go
// Which conversation each connection is looking at. The hub's process
// knows its own connections; the shared store covers the others.

package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
)

type viewing struct {
	conversationID int64
	at             time.Time
}

type Viewers struct {
	mu     sync.Mutex
	byUser map[int64]map[string]viewing
	store  ephemeral.Store
	ttl    time.Duration
	now    func() time.Time
}

func NewViewers(store ephemeral.Store, ttl time.Duration) *Viewers {
	return &Viewers{
		byUser: make(map[int64]map[string]viewing),
		store:  store,
		ttl:    ttl,
		now:    time.Now,
	}
}

func activeKey(userID, conversationID int64) string {
	return fmt.Sprintf("active:%d:%d", userID, conversationID)
}

// Heartbeat records what connID is viewing; nil means nothing. It returns
// true when the conversation changed since the previous heartbeat.
func (v *Viewers) Heartbeat(ctx context.Context, connID string, userID int64, conversationID *int64) bool {
	now := v.now()

	v.mu.Lock()
	prev, hadPrev := v.byUser[userID][connID]
	if conversationID == nil {
		v.removeLocked(userID, connID)
	} else {
		if v.byUser[userID] == nil {
			v.byUser[userID] = make(map[string]viewing)
		}
		v.byUser[userID][connID] = viewing{conversationID: *conversationID, at: now}
	}
	stale := hadPrev && (conversationID == nil || prev.conversationID != *conversationID) &&
		!v.viewedLocally(userID, prev.conversationID, now)
	v.mu.Unlock()

	if v.store != nil {
		if stale {
			if err := v.store.Del(ctx, activeKey(userID, prev.conversationID)); err != nil {
				log.Printf("⚠️  Failed to clear viewer key for user %d: %v", userID, err)
			}
		}
		if conversationID != nil {
			if err := v.store.Set(ctx, activeKey(userID, *conversationID), "1", v.ttl); err != nil {
				log.Printf("⚠️  Failed to mirror viewer heartbeat for user %d: %v", userID, err)
			}
		}
	}

	if conversationID == nil {
		return hadPrev
	}
	return !hadPrev || prev.conversationID != *conversationID
}

// Drop forgets a closed connection
func (v *Viewers) Drop(ctx context.Context, connID string, userID int64) {
	v.mu.Lock()
	prev, ok := v.byUser[userID][connID]
	v.removeLocked(userID, connID)
	stale := ok && !v.viewedLocally(userID, prev.conversationID, v.now())
	v.mu.Unlock()

	if stale && v.store != nil {
		if err := v.store.Del(ctx, activeKey(userID, prev.conversationID)); err != nil {
			log.Printf("⚠️  Failed to clear viewer key for user %d: %v", userID, err)
		}
	}
}

// ActiveViewers returns the subset of userIDs with a fresh heartbeat for
// the conversation, here or in another process
func (v *Viewers) ActiveViewers(ctx context.Context, conversationID int64, userIDs []int64) []int64 {
	now := v.now()
	var out, remote []int64

	v.mu.Lock()
	for _, uid := range userIDs {
		if v.viewedLocally(uid, conversationID, now) {
			out = append(out, uid)
		} else {
			remote = append(remote, uid)
		}
	}
	v.mu.Unlock()

	if v.store == nil {
		return out
	}
	for _, uid := range remote {
		_, ok, err := v.store.Get(ctx, activeKey(uid, conversationID))
		if err != nil {
			log.Printf("⚠️  Viewer lookup failed for user %d: %v", uid, err)
			continue
		}
		if ok {
			out = append(out, uid)
		}
	}
	return out
}

func (v *Viewers) viewedLocally(userID, conversationID int64, now time.Time) bool {
	for _, w := range v.byUser[userID] {
		if w.conversationID == conversationID && now.Sub(w.at) <= v.ttl {
			return true
		}
	}
	return false
}

func (v *Viewers) removeLocked(userID int64, connID string) {
	conns := v.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(v.byUser, userID)
	}
}
