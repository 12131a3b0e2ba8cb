// internal/ratelimit/limiter.go
// Layered fixed-window rate limiting: per connection, per user within the
// process, and per user across processes through the shared store.

package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
)

// Rule is one operation's limit. Operations never share buckets.
type Rule struct {
	Operation string
	Limit     int
	Window    time.Duration
}

type bucket struct {
	count   int
	resetAt time.Time
}

// window is a set of fixed-window buckets, created lazily per key
type window struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

func newWindow() *window {
	return &window{buckets: make(map[string]*bucket)}
}

// hit counts one call and reports whether it exceeds the rule
func (w *window) hit(key string, rule Rule, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(rule.Window)}
		w.buckets[key] = b
	}
	b.count++
	return b.count > rule.Limit
}

func (w *window) prune(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, b := range w.buckets {
		if !now.Before(b.resetAt) {
			delete(w.buckets, key)
			removed++
		}
	}
	return removed
}

// Buckets holds one connection's counters. It is owned by the connection
// and discarded with it.
type Buckets struct {
	w *window
}

func NewBuckets() *Buckets {
	return &Buckets{w: newWindow()}
}

// Limiter owns the process-wide per-user buckets and the optional shared store
type Limiter struct {
	users  *window
	shared ephemeral.Store
	now    func() time.Time
}

// New creates a limiter. shared may be nil, which disables the
// cross-process layer.
func New(shared ephemeral.Store) *Limiter {
	return &Limiter{
		users:  newWindow(),
		shared: shared,
		now:    time.Now,
	}
}

// IsLimited checks the layers in order and stops at the first breach, so a
// rejected call is never counted by the layers after it. conn is nil for
// callers without a persistent connection.
func (l *Limiter) IsLimited(ctx context.Context, conn *Buckets, userID int64, rule Rule) bool {
	now := l.now()

	// 1. Per connection
	if conn != nil && conn.w.hit(rule.Operation, rule, now) {
		rejectedTotal.WithLabelValues(rule.Operation, "connection").Inc()
		return true
	}

	// 2. Per user, this process
	if l.users.hit(fmt.Sprintf("%d:%s", userID, rule.Operation), rule, now) {
		rejectedTotal.WithLabelValues(rule.Operation, "user").Inc()
		return true
	}

	// 3. Per user, all processes
	if l.shared != nil && l.sharedHit(ctx, userID, rule) {
		rejectedTotal.WithLabelValues(rule.Operation, "cluster").Inc()
		return true
	}

	return false
}

// sharedHit fails open: a store error never blocks traffic
func (l *Limiter) sharedHit(ctx context.Context, userID int64, rule Rule) bool {
	key := fmt.Sprintf("rl:%s:%d", rule.Operation, userID)

	count, err := l.shared.Incr(ctx, key)
	if err != nil {
		log.Printf("⚠️  Rate limit store unavailable for %s, allowing request: %v", key, err)
		sharedFailuresTotal.Inc()
		return false
	}

	if count == 1 {
		if err := l.shared.Expire(ctx, key, rule.Window); err != nil {
			log.Printf("⚠️  Failed to set rate limit window on %s: %v", key, err)
			sharedFailuresTotal.Inc()
		}
	}

	return count > int64(rule.Limit)
}

// Start prunes expired per-user buckets until ctx is cancelled
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.users.prune(l.now())
		case <-ctx.Done():
			return
		}
	}
}
