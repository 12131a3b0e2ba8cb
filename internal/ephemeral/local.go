// internal/ephemeral/local.go

package ephemeral

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LocalStore is an in-process Store. Expired keys are invisible immediately
// and physically removed by Start's sweep.
type LocalStore struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (s *LocalStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *LocalStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *LocalStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = entry{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

// Incr keeps an existing expiry, matching Redis INCR
func (s *LocalStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = entry{value: "0"}
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value at %q is not an integer", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}

func (s *LocalStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil
	}
	e.expiresAt = s.deadline(ttl)
	s.entries[key] = e
	return nil
}

func (s *LocalStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len reports live keys
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Start sweeps expired keys until ctx is cancelled
func (s *LocalStore) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.sweep(); removed > 0 {
				log.Printf("Local store sweep removed %d expired keys", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *LocalStore) sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// lookup must be called with mu held
func (s *LocalStore) lookup(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *LocalStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
