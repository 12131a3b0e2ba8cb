// internal/realtime/presence.go
// Presence per user, reference counted across connections. Transitions are
// debounced: only the last state inside the window is broadcast, and only
// when it differs from what was broadcast before.

package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

const presenceTTL = 24 * time.Hour

// LastSeenRecorder persists when a user went offline
type LastSeenRecorder interface {
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
}

type pendingPresence struct {
	status string
	rooms  []string
	timer  *time.Timer
}

type Presence struct {
	mu        sync.Mutex
	refs      map[int64]int
	pending   map[int64]*pendingPresence
	announced map[int64]string

	debounce time.Duration
	store    ephemeral.Store
	lastSeen LastSeenRecorder
	notifier messaging.Notifier
	now      func() time.Time
}

func NewPresence(notifier messaging.Notifier, store ephemeral.Store, lastSeen LastSeenRecorder, debounce time.Duration) *Presence {
	return &Presence{
		refs:      make(map[int64]int),
		pending:   make(map[int64]*pendingPresence),
		announced: make(map[int64]string),
		debounce:  debounce,
		store:     store,
		lastSeen:  lastSeen,
		notifier:  notifier,
		now:       time.Now,
	}
}

// Connected counts a new connection and schedules active
func (p *Presence) Connected(userID int64, rooms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs[userID]++
	p.schedule(userID, StatusActive, rooms)
}

// Disconnected drops a connection. Offline is only scheduled once the last
// connection of the user is gone.
func (p *Presence) Disconnected(userID int64, rooms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs[userID] > 1 {
		p.refs[userID]--
		return
	}
	delete(p.refs, userID)
	p.schedule(userID, StatusOffline, rooms)
}

// SetStatus switches a connected user between active and away
func (p *Presence) SetStatus(userID int64, status string, rooms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs[userID] == 0 {
		return
	}
	p.schedule(userID, status, rooms)
}

// Status is the last broadcast state
func (p *Presence) Status(userID int64) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.announced[userID]; ok {
		return s
	}
	return StatusOffline
}

// schedule must be called with p.mu held
func (p *Presence) schedule(userID int64, status string, rooms []string) {
	if pp, ok := p.pending[userID]; ok {
		pp.status = status
		pp.rooms = rooms
		return
	}
	pp := &pendingPresence{status: status, rooms: rooms}
	pp.timer = time.AfterFunc(p.debounce, func() { p.flush(userID) })
	p.pending[userID] = pp
}

func (p *Presence) flush(userID int64) {
	p.mu.Lock()
	pp, ok := p.pending[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, userID)

	previous, known := p.announced[userID]
	if !known {
		previous = StatusOffline
	}
	if pp.status == previous {
		p.mu.Unlock()
		presenceCoalescedTotal.Inc()
		return
	}
	if pp.status == StatusOffline {
		delete(p.announced, userID)
	} else {
		p.announced[userID] = pp.status
	}
	p.mu.Unlock()

	p.announce(userID, pp.status, pp.rooms)
}

func (p *Presence) announce(userID int64, status string, rooms []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &PresenceEvent{UserID: userID, Status: status}
	key := fmt.Sprintf("presence:%d", userID)

	if status == StatusOffline {
		at := p.now().UTC()
		event.LastSeen = &at
		if p.lastSeen != nil {
			if err := p.lastSeen.TouchLastSeen(ctx, userID, at); err != nil {
				log.Printf("⚠️  Failed to record last seen for user %d: %v", userID, err)
			}
		}
		if p.store != nil {
			if err := p.store.Del(ctx, key); err != nil {
				log.Printf("⚠️  Failed to clear presence of user %d: %v", userID, err)
			}
		}
	} else if p.store != nil {
		if err := p.store.Set(ctx, key, status, presenceTTL); err != nil {
			log.Printf("⚠️  Failed to mirror presence of user %d: %v", userID, err)
		}
	}

	presenceUpdatesTotal.WithLabelValues(status).Inc()
	for _, room := range rooms {
		p.notifier.EmitToRoom(room, messaging.EventPresenceUpdate, event)
	}
}
