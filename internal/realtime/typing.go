// internal/realtime/typing.go
// Typing state per (connection, conversation). Each Start bumps a sequence
// number and re-arms the expiry timer; a timer only ends typing if its
// sequence is still current, so a stale timer can never cut off a newer Start.

package realtime

import (
	"sync"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// roomEmitter broadcasts to a room, skipping one connection
type roomEmitter interface {
	EmitToRoomExcept(room, event string, payload interface{}, exceptConn string)
}

type typingKey struct {
	connID         string
	conversationID int64
}

type typingState struct {
	seq      uint64
	timer    *time.Timer
	userID   int64
	username string
}

type Typing struct {
	mu     sync.Mutex
	states map[typingKey]*typingState
	seqs   map[typingKey]uint64
	ttl    time.Duration
	emit   roomEmitter
}

func NewTyping(emit roomEmitter, ttl time.Duration) *Typing {
	return &Typing{
		states: make(map[typingKey]*typingState),
		seqs:   make(map[typingKey]uint64),
		ttl:    ttl,
		emit:   emit,
	}
}

// Start marks the connection as typing and (re)schedules the automatic stop
func (t *Typing) Start(connID string, userID int64, username string, conversationID int64) {
	key := typingKey{connID: connID, conversationID: conversationID}

	t.mu.Lock()
	t.seqs[key]++
	seq := t.seqs[key]
	st, ok := t.states[key]
	if ok {
		st.timer.Stop()
	} else {
		st = &typingState{userID: userID, username: username}
		t.states[key] = st
	}
	st.seq = seq
	st.timer = time.AfterFunc(t.ttl, func() { t.expire(key, seq) })
	t.mu.Unlock()

	t.emit.EmitToRoomExcept(messaging.ConversationRoom(conversationID), messaging.EventTypingIndicator, &TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Username:       username,
		Typing:         true,
	}, connID)
}

// Stop ends typing now. It reports false when the connection was not typing.
func (t *Typing) Stop(connID string, conversationID int64) bool {
	key := typingKey{connID: connID, conversationID: conversationID}

	t.mu.Lock()
	st, ok := t.states[key]
	if !ok {
		t.mu.Unlock()
		return false
	}
	st.timer.Stop()
	delete(t.states, key)
	t.mu.Unlock()

	t.broadcastStop(key, st.userID)
	return true
}

// DropConnection stops everything a closing connection was typing in
func (t *Typing) DropConnection(connID string) {
	t.mu.Lock()
	var dropped []typingKey
	var users []int64
	for key, st := range t.states {
		if key.connID != connID {
			continue
		}
		st.timer.Stop()
		delete(t.states, key)
		dropped = append(dropped, key)
		users = append(users, st.userID)
	}
	for key := range t.seqs {
		if key.connID == connID {
			delete(t.seqs, key)
		}
	}
	t.mu.Unlock()

	for i, key := range dropped {
		t.broadcastStop(key, users[i])
	}
}

// expire runs on the timer goroutine
func (t *Typing) expire(key typingKey, seq uint64) {
	t.mu.Lock()
	st, ok := t.states[key]
	if !ok || st.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.states, key)
	t.mu.Unlock()

	typingExpiredTotal.Inc()
	t.broadcastStop(key, st.userID)
}

func (t *Typing) broadcastStop(key typingKey, userID int64) {
	t.emit.EmitToRoomExcept(messaging.ConversationRoom(key.conversationID), messaging.EventTypingStop, &TypingEvent{
		ConversationID: key.conversationID,
		UserID:         userID,
	}, key.connID)
}

// active reports whether the connection is typing in the conversation
func (t *Typing) active(connID string, conversationID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.states[typingKey{connID: connID, conversationID: conversationID}]
	return ok
}
