// internal/realtime/hub.go

package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

const outboxSize = 1024

// ChatService is what socket events call into
type ChatService interface {
	SendMessage(ctx context.Context, userID int64, conn *ratelimit.Buckets, req *messaging.SendMessageRequest) (*messaging.Message, error)
	ToggleReaction(ctx context.Context, userID int64, conn *ratelimit.Buckets, messageID int64, emoji string) (*messaging.ReactionUpdate, error)
	CanJoin(ctx context.Context, userID, conversationID int64) error
	ActiveConversationIDs(ctx context.Context, userID int64) ([]int64, error)
	MarkRead(ctx context.Context, userID, conversationID int64) error
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error
}

// Config holds the socket limits and timers
type Config struct {
	MaxConnectionsPerUser int
	PresenceDebounce      time.Duration
	ActiveViewerTTL       time.Duration
	TypingTTL             time.Duration
	TypingRule            ratelimit.Rule
	EventTimeout          time.Duration
}

// Hub maintains live connections and the rooms they are subscribed to.
// It implements messaging.Notifier, messaging.ViewerIndex and
// auth.Disconnector.
type Hub struct {
	nodeID string

	mu    sync.RWMutex
	conns map[string]*Client
	users map[int64]map[*Client]struct{}
	rooms map[string]map[*Client]struct{}

	service  ChatService
	limiter  *ratelimit.Limiter
	counter  *ConnectionCounter
	presence *Presence
	typing   *Typing
	viewers  *Viewers
	config   *Config

	bus    Bus
	outbox chan *Envelope

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHub(service ChatService, limiter *ratelimit.Limiter, store ephemeral.Store, config *Config) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	if config.EventTimeout <= 0 {
		config.EventTimeout = 10 * time.Second
	}

	h := &Hub{
		nodeID:  uuid.NewString(),
		conns:   make(map[string]*Client),
		users:   make(map[int64]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		service: service,
		limiter: limiter,
		counter: NewConnectionCounter(config.MaxConnectionsPerUser),
		viewers: NewViewers(store, config.ActiveViewerTTL),
		config:  config,
		outbox:  make(chan *Envelope, outboxSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	h.presence = NewPresence(h, store, service, config.PresenceDebounce)
	h.typing = NewTyping(h, config.TypingTTL)
	return h
}

// SetBus enables cross-process fan-out. Call before Run.
func (h *Hub) SetBus(bus Bus) {
	h.bus = bus
}

// NodeID identifies this process on the bus
func (h *Hub) NodeID() string {
	return h.nodeID
}

func (h *Hub) Counter() *ConnectionCounter {
	return h.counter
}

// Run sweeps the connection counter and pumps the bus until ctx is done
// or the hub shuts down
func (h *Hub) Run(ctx context.Context, sweepInterval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(h.ctx, cancel)
	defer stopAfter()

	if h.bus != nil {
		h.wg.Add(2)
		go func() {
			defer h.wg.Done()
			h.publishLoop(ctx)
		}()
		go func() {
			defer h.wg.Done()
			if err := h.bus.Consume(ctx, h.apply); err != nil {
				log.Printf("❌ Bus consumer stopped: %v", err)
			}
		}()
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown closes every connection and waits for background work
func (h *Hub) Shutdown() {
	h.cancel()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	h.wg.Wait()

	if h.bus != nil {
		if err := h.bus.Close(); err != nil {
			log.Printf("⚠️  Failed to close bus: %v", err)
		}
	}
}

// Register subscribes an admitted connection to its user room and to every
// conversation the user is an active member of
func (h *Hub) Register(ctx context.Context, c *Client) {
	ids, err := h.service.ActiveConversationIDs(ctx, c.userID)
	if err != nil {
		log.Printf("⚠️  Failed to load conversations for user %d, joining user room only: %v", c.userID, err)
	}

	h.mu.Lock()
	h.conns[c.id] = c
	if h.users[c.userID] == nil {
		h.users[c.userID] = make(map[*Client]struct{})
	}
	h.users[c.userID][c] = struct{}{}
	h.counter.Promote(c.userID)
	h.joinLocked(c, messaging.UserRoom(c.userID))
	for _, id := range ids {
		h.joinLocked(c, messaging.ConversationRoom(id))
	}
	rooms := h.presenceRoomsLocked(c.userID)
	total := len(h.conns)
	h.mu.Unlock()

	connectionsGauge.Inc()
	h.presence.Connected(c.userID, rooms)
	log.Printf("User %d connected on %s. Total connections: %d", c.userID, c.id, total)
}

// Unregister removes a connection. It is safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	rooms := h.presenceRoomsLocked(c.userID)
	delete(h.conns, c.id)
	if conns := h.users[c.userID]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.users, c.userID)
		}
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.counter.Release(c.userID)
	total := len(h.conns)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.typing.DropConnection(c.id)
	h.viewers.Drop(ctx, c.id, c.userID)
	h.presence.Disconnected(c.userID, rooms)
	connectionsGauge.Dec()
	log.Printf("User %d disconnected from %s. Total connections: %d", c.userID, c.id, total)
}

// Sweep resets the connection counter to the live connection set. It runs
// under the hub lock so no slot is promoted or released mid-sweep.
func (h *Hub) Sweep() {
	h.mu.RLock()
	n := h.counter.Sweep(h.liveCountsLocked())
	h.mu.RUnlock()

	if n > 0 {
		counterCorrectionsTotal.Add(float64(n))
		log.Printf("⚠️  Connection sweep corrected %d users", n)
	}
}

func (h *Hub) liveCountsLocked() map[int64]int {
	live := make(map[int64]int, len(h.users))
	for userID, conns := range h.users {
		live[userID] = len(conns)
	}
	return live
}

// messaging.Notifier

func (h *Hub) EmitToRoom(room, event string, payload interface{}) {
	h.EmitToRoomExcept(room, event, payload, "")
}

func (h *Hub) EmitToUser(userID int64, event string, payload interface{}) {
	h.EmitToRoomExcept(messaging.UserRoom(userID), event, payload, "")
}

// EmitToRoomExcept broadcasts to every connection in room but exceptConn
func (h *Hub) EmitToRoomExcept(room, event string, payload interface{}, exceptConn string) {
	frame := encodeFrame(event, payload, "")
	h.deliver(room, frame, exceptConn)
	h.publish(&Envelope{Op: OpEmit, Room: room, Frame: frame, ExceptConn: exceptConn})
}

// JoinRoom subscribes every connection of the user
func (h *Hub) JoinRoom(userID int64, room string) {
	h.joinUser(userID, room)
	h.publish(&Envelope{Op: OpJoin, Room: room, UserID: userID})
}

// LeaveRoom unsubscribes every connection of the user
func (h *Hub) LeaveRoom(userID int64, room string) {
	h.leaveUser(userID, room)
	h.publish(&Envelope{Op: OpLeave, Room: room, UserID: userID})
}

// auth.Disconnector

func (h *Hub) DisconnectUser(userID int64) {
	h.disconnect(func(c *Client) bool { return c.userID == userID })
	h.publish(&Envelope{Op: OpDisconnectUser, UserID: userID})
}

func (h *Hub) DisconnectToken(jti string) {
	h.disconnect(func(c *Client) bool { return c.jti == jti })
	h.publish(&Envelope{Op: OpDisconnectToken, JTI: jti})
}

// messaging.ViewerIndex

func (h *Hub) ActiveViewers(ctx context.Context, conversationID int64, userIDs []int64) []int64 {
	return h.viewers.ActiveViewers(ctx, conversationID, userIDs)
}

func (h *Hub) deliver(room string, frame []byte, exceptConn string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c.id != exceptConn {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (h *Hub) joinUser(userID int64, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		h.joinLocked(c, room)
	}
}

func (h *Hub) leaveUser(userID int64, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.users[userID] {
		h.leaveLocked(c, room)
	}
}

// joinClient subscribes one connection
func (h *Hub) joinClient(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c.id]; ok {
		h.joinLocked(c, room)
	}
}

func (h *Hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (h *Hub) joinLocked(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// presenceRoomsLocked lists the conversation rooms any connection of the
// user is in, which is where presence changes are announced
func (h *Hub) presenceRoomsLocked(userID int64) []string {
	seen := make(map[string]struct{})
	var rooms []string
	for c := range h.users[userID] {
		for room := range c.rooms {
			if room == messaging.UserRoom(userID) {
				continue
			}
			if _, ok := seen[room]; !ok {
				seen[room] = struct{}{}
				rooms = append(rooms, room)
			}
		}
	}
	return rooms
}

func (h *Hub) userRooms(userID int64) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.presenceRoomsLocked(userID)
}

func (h *Hub) disconnect(match func(*Client) bool) {
	h.mu.RLock()
	var targets []*Client
	for _, c := range h.conns {
		if match(c) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		log.Printf("🔒 Closing connection %s of user %d after revocation", c.id, c.userID)
		c.Close()
	}
}

func (h *Hub) publish(env *Envelope) {
	if h.bus == nil {
		return
	}
	env.Origin = h.nodeID
	select {
	case h.outbox <- env:
	default:
		droppedFramesTotal.WithLabelValues("bus").Inc()
		log.Printf("⚠️  Bus outbox full, dropping %s for %s", env.Op, env.Room)
	}
}

func (h *Hub) publishLoop(ctx context.Context) {
	for {
		select {
		case env := <-h.outbox:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := h.bus.Publish(pubCtx, env); err != nil {
				busFailuresTotal.WithLabelValues("publish").Inc()
				log.Printf("⚠️  Failed to publish %s to bus: %v", env.Op, err)
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// apply replays another process's room operation on local connections
func (h *Hub) apply(env *Envelope) {
	if env.Origin == h.nodeID {
		return
	}
	switch env.Op {
	case OpEmit:
		h.deliver(env.Room, env.Frame, env.ExceptConn)
	case OpJoin:
		h.joinUser(env.UserID, env.Room)
	case OpLeave:
		h.leaveUser(env.UserID, env.Room)
	case OpDisconnectUser:
		h.disconnect(func(c *Client) bool { return c.userID == env.UserID })
	case OpDisconnectToken:
		h.disconnect(func(c *Client) bool { return c.jti == env.JTI })
	default:
		log.Printf("⚠️  Unknown bus op %q", env.Op)
	}
}
