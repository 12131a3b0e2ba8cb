package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

type fakeChat struct {
	mu          sync.Mutex
	memberships map[int64][]int64
	sent        []*messaging.SendMessageRequest
	sendErr     error
	reads       []int64
	lastSeen    map[int64]time.Time
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		memberships: make(map[int64][]int64),
		lastSeen:    make(map[int64]time.Time),
	}
}

func (f *fakeChat) SendMessage(ctx context.Context, userID int64, conn *ratelimit.Buckets, req *messaging.SendMessageRequest) (*messaging.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, req)
	return &messaging.Message{ID: int64(len(f.sent)), ConversationID: req.ConversationID, SenderID: userID, Content: req.Content}, nil
}

func (f *fakeChat) ToggleReaction(ctx context.Context, userID int64, conn *ratelimit.Buckets, messageID int64, emoji string) (*messaging.ReactionUpdate, error) {
	return &messaging.ReactionUpdate{MessageID: messageID, UserID: userID, Emoji: emoji, Added: true}, nil
}

func (f *fakeChat) CanJoin(ctx context.Context, userID, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.memberships[userID] {
		if id == conversationID {
			return nil
		}
	}
	return messaging.ErrNotMember
}

func (f *fakeChat) ActiveConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.memberships[userID]...), nil
}

func (f *fakeChat) MarkRead(ctx context.Context, userID, conversationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, conversationID)
	return nil
}

func (f *fakeChat) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen[userID] = at
	return nil
}

func (f *fakeChat) seenAt(userID int64) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.lastSeen[userID]
	return at, ok
}

type emitted struct {
	room    string
	event   string
	payload interface{}
	except  string
}

// recorder implements messaging.Notifier and roomEmitter
type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) EmitToRoom(room, event string, payload interface{}) {
	r.EmitToRoomExcept(room, event, payload, "")
}

func (r *recorder) EmitToRoomExcept(room, event string, payload interface{}, except string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{room: room, event: event, payload: payload, except: except})
}

func (r *recorder) EmitToUser(userID int64, event string, payload interface{}) {
	r.EmitToRoom(messaging.UserRoom(userID), event, payload)
}

func (r *recorder) JoinRoom(int64, string)  {}
func (r *recorder) LeaveRoom(int64, string) {}

func (r *recorder) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.all() {
		if e.event == event {
			n++
		}
	}
	return n
}

func testHubConfig() *Config {
	return &Config{
		MaxConnectionsPerUser: 3,
		PresenceDebounce:      time.Hour,
		ActiveViewerTTL:       time.Minute,
		TypingTTL:             time.Minute,
		TypingRule:            ratelimit.Rule{Operation: "typing", Limit: 100, Window: time.Minute},
		EventTimeout:          time.Second,
	}
}

func newTestHub(t *testing.T, chat *fakeChat) (*Hub, *ephemeral.LocalStore) {
	t.Helper()
	store := ephemeral.NewLocalStore()
	hub := NewHub(chat, ratelimit.New(nil), store, testHubConfig())
	t.Cleanup(hub.Shutdown)
	return hub, store
}

// connect registers a client without a socket; frames are read from send
func connect(t *testing.T, hub *Hub, userID int64, username string) *Client {
	t.Helper()
	require.True(t, hub.Counter().Acquire(userID))
	c := NewClient(hub, nil, userID, username, "jti-"+username)
	hub.Register(context.Background(), c)
	return c
}

// drain returns every frame queued for c
func drain(c *Client) []Frame {
	var out []Frame
	for {
		select {
		case raw := <-c.send:
			var f Frame
			if err := json.Unmarshal(raw, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func frameTypes(frames []Frame) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

func rawJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
