package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

const (
	alice int64 = iota + 1
	bob
	carol
	dave
	erin
)

type sentEvent struct {
	target  string
	event   string
	payload interface{}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
	joins  []string
	leaves []string
}

func (n *recordingNotifier) EmitToRoom(room, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{target: room, event: event, payload: payload})
}

func (n *recordingNotifier) EmitToUser(userID int64, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{target: UserRoom(userID), event: event, payload: payload})
}

func (n *recordingNotifier) JoinRoom(userID int64, room string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joins = append(n.joins, fmt.Sprintf("%d>%s", userID, room))
}

func (n *recordingNotifier) LeaveRoom(userID int64, room string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leaves = append(n.leaves, fmt.Sprintf("%d>%s", userID, room))
}

// targets lists who received event, in order
func (n *recordingNotifier) targets(event string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		if e.event == event {
			out = append(out, e.target)
		}
	}
	return out
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events, n.joins, n.leaves = nil, nil, nil
}

type pushCall struct {
	userIDs []int64
	payload *PushPayload
}

type recordingPush struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (p *recordingPush) Send(ctx context.Context, userIDs []int64, payload *PushPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{userIDs: append([]int64(nil), userIDs...), payload: payload})
	return p.err
}

func (p *recordingPush) sent() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushCall(nil), p.calls...)
}

type staticViewers map[int64]bool

func (v staticViewers) ActiveViewers(ctx context.Context, conversationID int64, userIDs []int64) []int64 {
	var out []int64
	for _, id := range userIDs {
		if v[id] {
			out = append(out, id)
		}
	}
	return out
}

type testEnv struct {
	svc      *MessageService
	repo     *memoryRepo
	notifier *recordingNotifier
	push     *recordingPush
	store    *ephemeral.LocalStore
}

func testConfig() *Config {
	return &Config{
		IdempotencyTTL:    time.Minute,
		MaxMessageLength:  4000,
		MaxAttachmentSize: 1024,
		PushIconURL:       "/static/icon-192.png",
		MessageRule:       ratelimit.Rule{Operation: "message:send", Limit: 1000, Window: 10 * time.Second},
		ReactionRule:      ratelimit.Rule{Operation: "reaction:toggle", Limit: 1000, Window: 10 * time.Second},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg *Config) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     newMemoryRepo(),
		notifier: &recordingNotifier{},
		push:     &recordingPush{},
		store:    ephemeral.NewLocalStore(),
	}
	env.svc = NewService(env.repo, env.store, ratelimit.New(nil), nil, env.push, cfg)
	env.svc.SetNotifier(env.notifier)
	return env
}

func (e *testEnv) group(t *testing.T, creator int64, usernames ...string) int64 {
	t.Helper()
	change, err := e.svc.CreateGroupChat(context.Background(), creator, "team", usernames)
	require.NoError(t, err)
	e.notifier.reset()
	return change.Conversation.ID
}

func (e *testEnv) direct(t *testing.T, from int64, username string) int64 {
	t.Helper()
	change, err := e.svc.CreateDirectChat(context.Background(), from, username)
	require.NoError(t, err)
	e.notifier.reset()
	return change.Conversation.ID
}

func (e *testEnv) send(t *testing.T, userID, conversationID int64, content string) *Message {
	t.Helper()
	msg, err := e.svc.SendMessage(context.Background(), userID, nil, &SendMessageRequest{
		ConversationID: conversationID,
		Content:        content,
	})
	require.NoError(t, err)
	return msg
}

func memberIDs(members []*Member) []int64 {
	ids := make([]int64, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	return ids
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }
