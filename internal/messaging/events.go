// internal/messaging/events.go
// Socket event names and the outbound interfaces the service emits through.
// The realtime hub implements both interfaces.

package messaging

import "context"

const (
	// Client -> server
	EventConversationJoin   = "conversation:join"
	EventConversationActive = "conversation:active"
	EventMessageSend        = "message:send"
	EventTypingStart        = "typing:start"
	EventTypingStop         = "typing:stop"
	EventReactionToggle     = "reaction:toggle"
	EventPresenceActive     = "presence:active"
	EventPresenceAway       = "presence:away"

	// Server -> client
	EventMessageNew          = "message:new"
	EventReactionUpdate      = "reaction:update"
	EventTypingIndicator     = "typing:indicator"
	EventPresenceUpdate      = "presence:update"
	EventConversationCreated = "conversation:created"
	EventConversationUpdated = "conversation:updated"
	EventConversationRemoved = "conversation:removed"
	EventAck                 = "ack"
	EventError               = "error"
)

// Notifier delivers events to rooms and subscribes users' live connections
type Notifier interface {
	EmitToRoom(room, event string, payload interface{})
	EmitToUser(userID int64, event string, payload interface{})
	JoinRoom(userID int64, room string)
	LeaveRoom(userID int64, room string)
}

// ViewerIndex reports which users are looking at a conversation right now
type ViewerIndex interface {
	ActiveViewers(ctx context.Context, conversationID int64, userIDs []int64) []int64
}

// ConversationEvent is the payload of conversation:created|updated|removed
type ConversationEvent struct {
	ConversationID int64         `json:"conversation_id"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Members        []*Member     `json:"members,omitempty"`
}

type noopNotifier struct{}

func (noopNotifier) EmitToRoom(string, string, interface{}) {}
func (noopNotifier) EmitToUser(int64, string, interface{})  {}
func (noopNotifier) JoinRoom(int64, string)                 {}
func (noopNotifier) LeaveRoom(int64, string)                {}

type noViewers struct{}

func (noViewers) ActiveViewers(context.Context, int64, []int64) []int64 { return nil }
