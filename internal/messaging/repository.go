// internal/messaging/repository.go

package messaging

import (
	"context"
	"encoding/json"
	"time"
)

// Queries are the statements membership operations compose inside a transaction
type Queries interface {
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	// LockConversation takes a row lock until the transaction ends
	LockConversation(ctx context.Context, id int64) (*Conversation, error)
	FindDirectConversation(ctx context.Context, directKey string) (*Conversation, error)
	// InsertConversation reports false when a direct conversation with the
	// same key already exists
	InsertConversation(ctx context.Context, c *Conversation) (bool, error)
	ArchiveConversation(ctx context.Context, id int64) error

	// ListMembers returns every membership row, including former members
	ListMembers(ctx context.Context, conversationID int64) ([]*Member, error)
	// UpsertMember adds a user or reactivates a former member with a fresh
	// visibility horizon
	UpsertMember(ctx context.Context, conversationID, userID int64, role MemberRole) error
	SetMembersLeft(ctx context.Context, conversationID int64, userIDs []int64) error
	SetMemberRole(ctx context.Context, conversationID, userID int64, role MemberRole) error
	// SetMemberHidden reports whether the row changed
	SetMemberHidden(ctx context.Context, conversationID, userID int64, hidden bool) (bool, error)

	InsertSystemMessage(ctx context.Context, conversationID, actorID int64, content string) (*Message, error)
	GetUsersByUsernames(ctx context.Context, usernames []string) ([]*UserRef, error)
}

// Repository defines the data access the messaging service needs
type Repository interface {
	Queries

	// InTx runs fn in one transaction; any error rolls it back
	InTx(ctx context.Context, fn func(q Queries) error) error

	// CreateMessage checks, inserts and updates counters in one statement
	CreateMessage(ctx context.Context, in *NewMessage) (*CreateMessageResult, error)
	// ToggleReaction removes the reaction if present, adds it otherwise
	ToggleReaction(ctx context.Context, messageID, userID int64, emoji string) (*ReactionUpdate, error)

	ListConversations(ctx context.Context, userID int64, cursor *Cursor, limit int) ([]*ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID, userID int64, cursor *Cursor, limit int) ([]*Message, error)
	GetReactions(ctx context.Context, messageIDs []int64, userID int64) (map[int64][]ReactionSummary, error)

	// GetMembership returns ErrNotMember when there is no row or the
	// conversation is archived
	GetMembership(ctx context.Context, conversationID, userID int64) (*Member, error)
	ActiveConversationIDs(ctx context.Context, userID int64) ([]int64, error)
	MarkRead(ctx context.Context, conversationID, userID int64) error
	ResetUnread(ctx context.Context, conversationID int64, userIDs []int64) error
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error

	SavePushToken(ctx context.Context, token *PushToken) error
	DeletePushToken(ctx context.Context, token string) error
	DeleteUserPushToken(ctx context.Context, userID int64, token string) error
	GetPushTokens(ctx context.Context, userIDs []int64) ([]*PushToken, error)
}

// NewMessage is a sanitized message ready to insert
type NewMessage struct {
	ConversationID int64
	SenderID       int64
	Content        string
	Type           MessageType
	AttachmentURL  *string
	AttachmentMeta json.RawMessage
	ReplyToID      *int64
}

// CreateMessageResult carries the inserted message and who it affected.
// Message is nil when the sender is not an active member or the reply
// target is not in the conversation.
type CreateMessageResult struct {
	Message          *Message
	IsMember         bool
	ReplyValid       bool
	ConversationType ConversationType
	ConversationName *string
	// RecipientIDs are the active members other than the sender
	RecipientIDs []int64
	// UnhiddenIDs are members whose hidden conversation reappeared
	UnhiddenIDs []int64
}
