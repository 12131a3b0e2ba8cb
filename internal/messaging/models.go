// internal/messaging/models.go

package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type MemberRole string

const (
	RoleMember MemberRole = "member"
	RoleAdmin  MemberRole = "admin"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// Conversation represents a direct or group chat
type Conversation struct {
	ID         int64            `json:"id" db:"id"`
	Type       ConversationType `json:"type" db:"type"`
	Name       *string          `json:"name,omitempty" db:"name"`
	DirectKey  *string          `json:"-" db:"direct_key"`
	CreatedBy  int64            `json:"created_by" db:"created_by"`
	ArchivedAt *time.Time       `json:"archived_at,omitempty" db:"archived_at"`
	CreatedAt  time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at" db:"updated_at"`
}

// Member is one user's membership row. Rows are never deleted: leaving sets
// LeftAt, hiding sets HiddenAt and moves the visibility horizon ClearedAt.
type Member struct {
	ConversationID int64      `json:"conversation_id" db:"conversation_id"`
	UserID         int64      `json:"user_id" db:"user_id"`
	Username       string     `json:"username" db:"username"`
	DisplayName    *string    `json:"display_name,omitempty" db:"display_name"`
	AvatarURL      *string    `json:"avatar_url,omitempty" db:"avatar_url"`
	Role           MemberRole `json:"role" db:"role"`
	JoinedAt       time.Time  `json:"joined_at" db:"joined_at"`
	LeftAt         *time.Time `json:"-" db:"left_at"`
	HiddenAt       *time.Time `json:"-" db:"hidden_at"`
	ClearedAt      *time.Time `json:"-" db:"cleared_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
	UnreadCount    int        `json:"unread_count" db:"unread_count"`
}

func (m *Member) Active() bool {
	return m.LeftAt == nil
}

func (m *Member) Visible() bool {
	return m.LeftAt == nil && m.HiddenAt == nil
}

// UserRef is the public part of a user row
type UserRef struct {
	ID          int64   `json:"id" db:"id"`
	Username    string  `json:"username" db:"username"`
	DisplayName *string `json:"display_name,omitempty" db:"display_name"`
	AvatarURL   *string `json:"avatar_url,omitempty" db:"avatar_url"`
}

// Message represents a chat message
type Message struct {
	ID              int64             `json:"id"`
	ConversationID  int64             `json:"conversation_id"`
	SenderID        int64             `json:"sender_id"`
	SenderUsername  string            `json:"sender_username"`
	Content         string            `json:"content"`
	Type            MessageType       `json:"type"`
	AttachmentURL   *string           `json:"attachment_url,omitempty"`
	AttachmentMeta  json.RawMessage   `json:"attachment_meta,omitempty"`
	ReplyToID       *int64            `json:"reply_to_id,omitempty"`
	ReplyTo         *ReplySnapshot    `json:"reply_to,omitempty"`
	Reactions       []ReactionSummary `json:"reactions,omitempty"`
	ClientMessageID string            `json:"client_message_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ReplySnapshot is the quoted message shown above a reply
type ReplySnapshot struct {
	ID             int64       `json:"id"`
	SenderID       int64       `json:"sender_id"`
	SenderUsername string      `json:"sender_username"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
}

// ReactionSummary aggregates one emoji on one message
type ReactionSummary struct {
	Emoji       string   `json:"emoji"`
	Count       int      `json:"count"`
	ReactedByMe bool     `json:"reacted_by_me,omitempty"`
	Usernames   []string `json:"usernames"`
}

// ReactionUpdate is the result of a toggle
type ReactionUpdate struct {
	MessageID      int64             `json:"message_id"`
	ConversationID int64             `json:"conversation_id"`
	UserID         int64             `json:"user_id"`
	Emoji          string            `json:"emoji"`
	Added          bool              `json:"added"`
	Reactions      []ReactionSummary `json:"reactions"`
}

// ConversationSummary is one row of the conversation list
type ConversationSummary struct {
	Conversation
	Role        MemberRole      `json:"role"`
	UnreadCount int             `json:"unread_count"`
	Peer        *UserRef        `json:"peer,omitempty"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
}

type MessagePreview struct {
	ID             int64       `json:"id"`
	SenderID       int64       `json:"sender_id"`
	SenderUsername string      `json:"sender_username"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ConversationDetail is a conversation with its visible members
type ConversationDetail struct {
	Conversation *Conversation `json:"conversation"`
	Members      []*Member     `json:"members"`
}

// MembershipChange describes the outcome of a membership operation
type MembershipChange struct {
	Conversation  *Conversation `json:"conversation"`
	Members       []*Member     `json:"members"`
	Added         []int64       `json:"added,omitempty"`
	Removed       []int64       `json:"removed,omitempty"`
	SystemMessage *Message      `json:"system_message,omitempty"`
	Created       bool          `json:"created"`
}

type ConversationPage struct {
	Conversations []*ConversationSummary `json:"conversations"`
	NextCursor    string                 `json:"next_cursor,omitempty"`
}

type MessagePage struct {
	Messages   []*Message `json:"messages"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// PushToken is a device registration for push notifications
type PushToken struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Token     string    `json:"token" db:"token"`
	Platform  string    `json:"platform" db:"platform"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Request DTOs

type SendMessageRequest struct {
	ConversationID  int64           `json:"conversation_id" validate:"required,min=1"`
	Content         string          `json:"content"`
	Type            MessageType     `json:"type" validate:"omitempty,oneof=text image file"`
	AttachmentURL   *string         `json:"attachment_url,omitempty"`
	AttachmentMeta  json.RawMessage `json:"attachment_meta,omitempty"`
	ReplyToID       *int64          `json:"reply_to_id,omitempty" validate:"omitempty,min=1"`
	ClientMessageID string          `json:"client_message_id,omitempty" validate:"max=64"`
}

type CreateDirectChatRequest struct {
	Username string `json:"username" validate:"required,max=50"`
}

type CreateGroupChatRequest struct {
	Name      string   `json:"name" validate:"required,max=100"`
	Usernames []string `json:"usernames" validate:"required,min=1,max=100,dive,required,max=50"`
}

type AddMembersRequest struct {
	Usernames []string `json:"usernames" validate:"required,min=1,max=100,dive,required,max=50"`
}

type LeaveConversationRequest struct {
	DelegateID *int64 `json:"delegate_id,omitempty"`
}

type UpdateRoleRequest struct {
	Role MemberRole `json:"role" validate:"required,oneof=member admin"`
}

type ToggleReactionRequest struct {
	MessageID int64  `json:"message_id" validate:"required,min=1"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

type PushTokenRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

// Room names shared with the realtime hub

func UserRoom(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

func ConversationRoom(conversationID int64) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// DirectKey is the same for (a, b) and (b, a)
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
