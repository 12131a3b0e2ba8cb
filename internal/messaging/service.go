// internal/messaging/service.go

package messaging

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-chat/internal/ephemeral"
	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

type Service interface {
	// Messages
	SendMessage(ctx context.Context, userID int64, conn *ratelimit.Buckets, req *SendMessageRequest) (*Message, error)
	ListMessages(ctx context.Context, userID, conversationID int64, cursor string, limit int) (*MessagePage, error)
	ToggleReaction(ctx context.Context, userID int64, conn *ratelimit.Buckets, messageID int64, emoji string) (*ReactionUpdate, error)

	// Conversations
	ListConversations(ctx context.Context, userID int64, cursor string, limit int) (*ConversationPage, error)
	GetConversation(ctx context.Context, userID, conversationID int64) (*ConversationDetail, error)
	MarkRead(ctx context.Context, userID, conversationID int64) error
	HideConversation(ctx context.Context, userID, conversationID int64) error
	CanJoin(ctx context.Context, userID, conversationID int64) error
	ActiveConversationIDs(ctx context.Context, userID int64) ([]int64, error)

	// Membership
	CreateDirectChat(ctx context.Context, userID int64, username string) (*MembershipChange, error)
	CreateGroupChat(ctx context.Context, userID int64, name string, usernames []string) (*MembershipChange, error)
	AddMembers(ctx context.Context, actorID, conversationID int64, usernames []string) (*MembershipChange, error)
	RemoveMembers(ctx context.Context, actorID, conversationID int64, userIDs []int64) (*MembershipChange, error)
	LeaveConversation(ctx context.Context, userID, conversationID int64, delegateID *int64) (*MembershipChange, error)
	UpdateMemberRole(ctx context.Context, actorID, conversationID, targetID int64, role MemberRole) (*MembershipChange, error)

	// Presence
	TouchLastSeen(ctx context.Context, userID int64, at time.Time) error

	// Push notifications
	RegisterPushToken(ctx context.Context, userID int64, req *PushTokenRequest) error
	UnregisterPushToken(ctx context.Context, userID int64, token string) error
}

// Config holds the messaging limits
type Config struct {
	IdempotencyTTL    time.Duration
	MaxMessageLength  int
	MaxAttachmentSize int64
	PushIconURL       string
	MessageRule       ratelimit.Rule
	ReactionRule      ratelimit.Rule
}

type MessageService struct {
	repo        Repository
	limiter     *ratelimit.Limiter
	idempotency *idempotencyStore
	sanitizer   *Sanitizer
	attachments AttachmentInspector
	push        PushService
	notifier    Notifier
	viewers     ViewerIndex
	config      *Config

	// push deliveries in flight
	wg sync.WaitGroup
}

// NewService creates the messaging service. attachments may be nil when
// uploads are not stored by this deployment.
func NewService(repo Repository, store ephemeral.Store, limiter *ratelimit.Limiter, attachments AttachmentInspector, push PushService, config *Config) *MessageService {
	if push == nil {
		push = NewMockPushService()
	}
	return &MessageService{
		repo:        repo,
		limiter:     limiter,
		idempotency: newIdempotencyStore(store, config.IdempotencyTTL),
		sanitizer:   NewSanitizer(config.MaxMessageLength),
		attachments: attachments,
		push:        push,
		notifier:    noopNotifier{},
		viewers:     noViewers{},
		config:      config,
	}
}

// SetNotifier sets the hub after initialization to avoid circular dependency
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetViewers sets the active viewer index, owned by the realtime package
func (s *MessageService) SetViewers(v ViewerIndex) {
	s.viewers = v
}

// Wait blocks until background push deliveries finish
func (s *MessageService) Wait() {
	s.wg.Wait()
}

// ListConversations returns one page of the caller's visible conversations
func (s *MessageService) ListConversations(ctx context.Context, userID int64, cursor string, limit int) (*ConversationPage, error) {
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = pageSize(limit)

	rows, err := s.repo.ListConversations(ctx, userID, after, limit+1)
	if err != nil {
		return nil, apperr.Transient("failed to load conversations", err)
	}

	page := &ConversationPage{Conversations: rows}
	if len(rows) > limit {
		page.Conversations = rows[:limit]
		last := page.Conversations[limit-1]
		page.NextCursor = Cursor{SortKey: last.UpdatedAt, ID: last.ID}.Encode()
	}
	if page.Conversations == nil {
		page.Conversations = []*ConversationSummary{}
	}
	return page, nil
}

// ListMessages returns one page of messages, newest first, with reactions
func (s *MessageService) ListMessages(ctx context.Context, userID, conversationID int64, cursor string, limit int) (*MessagePage, error) {
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	limit = pageSize(limit)

	member, err := s.repo.GetMembership(ctx, conversationID, userID)
	if err != nil {
		return nil, infraOr(err, "failed to load messages")
	}
	if !member.Active() {
		return nil, ErrNotMember
	}

	rows, err := s.repo.ListMessages(ctx, conversationID, userID, after, limit+1)
	if err != nil {
		return nil, apperr.Transient("failed to load messages", err)
	}

	page := &MessagePage{Messages: rows}
	if len(rows) > limit {
		page.Messages = rows[:limit]
		last := page.Messages[limit-1]
		page.NextCursor = Cursor{SortKey: last.CreatedAt, ID: last.ID}.Encode()
	}
	if page.Messages == nil {
		page.Messages = []*Message{}
	}

	ids := make([]int64, len(page.Messages))
	for i, m := range page.Messages {
		ids[i] = m.ID
	}
	reactions, err := s.repo.GetReactions(ctx, ids, userID)
	if err != nil {
		return nil, apperr.Transient("failed to load messages", err)
	}
	for _, m := range page.Messages {
		m.Reactions = reactions[m.ID]
	}

	return page, nil
}

// GetConversation returns a conversation the caller can see, with its members
func (s *MessageService) GetConversation(ctx context.Context, userID, conversationID int64) (*ConversationDetail, error) {
	member, err := s.repo.GetMembership(ctx, conversationID, userID)
	if err != nil {
		return nil, infraOr(err, "failed to load conversation")
	}
	if !member.Visible() {
		return nil, ErrNotMember
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, infraOr(err, "failed to load conversation")
	}
	members, err := s.repo.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, apperr.Transient("failed to load conversation", err)
	}

	return &ConversationDetail{Conversation: conv, Members: visibleMembers(members)}, nil
}

// MarkRead clears the caller's unread counter
func (s *MessageService) MarkRead(ctx context.Context, userID, conversationID int64) error {
	return infraOr(s.repo.MarkRead(ctx, conversationID, userID), "failed to mark conversation read")
}

// HideConversation is delete-for-self: the conversation disappears from
// the caller's list with everything before now, and reappears on the next
// message
func (s *MessageService) HideConversation(ctx context.Context, userID, conversationID int64) error {
	changed, err := s.repo.SetMemberHidden(ctx, conversationID, userID, true)
	if err != nil {
		return apperr.Transient("failed to delete conversation", err)
	}
	if !changed {
		return ErrNotMember
	}

	room := ConversationRoom(conversationID)
	s.notifier.LeaveRoom(userID, room)
	s.notifier.EmitToUser(userID, EventConversationRemoved, &ConversationEvent{ConversationID: conversationID})
	return nil
}

// CanJoin reports whether the caller may subscribe to the conversation's room
func (s *MessageService) CanJoin(ctx context.Context, userID, conversationID int64) error {
	member, err := s.repo.GetMembership(ctx, conversationID, userID)
	if err != nil {
		return infraOr(err, "failed to join conversation")
	}
	if !member.Active() {
		return ErrNotMember
	}
	return nil
}

// ActiveConversationIDs lists the rooms a new connection joins
func (s *MessageService) ActiveConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.repo.ActiveConversationIDs(ctx, userID)
	if err != nil {
		return nil, apperr.Transient("failed to load memberships", err)
	}
	return ids, nil
}

func (s *MessageService) TouchLastSeen(ctx context.Context, userID int64, at time.Time) error {
	return s.repo.TouchLastSeen(ctx, userID, at)
}

func (s *MessageService) RegisterPushToken(ctx context.Context, userID int64, req *PushTokenRequest) error {
	token := &PushToken{UserID: userID, Token: req.Token, Platform: req.Platform}
	if err := s.repo.SavePushToken(ctx, token); err != nil {
		return apperr.Transient("failed to register push token", err)
	}
	log.Printf("✅ Push token registered for user %d (%s)", userID, req.Platform)
	return nil
}

func (s *MessageService) UnregisterPushToken(ctx context.Context, userID int64, token string) error {
	if err := s.repo.DeleteUserPushToken(ctx, userID, token); err != nil {
		return apperr.Transient("failed to unregister push token", err)
	}
	return nil
}

// infraOr passes typed errors through and marks everything else as an
// infrastructure failure
func infraOr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Transient(msg, err)
}

func visibleMembers(members []*Member) []*Member {
	out := make([]*Member, 0, len(members))
	for _, m := range members {
		if m.Visible() {
			out = append(out, m)
		}
	}
	return out
}
