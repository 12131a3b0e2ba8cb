// internal/messaging/pipeline.go

package messaging

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
	"github.com/imadgeboyega/kiekky-chat/internal/ratelimit"
)

const (
	pushTimeout     = 30 * time.Second
	pushBodyPreview = 120
)

// SendMessage validates, deduplicates, persists and fans out one message.
// conn is the sending socket's buckets, nil for HTTP.
func (s *MessageService) SendMessage(ctx context.Context, userID int64, conn *ratelimit.Buckets, req *SendMessageRequest) (*Message, error) {
	start := time.Now()

	// 1. Rate limit
	if s.limiter != nil && s.limiter.IsLimited(ctx, conn, userID, s.config.MessageRule) {
		return nil, ErrRateLimited
	}

	// 2. Validate and sanitize
	in, err := s.prepare(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	// 3. Idempotency
	var owned *claim
	if req.ClientMessageID != "" {
		cached, c, err := s.idempotency.Begin(ctx, userID, req.ClientMessageID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			idempotentReplaysTotal.Inc()
			return cached, nil
		}
		owned = c
	}

	// 4. Persist
	res, err := s.repo.CreateMessage(ctx, in)
	if err != nil {
		owned.Abort(ctx)
		return nil, apperr.Transient("failed to send message", err)
	}
	if !res.IsMember {
		owned.Abort(ctx)
		return nil, ErrNotMember
	}
	if !res.ReplyValid {
		owned.Abort(ctx)
		return nil, ErrInvalidReply
	}

	msg := res.Message
	msg.ClientMessageID = req.ClientMessageID
	messagesSentTotal.WithLabelValues(string(msg.Type)).Inc()
	sendDuration.Observe(time.Since(start).Seconds())

	// 5. Cache for retries
	owned.Complete(ctx, msg)

	// 6. Fan out
	s.fanOutMessage(res)

	// 7. Push, off the request path
	s.dispatchPush(res)

	return msg, nil
}

// prepare turns a request into a sanitized insert
func (s *MessageService) prepare(ctx context.Context, userID int64, req *SendMessageRequest) (*NewMessage, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, err
	}

	msgType := req.Type
	if msgType == "" {
		msgType = MessageText
	}
	if msgType == MessageSystem {
		return nil, ErrSystemMessage
	}

	content, err := s.sanitizer.Content(req.Content)
	if err != nil {
		return nil, err
	}

	in := &NewMessage{
		ConversationID: req.ConversationID,
		SenderID:       userID,
		Content:        content,
		Type:           msgType,
		ReplyToID:      req.ReplyToID,
	}

	hasAttachment := req.AttachmentURL != nil && *req.AttachmentURL != ""
	switch {
	case msgType == MessageText && hasAttachment:
		return nil, apperr.Validation("text messages cannot carry attachments")
	case msgType == MessageText && content == "":
		return nil, ErrEmptyContent
	case msgType != MessageText && !hasAttachment:
		return nil, ErrAttachmentRequired
	}

	if hasAttachment {
		if err := validateAttachment(*req.AttachmentURL, req.AttachmentMeta); err != nil {
			return nil, err
		}
		in.AttachmentURL = req.AttachmentURL
		in.AttachmentMeta = req.AttachmentMeta

		if s.attachments != nil {
			info, err := s.attachments.Inspect(ctx, *req.AttachmentURL)
			if err != nil {
				return nil, err
			}
			if info != nil && len(in.AttachmentMeta) == 0 {
				in.AttachmentMeta = []byte(fmt.Sprintf(`{"size":%d,"content_type":%q}`, info.Size, info.ContentType))
			}
		}
	}

	return in, nil
}

// fanOutMessage re-subscribes members whose hidden conversation reappeared,
// then broadcasts the message to the room
func (s *MessageService) fanOutMessage(res *CreateMessageResult) {
	msg := res.Message
	room := ConversationRoom(msg.ConversationID)

	if len(res.UnhiddenIDs) > 0 {
		event := &ConversationEvent{
			ConversationID: msg.ConversationID,
			Conversation: &Conversation{
				ID:        msg.ConversationID,
				Type:      res.ConversationType,
				Name:      res.ConversationName,
				UpdatedAt: msg.CreatedAt,
			},
		}
		for _, uid := range res.UnhiddenIDs {
			s.notifier.JoinRoom(uid, room)
			s.notifier.EmitToUser(uid, EventConversationCreated, event)
		}
	}

	s.notifier.EmitToRoom(room, EventMessageNew, msg)
}

// dispatchPush notifies recipients who are not looking at the conversation.
// Active viewers have their unread counter reset instead.
func (s *MessageService) dispatchPush(res *CreateMessageResult) {
	if len(res.RecipientIDs) == 0 {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()

		msg := res.Message
		viewers := s.viewers.ActiveViewers(ctx, msg.ConversationID, res.RecipientIDs)
		if len(viewers) > 0 {
			if err := s.repo.ResetUnread(ctx, msg.ConversationID, viewers); err != nil {
				log.Printf("⚠️  Failed to reset unread for active viewers of conversation %d: %v", msg.ConversationID, err)
			}
		}

		recipients := excludeIDs(res.RecipientIDs, append(viewers, msg.SenderID))
		pushDeliveriesTotal.WithLabelValues("suppressed").Add(float64(len(res.RecipientIDs) - len(recipients)))
		if len(recipients) == 0 {
			return
		}

		if err := s.push.Send(ctx, recipients, s.pushPayload(res)); err != nil {
			log.Printf("⚠️  Push delivery for message %d had failures: %v", msg.ID, err)
		}
	}()
}

func (s *MessageService) pushPayload(res *CreateMessageResult) *PushPayload {
	msg := res.Message

	title := msg.SenderUsername
	if res.ConversationType == ConversationGroup && res.ConversationName != nil {
		title = fmt.Sprintf("%s in %s", msg.SenderUsername, *res.ConversationName)
	}

	body := msg.Content
	switch {
	case msg.Type == MessageImage && body == "":
		body = "📷 Photo"
	case msg.Type == MessageFile && body == "":
		body = "📎 File"
	}

	return &PushPayload{
		Title: title,
		Body:  truncateRunes(body, pushBodyPreview),
		URL:   fmt.Sprintf("/conversations/%d", msg.ConversationID),
		Icon:  s.config.PushIconURL,
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

func excludeIDs(ids, drop []int64) []int64 {
	skip := make(map[int64]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
