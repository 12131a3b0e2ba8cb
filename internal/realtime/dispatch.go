// internal/realtime/dispatch.go
// Inbound socket events. Frames of one connection are handled in order on
// that connection's process loop.

package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

var (
	errMalformedFrame = apperr.Validation("malformed frame")
	errQueueFull      = apperr.RateLimited("too many pending events")
	errUnknownEvent   = apperr.Validation("unknown event")
	errNotInRoom      = apperr.Forbidden("not a member of this conversation")
	errBadPayload     = apperr.Validation("invalid payload")
)

func (h *Hub) handleFrame(c *Client, f *Frame) {
	ctx, cancel := context.WithTimeout(h.ctx, h.config.EventTimeout)
	defer cancel()

	var (
		data interface{}
		err  error
	)

	switch f.Type {
	case messaging.EventConversationJoin:
		err = h.onJoin(ctx, c, f)
	case messaging.EventConversationActive:
		err = h.onActive(ctx, c, f)
	case messaging.EventMessageSend:
		data, err = h.onSend(ctx, c, f)
	case messaging.EventTypingStart:
		err = h.onTyping(ctx, c, f, true)
	case messaging.EventTypingStop:
		err = h.onTyping(ctx, c, f, false)
	case messaging.EventReactionToggle:
		data, err = h.onReaction(ctx, c, f)
	case messaging.EventPresenceActive:
		h.presence.SetStatus(c.userID, StatusActive, h.userRooms(c.userID))
	case messaging.EventPresenceAway:
		h.presence.SetStatus(c.userID, StatusAway, h.userRooms(c.userID))
	default:
		err = errUnknownEvent
	}

	if err != nil {
		eventsTotal.WithLabelValues(eventLabel(f.Type), "error").Inc()
		h.replyError(c, f, err)
		return
	}
	eventsTotal.WithLabelValues(eventLabel(f.Type), "ok").Inc()
	if f.AckID != "" {
		c.enqueue(encodeFrame(messaging.EventAck, &Ack{Success: true, Data: data}, f.AckID))
	}
}

func (h *Hub) onJoin(ctx context.Context, c *Client, f *Frame) error {
	var p conversationPayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}
	if err := h.service.CanJoin(ctx, c.userID, p.ConversationID); err != nil {
		return err
	}
	h.joinClient(c, messaging.ConversationRoom(p.ConversationID))
	return nil
}

// onActive records the heartbeat. Switching to a conversation also marks
// it read, since the viewer is looking at the latest messages.
func (h *Hub) onActive(ctx context.Context, c *Client, f *Frame) error {
	var p activePayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}
	if p.ConversationID != nil && !h.inRoom(c, messaging.ConversationRoom(*p.ConversationID)) {
		return errNotInRoom
	}

	changed := h.viewers.Heartbeat(ctx, c.id, c.userID, p.ConversationID)
	if changed && p.ConversationID != nil {
		return h.service.MarkRead(ctx, c.userID, *p.ConversationID)
	}
	return nil
}

func (h *Hub) onSend(ctx context.Context, c *Client, f *Frame) (interface{}, error) {
	var req messaging.SendMessageRequest
	if err := decodePayload(f, &req); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(&req); err != nil {
		return nil, err
	}
	return h.service.SendMessage(ctx, c.userID, c.buckets, &req)
}

func (h *Hub) onTyping(ctx context.Context, c *Client, f *Frame, start bool) error {
	var p conversationPayload
	if err := decodePayload(f, &p); err != nil {
		return err
	}
	if h.limiter != nil && h.limiter.IsLimited(ctx, c.buckets, c.userID, h.config.TypingRule) {
		return messaging.ErrRateLimited
	}
	if !h.inRoom(c, messaging.ConversationRoom(p.ConversationID)) {
		return errNotInRoom
	}

	if start {
		h.typing.Start(c.id, c.userID, c.username, p.ConversationID)
	} else {
		h.typing.Stop(c.id, p.ConversationID)
	}
	return nil
}

func (h *Hub) onReaction(ctx context.Context, c *Client, f *Frame) (interface{}, error) {
	var p reactionPayload
	if err := decodePayload(f, &p); err != nil {
		return nil, err
	}
	return h.service.ToggleReaction(ctx, c.userID, c.buckets, p.MessageID, p.Emoji)
}

// replyError answers with an ack when the frame asked for one, otherwise
// with an error event. Internal causes stay in the log under errorId.
func (h *Hub) replyError(c *Client, f *Frame, err error) {
	event := &ErrorEvent{
		Event:   f.Type,
		Message: apperr.PublicMessage(err),
		ErrorID: uuid.NewString(),
	}

	switch apperr.KindOf(err) {
	case apperr.KindTransientInfra, apperr.KindInternal:
		log.Printf("❌ [%s] %s from user %d failed: %v", event.ErrorID, f.Type, c.userID, err)
	default:
		log.Printf("⚠️  [%s] %s from user %d rejected: %v", event.ErrorID, f.Type, c.userID, err)
	}

	if f.AckID != "" {
		c.enqueue(encodeFrame(messaging.EventAck, &Ack{Success: false, Error: event}, f.AckID))
		return
	}
	c.enqueue(encodeFrame(messaging.EventError, event, ""))
}

func decodePayload(f *Frame, v interface{}) error {
	if len(f.Data) == 0 {
		return errBadPayload
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return errBadPayload
	}
	return nil
}

// eventLabel keeps metric cardinality bounded
func eventLabel(event string) string {
	switch event {
	case messaging.EventConversationJoin, messaging.EventConversationActive, messaging.EventMessageSend,
		messaging.EventTypingStart, messaging.EventTypingStop, messaging.EventReactionToggle,
		messaging.EventPresenceActive, messaging.EventPresenceAway:
		return event
	default:
		return "other"
	}
}
