// internal/realtime/events.go
// Socket frame shapes. Every frame in either direction is
// {"type", "data", "ackId", "timestamp"}.

package realtime

import (
	"encoding/json"
	"log"
	"time"
)

// Frame is a decoded inbound frame. The client timestamp is ignored.
type Frame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

type outboundFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	AckID     string      `json:"ackId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// encodeFrame marshals an outbound frame. A payload that cannot be
// marshalled is logged and sent as an empty object.
func encodeFrame(event string, payload interface{}, ackID string) []byte {
	data, err := json.Marshal(outboundFrame{
		Type:      event,
		Data:      payload,
		AckID:     ackID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("❌ Failed to marshal %s frame: %v", event, err)
		data, _ = json.Marshal(outboundFrame{Type: event, Data: struct{}{}, AckID: ackID, Timestamp: time.Now().UTC()})
	}
	return data
}

// Client -> server payloads

type conversationPayload struct {
	ConversationID int64 `json:"conversation_id"`
}

type activePayload struct {
	ConversationID *int64 `json:"conversation_id"`
}

type reactionPayload struct {
	MessageID int64  `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// Server -> client payloads

// Ack answers a frame that carried an ackId
type Ack struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorEvent `json:"error,omitempty"`
}

// ErrorEvent reports a failed inbound event. Internal causes are only
// logged under ErrorID.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
	ErrorID string `json:"errorId"`
}

// TypingEvent is the payload of typing:indicator and typing:stop
type TypingEvent struct {
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username,omitempty"`
	Typing         bool   `json:"typing"`
}

// Presence statuses
const (
	StatusActive  = "active"
	StatusAway    = "away"
	StatusOffline = "offline"
)

// PresenceEvent is the payload of presence:update
type PresenceEvent struct {
	UserID   int64      `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
