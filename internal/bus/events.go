package bus

import (
	"encoding/json"
	"time"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

// Event types carried over the bus.
const (
	EventMessageCreated      = "message_created"
	EventConversationUpdated = "conversation_updated"
	EventPresenceChanged     = "presence_changed"
)

// Event is the envelope published to Redis Pub/Sub. Events are published
// even for consumers on the local instance, so single- and multi-instance
// deployments share one delivery path.
type Event struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// MessagePayload is the payload of a message_created event: the new message
// plus the conversation after its metadata update, so the roster and the
// thread view never disagree about the latest message.
type MessagePayload struct {
	Message      domain.Message      `json:"message"`
	Conversation domain.Conversation `json:"conversation"`
}

// NewMessageEvent builds a message_created event.
func NewMessageEvent(msg domain.Message, conv domain.Conversation) (*Event, error) {
	payload, err := json.Marshal(MessagePayload{Message: msg, Conversation: conv})
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:           EventMessageCreated,
		ConversationID: conv.ID,
		UserID:         msg.SenderID,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// NewConversationEvent builds a conversation_updated event.
func NewConversationEvent(conv domain.Conversation) (*Event, error) {
	payload, err := json.Marshal(conv)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:           EventConversationUpdated,
		ConversationID: conv.ID,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// NewPresenceEvent builds a presence_changed event for one user's record.
func NewPresenceEvent(record domain.PresenceRecord) (*Event, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      EventPresenceChanged,
		UserID:    record.UserID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

// DecodeMessagePayload unmarshals a message_created payload.
func DecodeMessagePayload(e *Event) (*MessagePayload, error) {
	var p MessagePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeConversation unmarshals a conversation_updated payload.
func DecodeConversation(e *Event) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := json.Unmarshal(e.Payload, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DecodePresence unmarshals a presence_changed payload.
func DecodePresence(e *Event) (domain.PresenceRecord, error) {
	var r domain.PresenceRecord
	err := json.Unmarshal(e.Payload, &r)
	return r, err
}
