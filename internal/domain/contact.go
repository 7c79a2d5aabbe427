package domain

import (
	"time"

	"github.com/codewitgabi/skill-barter-sync/pkg/timefmt"
)

// Contact is the view model the conversation list renders: the conversation
// projected onto its non-self participant, combined with the locally
// computed online flag. Derived, never persisted.
type Contact struct {
	ConversationID    string `json:"conversation_id"`
	UserID            string `json:"user_id"`
	Name              string `json:"name"`
	AvatarURL         string `json:"avatar_url"`
	Initials          string `json:"initials"`
	ExchangeRequestID string `json:"exchange_request_id"`
	Online            bool   `json:"online"`
	LastSeenLabel     string `json:"last_seen_label"`
	LastMessageText   string `json:"last_message_text"`
	LastMessageLabel  string `json:"last_message_label"`
	LastMessageFromMe bool   `json:"last_message_from_me"`
	UnreadCount       int    `json:"unread_count"`
}

// NewContact projects a conversation onto the counterpart of userID.
// ok is false when userID is not a participant.
func NewContact(c *Conversation, userID string, presence PresenceRecord, now time.Time, threshold time.Duration) (Contact, bool) {
	other, ok := c.Other(userID)
	if !ok {
		return Contact{}, false
	}

	online := presence.IsOnline(now, threshold)
	return Contact{
		ConversationID:    c.ID,
		UserID:            other.ID,
		Name:              other.Name,
		AvatarURL:         other.AvatarURL,
		Initials:          other.Initials,
		ExchangeRequestID: c.ExchangeRequestID,
		Online:            online,
		LastSeenLabel:     timefmt.LastSeen(online, presence.LastSeenTime(), now),
		LastMessageText:   c.LastMessage.Text,
		LastMessageLabel:  timefmt.Relative(c.LastMessage.SentAt, now),
		LastMessageFromMe: c.LastMessage.SenderID == userID,
		UnreadCount:       c.UnreadFor(userID),
	}, true
}
