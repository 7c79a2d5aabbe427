package domain

import (
	"time"
)

// Participant is the denormalized display snapshot of one side of a
// conversation. It is written once when the conversation is created; a
// later display-name change does not rewrite it.
type Participant struct {
	ID        string `gorm:"size:36" json:"id"`
	Name      string `gorm:"size:120" json:"name"`
	AvatarURL string `gorm:"size:512" json:"avatar_url"`
	Initials  string `gorm:"size:8" json:"initials"`
}

// LastMessage is the conversation-level summary of the newest message.
type LastMessage struct {
	Text     string    `gorm:"size:2000" json:"text"`
	SenderID string    `gorm:"size:36" json:"sender_id"`
	SentAt   time.Time `json:"sent_at"`
}

// Conversation is a two-party thread created when two users connect over an
// exchange request. Send updates the last-message summary and the
// counterpart's unread counter; MarkRead zeroes the reader's counter.
// Conversations are never deleted.
type Conversation struct {
	ID                string      `gorm:"primaryKey;size:36" json:"id"`
	UserA             Participant `gorm:"embedded;embeddedPrefix:user_a_" json:"user_a"`
	UserB             Participant `gorm:"embedded;embeddedPrefix:user_b_" json:"user_b"`
	ExchangeRequestID string      `gorm:"size:36;index" json:"exchange_request_id"`
	CreatedAt         time.Time   `json:"created_at"`
	LastMessage       LastMessage `gorm:"embedded;embeddedPrefix:last_message_" json:"last_message"`
	UnreadA           int         `json:"unread_a"`
	UnreadB           int         `json:"unread_b"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserA.ID == userID || c.UserB.ID == userID
}

// Other returns the counterpart of userID. ok is false when userID is not a
// participant.
func (c *Conversation) Other(userID string) (Participant, bool) {
	switch userID {
	case c.UserA.ID:
		return c.UserB, true
	case c.UserB.ID:
		return c.UserA, true
	default:
		return Participant{}, false
	}
}

// UnreadFor returns the unread counter belonging to userID.
func (c *Conversation) UnreadFor(userID string) int {
	switch userID {
	case c.UserA.ID:
		return c.UnreadA
	case c.UserB.ID:
		return c.UnreadB
	default:
		return 0
	}
}

// ParticipantIDs returns both participant IDs.
func (c *Conversation) ParticipantIDs() []string {
	return []string{c.UserA.ID, c.UserB.ID}
}
