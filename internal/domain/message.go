package domain

import "time"

// Message belongs to exactly one conversation and is immutable after
// insert. IDs are KSUIDs, so lexicographic order is creation order and the
// ID doubles as the history pagination cursor.
type Message struct {
	ID             string    `gorm:"primaryKey;size:27" json:"id"`
	ConversationID string    `gorm:"size:36;index:idx_messages_conversation" json:"conversation_id"`
	SenderID       string    `gorm:"size:36" json:"sender_id"`
	Text           string    `gorm:"size:2000" json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
}
