package repository

import (
	"context"
	"errors"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not a participant of this conversation")
)

// Direction controls history pagination order.
type Direction int

const (
	// DirectionBackward pages from newest to oldest.
	DirectionBackward Direction = iota
	// DirectionForward pages from oldest to newest.
	DirectionForward
)

// ParseDirection maps the API query value to a Direction.
func ParseDirection(s string) Direction {
	if s == "forward" {
		return DirectionForward
	}
	return DirectionBackward
}

// ChatRepository persists conversations and their messages. SendMessage is
// the one multi-write operation: the message insert and the conversation
// metadata update are applied in a single transaction so the list view and
// the thread view never disagree about the latest message.
type ChatRepository interface {
	// CreateConversation inserts a new two-party conversation.
	CreateConversation(ctx context.Context, conv *domain.Conversation) error

	// GetConversation loads one conversation by ID.
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)

	// ListConversations returns all conversations containing the user,
	// newest-created-first.
	ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error)

	// SendMessage inserts msg and, in the same transaction, updates the
	// conversation's last-message summary and increments the counterpart's
	// unread counter. Returns the conversation after the update.
	SendMessage(ctx context.Context, msg *domain.Message) (*domain.Conversation, error)

	// MarkRead zeroes userID's unread counter and flags the counterpart's
	// messages as read. Returns the conversation after the update.
	MarkRead(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)

	// ListMessages pages through a conversation's messages. The cursor is a
	// message ID; results are in creation order for DirectionForward and
	// reverse creation order for DirectionBackward. Returns the page, the
	// next cursor, and whether more pages exist.
	ListMessages(ctx context.Context, conversationID, cursor string, limit int, dir Direction) ([]domain.Message, string, bool, error)

	// Close closes the underlying connection.
	Close() error
}
