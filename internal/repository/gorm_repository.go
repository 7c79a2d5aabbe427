package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

type gormRepository struct {
	db *gorm.DB
}

// NewGormRepository wraps a gorm connection as a ChatRepository and runs
// schema migration for the chat tables.
func NewGormRepository(db *gorm.DB) (ChatRepository, error) {
	if err := db.AutoMigrate(&domain.Conversation{}, &domain.Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate chat schema: %w", err)
	}
	return &gormRepository{db: db}, nil
}

func (r *gormRepository) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (r *gormRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

func (r *gormRepository) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	err := r.db.WithContext(ctx).
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (r *gormRepository) SendMessage(ctx context.Context, msg *domain.Message) (*domain.Conversation, error) {
	var conv domain.Conversation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		if !conv.HasParticipant(msg.SenderID) {
			return ErrNotParticipant
		}

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		conv.LastMessage = domain.LastMessage{
			Text:     msg.Text,
			SenderID: msg.SenderID,
			SentAt:   msg.CreatedAt,
		}

		// Increment in SQL so concurrent sends from both sides never lose
		// a count to a stale read.
		unreadColumn := "unread_b"
		if msg.SenderID != conv.UserA.ID {
			unreadColumn = "unread_a"
		}
		if err := tx.Model(&domain.Conversation{}).
			Where("id = ?", conv.ID).
			Updates(map[string]interface{}{
				"last_message_text":      conv.LastMessage.Text,
				"last_message_sender_id": conv.LastMessage.SenderID,
				"last_message_sent_at":   conv.LastMessage.SentAt,
				unreadColumn:             gorm.Expr(unreadColumn+" + ?", 1),
			}).Error; err != nil {
			return err
		}

		// Reload so the returned metadata reflects the stored counters.
		return tx.First(&conv, "id = ?", conv.ID).Error
	})
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

func (r *gormRepository) MarkRead(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	var conv domain.Conversation

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&conv, "id = ?", conversationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		if !conv.HasParticipant(userID) {
			return ErrNotParticipant
		}

		unreadColumn := "unread_b"
		if userID == conv.UserA.ID {
			unreadColumn = "unread_a"
			conv.UnreadA = 0
		} else {
			conv.UnreadB = 0
		}

		if err := tx.Model(&domain.Conversation{}).
			Where("id = ?", conversationID).
			Update(unreadColumn, 0).Error; err != nil {
			return err
		}

		// Flag the counterpart's messages as read.
		return tx.Model(&domain.Message{}).
			Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conversationID, userID, false).
			Update("is_read", true).Error
	})
	if err != nil {
		return nil, err
	}

	return &conv, nil
}

func (r *gormRepository) ListMessages(ctx context.Context, conversationID, cursor string, limit int, dir Direction) ([]domain.Message, string, bool, error) {
	// Query limit + 1 to determine if there are more results.
	queryLimit := limit + 1

	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Limit(queryLimit)

	// Message IDs are KSUIDs: lexicographic order is creation order.
	if dir == DirectionBackward {
		q = q.Order("id DESC")
		if cursor != "" {
			q = q.Where("id < ?", cursor)
		}
	} else {
		q = q.Order("id ASC")
		if cursor != "" {
			q = q.Where("id > ?", cursor)
		}
	}

	var messages []domain.Message
	if err := q.Find(&messages).Error; err != nil {
		return nil, "", false, fmt.Errorf("failed to list messages: %w", err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	var nextCursor string
	if len(messages) > 0 {
		nextCursor = messages[len(messages)-1].ID
	}

	return messages, nextCursor, hasMore, nil
}

func (r *gormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
