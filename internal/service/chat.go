package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/internal/kafka"
	"github.com/codewitgabi/skill-barter-sync/internal/repository"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
)

// ErrEmptyMessage rejects sends whose text is empty after trimming.
var ErrEmptyMessage = errors.New("message text is empty")

// defaultThreadLimit is how many messages OpenThread returns when the
// caller does not ask for a specific page size.
const defaultThreadLimit = 50

// Chat handles message sends, thread opens, and read receipts. Persistence
// is the source of truth; bus publication and archive production are
// best-effort and never fail the caller once the write has committed.
type Chat struct {
	repo     repository.ChatRepository
	bus      bus.Bus
	producer kafka.MessageProducer
	now      func() time.Time
	newID    func() string
}

// NewChat creates the chat service. producer may be nil when the archive
// pipeline is disabled.
func NewChat(repo repository.ChatRepository, b bus.Bus, producer kafka.MessageProducer) *Chat {
	return &Chat{
		repo:     repo,
		bus:      b,
		producer: producer,
		now:      time.Now,
		newID:    func() string { return ksuid.New().String() },
	}
}

// Send validates, persists, and fans out one message. The message insert
// and the conversation metadata update commit in one transaction; only
// after the commit is the event published to both participants' channels,
// the sender's included.
func (c *Chat) Send(ctx context.Context, conversationID, senderID, text string) (*domain.Message, *domain.Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, ErrEmptyMessage
	}

	msg := &domain.Message{
		ID:             c.newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      c.now().UTC(),
	}
	conv, err := c.repo.SendMessage(ctx, msg)
	if err != nil {
		return nil, nil, err
	}

	logger := pkglog.Ctx(ctx).With().
		Str(pkglog.FieldConversationID, conversationID).
		Str(pkglog.FieldMessageID, msg.ID).
		Logger()

	event, err := bus.NewMessageEvent(*msg, *conv)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode message event")
	} else {
		for _, userID := range conv.ParticipantIDs() {
			if err := c.bus.Publish(ctx, bus.ChatUserChannel(userID), event); err != nil {
				logger.Error().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to publish message event")
			}
		}
	}

	if c.producer != nil {
		if err := c.producer.ProduceMessage(ctx, msg); err != nil {
			logger.Error().Err(err).Msg("failed to produce message to archive topic")
		}
	}

	return msg, conv, nil
}

// OpenThread verifies membership, marks the thread read, and returns the
// newest page of messages in ascending creation order.
func (c *Chat) OpenThread(ctx context.Context, conversationID, userID string, limit int) (*domain.Conversation, []domain.Message, error) {
	conv, err := c.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, nil, repository.ErrNotParticipant
	}

	if limit <= 0 {
		limit = defaultThreadLimit
	}
	messages, _, _, err := c.repo.ListMessages(ctx, conversationID, "", limit, repository.DirectionBackward)
	if err != nil {
		return nil, nil, err
	}
	// Backward pages arrive newest-first; the thread renders oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if conv.UnreadFor(userID) > 0 {
		if updated, err := c.MarkRead(ctx, conversationID, userID); err != nil {
			pkglog.Ctx(ctx).Error().Err(err).
				Str(pkglog.FieldConversationID, conversationID).
				Msg("failed to mark thread read on open")
		} else {
			conv = updated
		}
	}
	return conv, messages, nil
}

// MarkRead zeroes the reader's unread counter and notifies the reader's
// other sessions so every open roster agrees on the count.
func (c *Chat) MarkRead(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	conv, err := c.repo.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	event, err := bus.NewConversationEvent(*conv)
	if err != nil {
		pkglog.Ctx(ctx).Error().Err(err).Msg("failed to encode conversation event")
		return conv, nil
	}
	if err := c.bus.Publish(ctx, bus.ChatUserChannel(userID), event); err != nil {
		pkglog.Ctx(ctx).Error().Err(err).
			Str(pkglog.FieldConversationID, conversationID).
			Msg("failed to publish conversation event")
	}
	return conv, nil
}

// CreateConversation opens a thread between two users over an exchange
// request and notifies both so their rosters pick it up immediately.
func (c *Chat) CreateConversation(ctx context.Context, userA, userB domain.Participant, exchangeRequestID string) (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:                uuid.NewString(),
		UserA:             userA,
		UserB:             userB,
		ExchangeRequestID: exchangeRequestID,
		CreatedAt:         c.now().UTC(),
	}
	if err := c.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	event, err := bus.NewConversationEvent(*conv)
	if err != nil {
		pkglog.Ctx(ctx).Error().Err(err).Msg("failed to encode conversation event")
		return conv, nil
	}
	for _, userID := range conv.ParticipantIDs() {
		if err := c.bus.Publish(ctx, bus.ChatUserChannel(userID), event); err != nil {
			pkglog.Ctx(ctx).Error().Err(err).
				Str(pkglog.FieldUserID, userID).
				Msg("failed to publish conversation event")
		}
	}
	return conv, nil
}
