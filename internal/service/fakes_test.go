package service

import (
	"context"
	"sync"
	"time"

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/internal/repository"
)

// fakePresenceStore is an in-memory PresenceStore.
type fakePresenceStore struct {
	mu      sync.Mutex
	records map[string]domain.PresenceRecord
	now     func() time.Time

	onlineCalls  int
	offlineCalls int
	getErr       error
}

func newFakePresenceStore() *fakePresenceStore {
	return &fakePresenceStore{
		records: make(map[string]domain.PresenceRecord),
		now:     time.Now,
	}
}

func (s *fakePresenceStore) SetOnline(ctx context.Context, userID string, ttl time.Duration) (domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := domain.PresenceRecord{UserID: userID, Online: true, LastSeen: s.now().UnixMilli()}
	s.records[userID] = record
	s.onlineCalls++
	return record, nil
}

func (s *fakePresenceStore) SetOffline(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.records[userID]
	record.UserID = userID
	record.Online = false
	s.records[userID] = record
	s.offlineCalls++
	return record, nil
}

func (s *fakePresenceStore) Get(ctx context.Context, userID string) (domain.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.PresenceRecord{}, s.getErr
	}
	record, ok := s.records[userID]
	if !ok {
		return domain.PresenceRecord{UserID: userID}, nil
	}
	return record, nil
}

func (s *fakePresenceStore) GetMany(ctx context.Context, userIDs []string) (map[string]domain.PresenceRecord, error) {
	out := make(map[string]domain.PresenceRecord, len(userIDs))
	for _, id := range userIDs {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = record
	}
	return out, nil
}

func (s *fakePresenceStore) Close() error { return nil }

func (s *fakePresenceStore) record(userID string) domain.PresenceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[userID]
}

// fakeBus is an in-memory Bus mirroring the Redis bus contract: any number
// of consumers per channel, each with an independent stream, published
// events fanned out to all of them.
type fakeBus struct {
	mu        sync.Mutex
	subs      map[string][]*bus.Subscription
	published map[string][]*bus.Event
	subErr    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		subs:      make(map[string][]*bus.Subscription),
		published: make(map[string][]*bus.Event),
	}
}

func (b *fakeBus) Publish(ctx context.Context, channel string, event *bus.Event) error {
	b.mu.Lock()
	b.published[channel] = append(b.published[channel], event)
	consumers := make([]*bus.Subscription, len(b.subs[channel]))
	copy(consumers, b.subs[channel])
	b.mu.Unlock()

	for _, sub := range consumers {
		sub.Deliver(event)
	}
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (*bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subErr != nil {
		return nil, b.subErr
	}
	var sub *bus.Subscription
	sub = bus.NewSubscription(channel, 16, func() { b.detach(channel, sub) })
	b.subs[channel] = append(b.subs[channel], sub)
	return sub, nil
}

func (b *fakeBus) detach(channel string, sub *bus.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.subs[channel][:0]
	for _, s := range b.subs[channel] {
		if s != sub {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(b.subs, channel)
		return
	}
	b.subs[channel] = remaining
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	var all []*bus.Subscription
	for channel, subs := range b.subs {
		all = append(all, subs...)
		delete(b.subs, channel)
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
	return nil
}

func (b *fakeBus) subscribed(channel string) bool {
	return b.subscriberCount(channel) > 0
}

func (b *fakeBus) subscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *fakeBus) events(channel string) []*bus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*bus.Event, len(b.published[channel]))
	copy(out, b.published[channel])
	return out
}

// fakeChatRepository is an in-memory ChatRepository covering what the
// synchronizers exercise.
type fakeChatRepository struct {
	mu       sync.Mutex
	convs    map[string]domain.Conversation
	messages map[string][]domain.Message
	listErr  error
}

func newFakeChatRepository() *fakeChatRepository {
	return &fakeChatRepository{
		convs:    make(map[string]domain.Conversation),
		messages: make(map[string][]domain.Message),
	}
}

func (r *fakeChatRepository) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[conv.ID] = *conv
	return nil
}

func (r *fakeChatRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	return &conv, nil
}

func (r *fakeChatRepository) ListConversations(ctx context.Context, userID string) ([]domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.Conversation
	for _, conv := range r.convs {
		if conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (r *fakeChatRepository) SendMessage(ctx context.Context, msg *domain.Message) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[msg.ConversationID]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	if !conv.HasParticipant(msg.SenderID) {
		return nil, repository.ErrNotParticipant
	}

	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], *msg)
	conv.LastMessage = domain.LastMessage{Text: msg.Text, SenderID: msg.SenderID, SentAt: msg.CreatedAt}
	if msg.SenderID == conv.UserA.ID {
		conv.UnreadB++
	} else {
		conv.UnreadA++
	}
	r.convs[conv.ID] = conv
	return &conv, nil
}

func (r *fakeChatRepository) MarkRead(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, repository.ErrNotParticipant
	}
	if userID == conv.UserA.ID {
		conv.UnreadA = 0
	} else {
		conv.UnreadB = 0
	}
	msgs := r.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != userID {
			msgs[i].IsRead = true
		}
	}
	r.convs[conversationID] = conv
	return &conv, nil
}

func (r *fakeChatRepository) ListMessages(ctx context.Context, conversationID, cursor string, limit int, dir repository.Direction) ([]domain.Message, string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[conversationID]

	if dir == repository.DirectionBackward {
		out := make([]domain.Message, 0, limit)
		for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, msgs[i])
		}
		return out, "", len(msgs) > limit, nil
	}

	out := make([]domain.Message, 0, limit)
	for i := 0; i < len(msgs) && len(out) < limit; i++ {
		out = append(out, msgs[i])
	}
	return out, "", len(msgs) > limit, nil
}

func (r *fakeChatRepository) Close() error { return nil }

// fakeProducer records produced messages.
type fakeProducer struct {
	mu       sync.Mutex
	produced []domain.Message
}

func (p *fakeProducer) ProduceMessage(ctx context.Context, msg *domain.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.produced = append(p.produced, *msg)
	return nil
}

func (p *fakeProducer) Close() error { return nil }
