package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/internal/repository"
	"github.com/codewitgabi/skill-barter-sync/internal/store"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
)

// RosterState is the conversation list synchronizer's lifecycle.
type RosterState int

const (
	RosterUninitialized RosterState = iota
	RosterSubscribed                // subscribed, awaiting first snapshot
	RosterReady
)

// RosterEvent is one emission from a Roster. Exactly one field is set:
// Snapshot on reaching ready (possibly empty), Contact for an incremental
// roster update, Message for a newly created message in any of the user's
// conversations.
type RosterEvent struct {
	Snapshot []domain.Contact
	Contact  *domain.Contact
	Message  *domain.Message
}

// Roster synchronizes one user's conversation list. It subscribes to the
// user's chat channel, projects each conversation onto its counterpart
// contact, and drives the presence watcher so that exactly the current
// counterparts are watched. A load or subscribe failure degrades to a
// ready-but-empty roster; chat stays usable instead of broken.
type Roster struct {
	userID    string
	repo      repository.ChatRepository
	presence  store.PresenceStore
	bus       bus.Bus
	watcher   *Watcher
	threshold time.Duration
	emit      func(RosterEvent)
	now       func() time.Time

	mu      sync.Mutex
	convs   map[string]domain.Conversation
	state   RosterState
	cancel  context.CancelFunc
	chatSub *bus.Subscription
}

// NewRoster creates a synchronizer for the given user. The user ID is
// injected explicitly; an empty ID means no authenticated user and yields
// an immediately ready, empty roster.
func NewRoster(
	userID string,
	repo repository.ChatRepository,
	presence store.PresenceStore,
	b bus.Bus,
	threshold time.Duration,
	emit func(RosterEvent),
) *Roster {
	if threshold <= 0 {
		threshold = domain.DefaultOnlineThreshold
	}
	r := &Roster{
		userID:    userID,
		repo:      repo,
		presence:  presence,
		bus:       b,
		threshold: threshold,
		emit:      emit,
		now:       time.Now,
		convs:     make(map[string]domain.Conversation),
	}
	r.watcher = NewWatcher(presence, b, threshold, r.onPresence)
	return r
}

// Start subscribes, loads the initial snapshot, and emits it. It is ready
// once the first snapshot is delivered, even when empty.
func (r *Roster) Start(ctx context.Context) {
	if r.userID == "" {
		r.setState(RosterReady)
		r.emit(RosterEvent{Snapshot: []domain.Contact{}})
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.state = RosterSubscribed
	r.mu.Unlock()

	logger := pkglog.L().With().Str(pkglog.FieldUserID, r.userID).Logger()

	sub, err := r.bus.Subscribe(ctx, bus.ChatUserChannel(r.userID))
	if err != nil {
		logger.Error().Err(err).Msg("chat channel subscribe failed, roster degrades to empty")
	} else {
		r.mu.Lock()
		r.chatSub = sub
		r.mu.Unlock()
		go r.consume(sub.Events())
	}
	r.watcher.Start(ctx)

	convs, err := r.repo.ListConversations(ctx, r.userID)
	if err != nil {
		logger.Error().Err(err).Msg("conversation load failed, roster degrades to empty")
		convs = nil
	}

	r.mu.Lock()
	for _, conv := range convs {
		r.convs[conv.ID] = conv
	}
	r.state = RosterReady
	r.mu.Unlock()

	r.watcher.Watch(ctx, r.counterpartIDs())
	r.emit(RosterEvent{Snapshot: r.Contacts()})
}

// State returns the synchronizer state.
func (r *Roster) State() RosterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Contacts projects the current conversations, newest-created-first.
func (r *Roster) Contacts() []domain.Contact {
	r.mu.Lock()
	convs := make([]domain.Conversation, 0, len(r.convs))
	for _, conv := range r.convs {
		convs = append(convs, conv)
	}
	r.mu.Unlock()

	sort.Slice(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})

	now := r.now()
	contacts := make([]domain.Contact, 0, len(convs))
	for i := range convs {
		if contact, ok := r.project(&convs[i], now); ok {
			contacts = append(contacts, contact)
		}
	}
	return contacts
}

// Close tears down the chat subscription and every presence subscription.
func (r *Roster) Close() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	sub := r.chatSub
	r.chatSub = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.watcher.Close()
	if sub != nil {
		sub.Close()
	}
}

func (r *Roster) setState(state RosterState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

func (r *Roster) consume(events <-chan *bus.Event) {
	for event := range events {
		switch event.Type {
		case bus.EventMessageCreated:
			payload, err := bus.DecodeMessagePayload(event)
			if err != nil {
				continue
			}
			r.upsert(payload.Conversation)
			r.emit(RosterEvent{Message: &payload.Message})
			r.emitContact(payload.Conversation.ID)

		case bus.EventConversationUpdated:
			conv, err := bus.DecodeConversation(event)
			if err != nil {
				continue
			}
			r.upsert(*conv)
			r.emitContact(conv.ID)
		}
	}
}

// upsert stores the conversation and reconciles the watched counterpart
// set when membership changed.
func (r *Roster) upsert(conv domain.Conversation) {
	r.mu.Lock()
	_, known := r.convs[conv.ID]
	r.convs[conv.ID] = conv
	r.mu.Unlock()

	if !known {
		r.watcher.Watch(context.Background(), r.counterpartIDs())
	}
}

func (r *Roster) emitContact(conversationID string) {
	r.mu.Lock()
	conv, ok := r.convs[conversationID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if contact, ok := r.project(&conv, r.now()); ok {
		r.emit(RosterEvent{Contact: &contact})
	}
}

// onPresence receives watcher updates and re-emits the affected contacts.
func (r *Roster) onPresence(update PresenceUpdate) {
	if update.Removed {
		return
	}

	r.mu.Lock()
	var ids []string
	for id, conv := range r.convs {
		if other, ok := conv.Other(r.userID); ok && other.ID == update.UserID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.emitContact(id)
	}
}

func (r *Roster) project(conv *domain.Conversation, now time.Time) (domain.Contact, bool) {
	other, ok := conv.Other(r.userID)
	if !ok {
		return domain.Contact{}, false
	}
	record, ok := r.watcher.Record(other.ID)
	if !ok {
		record = domain.PresenceRecord{UserID: other.ID}
	}
	return domain.NewContact(conv, r.userID, record, now, r.threshold)
}

func (r *Roster) counterpartIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(r.convs))
	ids := make([]string, 0, len(r.convs))
	for _, conv := range r.convs {
		other, ok := conv.Other(r.userID)
		if !ok {
			continue
		}
		if _, dup := seen[other.ID]; dup {
			continue
		}
		seen[other.ID] = struct{}{}
		ids = append(ids, other.ID)
	}
	return ids
}
