package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

type rosterRecorder struct {
	mu     sync.Mutex
	events []RosterEvent
}

func (r *rosterRecorder) emit(e RosterEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *rosterRecorder) all() []RosterEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RosterEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *rosterRecorder) waitFor(t *testing.T, match func(RosterEvent) bool) RosterEvent {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, e := range r.all() {
			if match(e) {
				return e
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for roster event")
	return RosterEvent{}
}

func (r *rosterRecorder) snapshot(t *testing.T) RosterEvent {
	t.Helper()
	return r.waitFor(t, func(e RosterEvent) bool { return e.Snapshot != nil })
}

func seedRosterConversations(t *testing.T, repo *fakeChatRepository) {
	t.Helper()
	now := time.Now()
	for _, conv := range []domain.Conversation{
		{
			ID:        "c1",
			UserA:     domain.Participant{ID: "alice", Name: "Alice Chen"},
			UserB:     domain.Participant{ID: "bob", Name: "Bob Ade"},
			CreatedAt: now.Add(-2 * time.Hour),
		},
		{
			ID:        "c2",
			UserA:     domain.Participant{ID: "carol", Name: "Carol Diaz"},
			UserB:     domain.Participant{ID: "alice", Name: "Alice Chen"},
			CreatedAt: now.Add(-1 * time.Hour),
		},
	} {
		c := conv
		require.NoError(t, repo.CreateConversation(context.Background(), &c))
	}
}

func TestRosterEmptyUserIDImmediatelyReady(t *testing.T) {
	rec := &rosterRecorder{}
	r := NewRoster("", newFakeChatRepository(), newFakePresenceStore(), newFakeBus(), 0, rec.emit)

	r.Start(context.Background())

	assert.Equal(t, RosterReady, r.State())
	snapshot := rec.snapshot(t)
	assert.Empty(t, snapshot.Snapshot)
}

func TestRosterSnapshotProjectsCounterparts(t *testing.T) {
	repo := newFakeChatRepository()
	seedRosterConversations(t, repo)
	store := newFakePresenceStore()
	store.records["bob"] = domain.PresenceRecord{UserID: "bob", Online: true, LastSeen: time.Now().UnixMilli()}
	b := newFakeBus()

	rec := &rosterRecorder{}
	r := NewRoster("alice", repo, store, b, 180*time.Second, rec.emit)
	defer r.Close()

	r.Start(context.Background())

	snapshot := rec.snapshot(t).Snapshot
	require.Len(t, snapshot, 2)
	// Newest conversation first.
	assert.Equal(t, "carol", snapshot[0].UserID)
	assert.Equal(t, "bob", snapshot[1].UserID)
	assert.Equal(t, RosterReady, r.State())

	// Both counterparts are watched.
	assert.True(t, b.subscribed(bus.PresenceChannel("bob")))
	assert.True(t, b.subscribed(bus.PresenceChannel("carol")))
	assert.True(t, b.subscribed(bus.ChatUserChannel("alice")))
}

func TestRosterLoadFailureDegradesToEmpty(t *testing.T) {
	repo := newFakeChatRepository()
	seedRosterConversations(t, repo)
	repo.listErr = errors.New("backend unavailable")

	rec := &rosterRecorder{}
	r := NewRoster("alice", repo, newFakePresenceStore(), newFakeBus(), 0, rec.emit)
	defer r.Close()

	r.Start(context.Background())

	assert.Equal(t, RosterReady, r.State())
	snapshot := rec.snapshot(t)
	assert.Empty(t, snapshot.Snapshot)
}

func TestRosterIncomingMessageUpdatesContact(t *testing.T) {
	repo := newFakeChatRepository()
	seedRosterConversations(t, repo)
	b := newFakeBus()

	rec := &rosterRecorder{}
	r := NewRoster("alice", repo, newFakePresenceStore(), b, 0, rec.emit)
	defer r.Close()

	ctx := context.Background()
	r.Start(ctx)
	rec.snapshot(t)

	conv, err := repo.GetConversation(ctx, "c1")
	require.NoError(t, err)
	msg := domain.Message{ID: "m1", ConversationID: "c1", SenderID: "bob", Text: "you around?", CreatedAt: time.Now()}
	conv.LastMessage = domain.LastMessage{Text: msg.Text, SenderID: "bob", SentAt: msg.CreatedAt}
	conv.UnreadA = 1

	event, err := bus.NewMessageEvent(msg, *conv)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.ChatUserChannel("alice"), event))

	got := rec.waitFor(t, func(e RosterEvent) bool { return e.Message != nil })
	assert.Equal(t, "m1", got.Message.ID)

	contact := rec.waitFor(t, func(e RosterEvent) bool {
		return e.Contact != nil && e.Contact.ConversationID == "c1"
	})
	assert.Equal(t, "you around?", contact.Contact.LastMessageText)
	assert.Equal(t, 1, contact.Contact.UnreadCount)
	assert.False(t, contact.Contact.LastMessageFromMe)
}

func TestRosterNewConversationExtendsWatchSet(t *testing.T) {
	repo := newFakeChatRepository()
	seedRosterConversations(t, repo)
	b := newFakeBus()

	rec := &rosterRecorder{}
	r := NewRoster("alice", repo, newFakePresenceStore(), b, 0, rec.emit)
	defer r.Close()

	ctx := context.Background()
	r.Start(ctx)
	rec.snapshot(t)

	conv := domain.Conversation{
		ID:        "c3",
		UserA:     domain.Participant{ID: "alice", Name: "Alice Chen"},
		UserB:     domain.Participant{ID: "dave", Name: "Dave Eze"},
		CreatedAt: time.Now(),
	}
	event, err := bus.NewConversationEvent(conv)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.ChatUserChannel("alice"), event))

	contact := rec.waitFor(t, func(e RosterEvent) bool {
		return e.Contact != nil && e.Contact.ConversationID == "c3"
	})
	assert.Equal(t, "dave", contact.Contact.UserID)

	deadline := time.Now().Add(time.Second)
	for !b.subscribed(bus.PresenceChannel("dave")) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, b.subscribed(bus.PresenceChannel("dave")), "new counterpart gains a presence watch")
}

func TestRosterPresenceFlipReprojectsContact(t *testing.T) {
	repo := newFakeChatRepository()
	seedRosterConversations(t, repo)
	b := newFakeBus()

	rec := &rosterRecorder{}
	r := NewRoster("alice", repo, newFakePresenceStore(), b, 180*time.Second, rec.emit)
	defer r.Close()

	ctx := context.Background()
	r.Start(ctx)
	rec.snapshot(t)

	event, err := bus.NewPresenceEvent(domain.PresenceRecord{UserID: "bob", Online: true, LastSeen: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.PresenceChannel("bob"), event))

	contact := rec.waitFor(t, func(e RosterEvent) bool {
		return e.Contact != nil && e.Contact.UserID == "bob" && e.Contact.Online
	})
	assert.Equal(t, "online", contact.Contact.LastSeenLabel)
}

func TestRostersForSameUserBothReceive(t *testing.T) {
	// Two sessions of the same user each run a roster; both must get live
	// updates, and closing one must not cut off the other.
	repo := newFakeChatRepository()
	seedRosterConversations(t, repo)
	b := newFakeBus()

	rec1 := &rosterRecorder{}
	rec2 := &rosterRecorder{}
	r1 := NewRoster("alice", repo, newFakePresenceStore(), b, 0, rec1.emit)
	r2 := NewRoster("alice", repo, newFakePresenceStore(), b, 0, rec2.emit)
	defer r2.Close()

	ctx := context.Background()
	r1.Start(ctx)
	r2.Start(ctx)
	rec1.snapshot(t)
	rec2.snapshot(t)
	assert.Equal(t, 2, b.subscriberCount(bus.ChatUserChannel("alice")))

	publishMessage := func(id, text string) {
		t.Helper()
		conv, err := repo.GetConversation(ctx, "c1")
		require.NoError(t, err)
		msg := domain.Message{ID: id, ConversationID: "c1", SenderID: "bob", Text: text, CreatedAt: time.Now()}
		event, err := bus.NewMessageEvent(msg, *conv)
		require.NoError(t, err)
		require.NoError(t, b.Publish(ctx, bus.ChatUserChannel("alice"), event))
	}

	publishMessage("m1", "first")
	rec1.waitFor(t, func(e RosterEvent) bool { return e.Message != nil && e.Message.ID == "m1" })
	rec2.waitFor(t, func(e RosterEvent) bool { return e.Message != nil && e.Message.ID == "m1" })

	r1.Close()
	assert.Equal(t, 1, b.subscriberCount(bus.ChatUserChannel("alice")))

	publishMessage("m2", "second")
	rec2.waitFor(t, func(e RosterEvent) bool { return e.Message != nil && e.Message.ID == "m2" })
}

func TestRosterCloseTearsDownSubscriptions(t *testing.T) {
	repo := newFakeChatRepository()
	seedRosterConversations(t, repo)
	b := newFakeBus()

	rec := &rosterRecorder{}
	r := NewRoster("alice", repo, newFakePresenceStore(), b, 0, rec.emit)

	r.Start(context.Background())
	rec.snapshot(t)

	r.Close()
	assert.False(t, b.subscribed(bus.ChatUserChannel("alice")))
	assert.False(t, b.subscribed(bus.PresenceChannel("bob")))
	assert.False(t, b.subscribed(bus.PresenceChannel("carol")))
}
