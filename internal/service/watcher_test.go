package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

type updateRecorder struct {
	mu      sync.Mutex
	updates []PresenceUpdate
}

func (r *updateRecorder) emit(u PresenceUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) all() []PresenceUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PresenceUpdate, len(r.updates))
	copy(out, r.updates)
	return out
}

func (r *updateRecorder) waitFor(t *testing.T, n int) []PresenceUpdate {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if updates := r.all(); len(updates) >= n {
			return updates
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d updates, got %d", n, len(r.all()))
	return nil
}

func TestWatcherInitialReadEmits(t *testing.T) {
	store := newFakePresenceStore()
	b := newFakeBus()
	store.records["bob"] = domain.PresenceRecord{UserID: "bob", Online: true, LastSeen: time.Now().UnixMilli()}

	rec := &updateRecorder{}
	w := NewWatcher(store, b, 180*time.Second, rec.emit)
	defer w.Close()

	w.Watch(context.Background(), []string{"bob"})

	updates := rec.waitFor(t, 1)
	assert.Equal(t, "bob", updates[0].UserID)
	assert.True(t, updates[0].Online)
	assert.True(t, w.Online("bob"))
}

func TestWatcherBusUpdateFlipsState(t *testing.T) {
	store := newFakePresenceStore()
	b := newFakeBus()
	store.records["bob"] = domain.PresenceRecord{UserID: "bob", Online: true, LastSeen: time.Now().UnixMilli()}

	rec := &updateRecorder{}
	w := NewWatcher(store, b, 180*time.Second, rec.emit)
	defer w.Close()

	ctx := context.Background()
	w.Watch(ctx, []string{"bob"})
	rec.waitFor(t, 1)

	event, err := bus.NewPresenceEvent(domain.PresenceRecord{UserID: "bob", Online: false, LastSeen: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.PresenceChannel("bob"), event))

	updates := rec.waitFor(t, 2)
	assert.False(t, updates[1].Online)
	assert.False(t, w.Online("bob"))
}

func TestWatcherNoEmitWithoutStateChange(t *testing.T) {
	store := newFakePresenceStore()
	b := newFakeBus()
	store.records["bob"] = domain.PresenceRecord{UserID: "bob", Online: true, LastSeen: time.Now().UnixMilli()}

	rec := &updateRecorder{}
	w := NewWatcher(store, b, 180*time.Second, rec.emit)
	defer w.Close()

	ctx := context.Background()
	w.Watch(ctx, []string{"bob"})
	rec.waitFor(t, 1)

	// A heartbeat refresh keeps the user online; no flip, no emit.
	event, err := bus.NewPresenceEvent(domain.PresenceRecord{UserID: "bob", Online: true, LastSeen: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.PresenceChannel("bob"), event))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.all(), 1)
}

func TestWatcherSetReconciliation(t *testing.T) {
	store := newFakePresenceStore()
	b := newFakeBus()

	rec := &updateRecorder{}
	w := NewWatcher(store, b, 180*time.Second, rec.emit)
	defer w.Close()

	ctx := context.Background()
	w.Watch(ctx, []string{"bob", "carol"})
	rec.waitFor(t, 2)
	assert.True(t, b.subscribed(bus.PresenceChannel("bob")))
	assert.True(t, b.subscribed(bus.PresenceChannel("carol")))

	// Re-watching the same set is a no-op.
	w.Watch(ctx, []string{"bob", "carol"})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.all(), 2)

	// Dropping carol tears down her subscription and purges her state.
	w.Watch(ctx, []string{"bob"})
	updates := rec.waitFor(t, 3)
	assert.True(t, updates[2].Removed)
	assert.Equal(t, "carol", updates[2].UserID)
	assert.False(t, b.subscribed(bus.PresenceChannel("carol")))
	_, ok := w.Record("carol")
	assert.False(t, ok)
}

func TestWatcherSweepFlipsAgedRecord(t *testing.T) {
	store := newFakePresenceStore()
	b := newFakeBus()

	current := time.Now()
	store.records["bob"] = domain.PresenceRecord{UserID: "bob", Online: true, LastSeen: current.UnixMilli()}

	rec := &updateRecorder{}
	w := NewWatcher(store, b, 180*time.Second, rec.emit)
	defer w.Close()

	var mu sync.Mutex
	now := current
	w.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	w.Watch(context.Background(), []string{"bob"})
	rec.waitFor(t, 1)
	assert.True(t, w.Online("bob"))

	// Age the record past the threshold without any new write.
	mu.Lock()
	now = current.Add(200 * time.Second)
	mu.Unlock()
	w.sweep()

	updates := rec.waitFor(t, 2)
	assert.False(t, updates[1].Online)
	assert.False(t, w.Online("bob"))
}

func TestWatchersShareAPresenceChannel(t *testing.T) {
	store := newFakePresenceStore()
	b := newFakeBus()
	store.records["carol"] = domain.PresenceRecord{UserID: "carol", Online: true, LastSeen: time.Now().UnixMilli()}

	rec1 := &updateRecorder{}
	rec2 := &updateRecorder{}
	w1 := NewWatcher(store, b, 180*time.Second, rec1.emit)
	w2 := NewWatcher(store, b, 180*time.Second, rec2.emit)
	defer w2.Close()

	ctx := context.Background()
	w1.Watch(ctx, []string{"carol"})
	w2.Watch(ctx, []string{"carol"})
	rec1.waitFor(t, 1)
	rec2.waitFor(t, 1)
	assert.Equal(t, 2, b.subscriberCount(bus.PresenceChannel("carol")))

	// One watcher going away must not silence the other.
	w1.Close()
	assert.Equal(t, 1, b.subscriberCount(bus.PresenceChannel("carol")))

	event, err := bus.NewPresenceEvent(domain.PresenceRecord{UserID: "carol", Online: false, LastSeen: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, bus.PresenceChannel("carol"), event))

	updates := rec2.waitFor(t, 2)
	assert.False(t, updates[1].Online)
	assert.False(t, w2.Online("carol"))
}

func TestWatcherCloseUnsubscribesAll(t *testing.T) {
	store := newFakePresenceStore()
	b := newFakeBus()

	rec := &updateRecorder{}
	w := NewWatcher(store, b, 180*time.Second, rec.emit)

	w.Watch(context.Background(), []string{"bob", "carol"})
	rec.waitFor(t, 2)

	w.Close()
	assert.False(t, b.subscribed(bus.PresenceChannel("bob")))
	assert.False(t, b.subscribed(bus.PresenceChannel("carol")))
	assert.Empty(t, w.Snapshot())
}
