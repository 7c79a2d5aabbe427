package service

import (
	"context"
	"sync"
	"time"

	"github.com/codewitgabi/skill-barter-sync/internal/bus"
	"github.com/codewitgabi/skill-barter-sync/internal/domain"
	"github.com/codewitgabi/skill-barter-sync/internal/store"
	pkglog "github.com/codewitgabi/skill-barter-sync/pkg/log"
)

// PresenceUpdate is emitted when a watched user's derived online state
// changes, or when the user leaves the watched set (Removed).
type PresenceUpdate struct {
	UserID  string
	Record  domain.PresenceRecord
	Online  bool
	Removed bool
}

// Watcher is the presence reader: one subscription per watched user ID,
// with dynamic membership. The online flag is derived, not stored: flag AND
// last-seen within the threshold. A periodic sweep re-evaluates cached
// records so a record aging past the threshold flips offline without any
// new write arriving.
type Watcher struct {
	store     store.PresenceStore
	bus       bus.Bus
	threshold time.Duration
	sweepTick time.Duration
	emit      func(PresenceUpdate)
	now       func() time.Time

	mu      sync.Mutex
	subs    map[string]*bus.Subscription
	records map[string]domain.PresenceRecord
	online  map[string]bool
}

// NewWatcher creates a presence watcher. Updates are delivered through
// emit, which must not call back into the watcher.
func NewWatcher(s store.PresenceStore, b bus.Bus, threshold time.Duration, emit func(PresenceUpdate)) *Watcher {
	if threshold <= 0 {
		threshold = domain.DefaultOnlineThreshold
	}
	return &Watcher{
		store:     s,
		bus:       b,
		threshold: threshold,
		sweepTick: 15 * time.Second,
		emit:      emit,
		now:       time.Now,
		subs:      make(map[string]*bus.Subscription),
		records:   make(map[string]domain.PresenceRecord),
		online:    make(map[string]bool),
	}
}

// Start launches the staleness sweep. It returns immediately.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.sweepTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.sweep()
			}
		}
	}()
}

// Watch reconciles the watched set to exactly userIDs: new IDs gain a
// subscription, absent IDs are torn down and purged. Watching an already
// watched ID is a no-op; no two subscriptions ever exist for the same ID.
func (w *Watcher) Watch(ctx context.Context, userIDs []string) {
	want := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		want[id] = struct{}{}
	}

	var removed []string
	var dropped []*bus.Subscription
	w.mu.Lock()
	for id, sub := range w.subs {
		if _, ok := want[id]; ok {
			continue
		}
		if sub != nil {
			dropped = append(dropped, sub)
		}
		delete(w.subs, id)
		delete(w.records, id)
		delete(w.online, id)
		removed = append(removed, id)
	}
	var added []string
	for id := range want {
		if _, ok := w.subs[id]; !ok {
			added = append(added, id)
		}
	}
	w.mu.Unlock()

	for _, sub := range dropped {
		sub.Close()
	}
	for _, id := range removed {
		w.emit(PresenceUpdate{UserID: id, Removed: true})
	}
	for _, id := range added {
		w.watchOne(ctx, id)
	}
}

// Record returns the last observed presence record for a watched user.
func (w *Watcher) Record(userID string) (domain.PresenceRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.records[userID]
	return r, ok
}

// Online returns the derived online flag for a watched user.
func (w *Watcher) Online(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online[userID]
}

// Snapshot returns the current derived online map.
func (w *Watcher) Snapshot() map[string]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]bool, len(w.online))
	for id, on := range w.online {
		out[id] = on
	}
	return out
}

// Close tears down every subscription.
func (w *Watcher) Close() {
	w.mu.Lock()
	subs := make([]*bus.Subscription, 0, len(w.subs))
	for _, sub := range w.subs {
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	w.subs = make(map[string]*bus.Subscription)
	w.records = make(map[string]domain.PresenceRecord)
	w.online = make(map[string]bool)
	w.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (w *Watcher) watchOne(ctx context.Context, userID string) {
	w.mu.Lock()
	if _, ok := w.subs[userID]; ok {
		w.mu.Unlock()
		return
	}
	// Reserve the slot so a concurrent Watch cannot double-subscribe.
	w.subs[userID] = nil
	w.mu.Unlock()

	sub, err := w.bus.Subscribe(ctx, bus.PresenceChannel(userID))
	if err != nil {
		// Degrade to the initial read; the sweep keeps the flag honest.
		pkglog.L().Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("presence subscribe failed")
	} else {
		w.mu.Lock()
		if _, still := w.subs[userID]; !still {
			// Torn down while subscribing.
			w.mu.Unlock()
			sub.Close()
			return
		}
		w.subs[userID] = sub
		w.mu.Unlock()

		go func() {
			for event := range sub.Events() {
				record, err := bus.DecodePresence(event)
				if err != nil {
					continue
				}
				w.update(userID, record)
			}
		}()
	}

	record, err := w.store.Get(ctx, userID)
	if err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("presence read failed")
		record = domain.PresenceRecord{UserID: userID}
	}
	w.update(userID, record)
}

func (w *Watcher) update(userID string, record domain.PresenceRecord) {
	on := record.IsOnline(w.now(), w.threshold)

	w.mu.Lock()
	if _, watched := w.subs[userID]; !watched {
		w.mu.Unlock()
		return
	}
	_, seen := w.records[userID]
	prev := w.online[userID]
	w.records[userID] = record
	w.online[userID] = on
	w.mu.Unlock()

	if !seen || prev != on {
		w.emit(PresenceUpdate{UserID: userID, Record: record, Online: on})
	}
}

// sweep re-derives the online flag for every cached record and emits the
// transitions caused purely by aging.
func (w *Watcher) sweep() {
	now := w.now()

	var flips []PresenceUpdate
	w.mu.Lock()
	for id, record := range w.records {
		on := record.IsOnline(now, w.threshold)
		if on != w.online[id] {
			w.online[id] = on
			flips = append(flips, PresenceUpdate{UserID: id, Record: record, Online: on})
		}
	}
	w.mu.Unlock()

	for _, update := range flips {
		w.emit(update)
	}
}
