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

// PresenceConfig holds presence timing configuration.
type PresenceConfig struct {
	// HeartbeatInterval is how often an online user's record is re-asserted.
	HeartbeatInterval time.Duration
	// OnlineThreshold is the recency window readers apply, and the TTL
	// backstop on the stored record.
	OnlineThreshold time.Duration
	// OfflineGrace delays the offline transition after the last session
	// disconnects, so a page navigation does not flap the status.
	OfflineGrace time.Duration
}

func (c *PresenceConfig) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.OnlineThreshold <= 0 {
		c.OnlineThreshold = domain.DefaultOnlineThreshold
	}
	if c.OfflineGrace <= 0 {
		c.OfflineGrace = 5 * time.Second
	}
}

// Presence is the presence writer: it owns the local users' liveness
// records. Sessions are refcounted per user; the record flips offline only
// after the last session disconnects and the grace period elapses. Every
// transition is published on the user's presence channel.
type Presence struct {
	store store.PresenceStore
	bus   bus.Bus
	cfg   PresenceConfig

	mu            sync.Mutex
	sessions      map[string]int
	heartbeats    map[string]context.CancelFunc
	offlineTimers map[string]*time.Timer
}

// NewPresence creates the presence writer.
func NewPresence(s store.PresenceStore, b bus.Bus, cfg PresenceConfig) *Presence {
	cfg.applyDefaults()
	return &Presence{
		store:         s,
		bus:           b,
		cfg:           cfg,
		sessions:      make(map[string]int),
		heartbeats:    make(map[string]context.CancelFunc),
		offlineTimers: make(map[string]*time.Timer),
	}
}

// GoOnline registers one session for the user and marks the record online.
// Idempotent per session: repeat calls just re-assert liveness. A pending
// debounced offline transition is cancelled, so a reconnect within the
// grace window never flickers.
func (p *Presence) GoOnline(ctx context.Context, userID string) error {
	p.mu.Lock()
	if timer, ok := p.offlineTimers[userID]; ok {
		timer.Stop()
		delete(p.offlineTimers, userID)
	}
	p.sessions[userID]++
	if _, ok := p.heartbeats[userID]; !ok {
		hbCtx, cancel := context.WithCancel(context.Background())
		p.heartbeats[userID] = cancel
		go p.heartbeatLoop(hbCtx, userID)
	}
	p.mu.Unlock()

	record, err := p.store.SetOnline(ctx, userID, p.cfg.OnlineThreshold)
	if err != nil {
		return err
	}
	p.publish(ctx, record)
	return nil
}

// Heartbeat re-asserts liveness for an already-online user, refreshing both
// the last-seen timestamp and the TTL backstop.
func (p *Presence) Heartbeat(ctx context.Context, userID string) error {
	record, err := p.store.SetOnline(ctx, userID, p.cfg.OnlineThreshold)
	if err != nil {
		return err
	}
	p.publish(ctx, record)
	return nil
}

// GoOffline releases one session. When the last session for the user is
// gone, the offline transition is armed after the grace period.
func (p *Presence) GoOffline(ctx context.Context, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessions[userID] == 0 {
		return
	}
	p.sessions[userID]--
	if p.sessions[userID] > 0 {
		return
	}

	delete(p.sessions, userID)
	if cancel, ok := p.heartbeats[userID]; ok {
		cancel()
		delete(p.heartbeats, userID)
	}

	if timer, ok := p.offlineTimers[userID]; ok {
		timer.Stop()
	}
	p.offlineTimers[userID] = time.AfterFunc(p.cfg.OfflineGrace, func() {
		p.setOffline(userID)
	})
}

// Shutdown flips every locally online user offline immediately and stops
// all timers and heartbeat loops.
func (p *Presence) Shutdown() {
	p.mu.Lock()
	users := make([]string, 0, len(p.sessions))
	for userID := range p.sessions {
		users = append(users, userID)
	}
	p.sessions = make(map[string]int)
	for userID, cancel := range p.heartbeats {
		cancel()
		delete(p.heartbeats, userID)
	}
	for userID, timer := range p.offlineTimers {
		timer.Stop()
		delete(p.offlineTimers, userID)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, userID := range users {
		if record, err := p.store.SetOffline(ctx, userID); err == nil {
			p.publish(ctx, record)
		}
	}
}

func (p *Presence) heartbeatLoop(ctx context.Context, userID string) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			record, err := p.store.SetOnline(hbCtx, userID, p.cfg.OnlineThreshold)
			if err != nil {
				// Best effort; the next heartbeat self-heals.
				pkglog.L().Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("presence heartbeat failed")
			} else {
				p.publish(hbCtx, record)
			}
			cancel()
		}
	}
}

func (p *Presence) setOffline(userID string) {
	p.mu.Lock()
	delete(p.offlineTimers, userID)
	if p.sessions[userID] > 0 {
		// Reconnected while the timer was firing.
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := p.store.SetOffline(ctx, userID)
	if err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldUserID, userID).Msg("failed to mark user offline")
		return
	}
	p.publish(ctx, record)
}

func (p *Presence) publish(ctx context.Context, record domain.PresenceRecord) {
	event, err := bus.NewPresenceEvent(record)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, bus.PresenceChannel(record.UserID), event); err != nil {
		pkglog.L().Warn().Err(err).Str(pkglog.FieldUserID, record.UserID).Msg("failed to publish presence event")
	}
}
