package store

import (
	"context"
	"time"

	"github.com/codewitgabi/skill-barter-sync/internal/domain"
)

// PresenceStore persists per-user liveness records. Each record has exactly
// one writer (the user's own sessions); readers get eventually consistent
// snapshots. The TTL passed to SetOnline is the disconnect backstop: if the
// writer dies without signing off, the record expires server-side and
// readers observe the user offline without any client code running.
type PresenceStore interface {
	// SetOnline marks the user online with last-seen now. Idempotent; also
	// serves as the heartbeat re-assertion.
	SetOnline(ctx context.Context, userID string, ttl time.Duration) (domain.PresenceRecord, error)

	// SetOffline marks the user offline with last-seen now. The record is
	// kept (no TTL) so readers can render "last seen" labels.
	SetOffline(ctx context.Context, userID string) (domain.PresenceRecord, error)

	// Get returns the presence record for a user. A missing record is
	// returned as offline with zero last-seen.
	Get(ctx context.Context, userID string) (domain.PresenceRecord, error)

	// GetMany returns presence records for a set of users.
	GetMany(ctx context.Context, userIDs []string) (map[string]domain.PresenceRecord, error)

	// Close closes the store connection.
	Close() error
}
