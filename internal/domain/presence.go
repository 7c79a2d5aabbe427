package domain

import "time"

// DefaultOnlineThreshold is the recency window for considering a presence
// record online. Heartbeats arrive every minute, so two missed heartbeats
// flip a user offline.
const DefaultOnlineThreshold = 180 * time.Second

// PresenceRecord is a user's liveness record. It has exactly one writer
// (the user's own sessions) and any number of readers.
type PresenceRecord struct {
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen"` // unix millis; 0 while a write is still unacknowledged
}

// IsOnline reports whether the record counts as online at the given instant.
// The flag alone is not enough: the last-seen timestamp must also fall
// within the threshold, so a record left behind by a dead session flips
// offline without any new write.
//
// A zero LastSeen means the server timestamp has not resolved yet. It is
// treated as "now": a user whose first presence write is still in flight
// must not blip offline.
func (r PresenceRecord) IsOnline(now time.Time, threshold time.Duration) bool {
	if !r.Online {
		return false
	}
	if r.LastSeen == 0 {
		return true
	}
	age := now.Sub(time.UnixMilli(r.LastSeen))
	return age < threshold
}

// LastSeenTime converts the unix-milli timestamp, zero time when unset.
func (r PresenceRecord) LastSeenTime() time.Time {
	if r.LastSeen == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.LastSeen)
}
