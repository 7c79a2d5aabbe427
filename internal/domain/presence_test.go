package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPresenceRecordIsOnline(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	threshold := 180 * time.Second

	tests := []struct {
		name   string
		record PresenceRecord
		want   bool
	}{
		{
			name:   "online with fresh heartbeat",
			record: PresenceRecord{UserID: "u1", Online: true, LastSeen: now.Add(-30 * time.Second).UnixMilli()},
			want:   true,
		},
		{
			name:   "online flag but stale record",
			record: PresenceRecord{UserID: "u1", Online: true, LastSeen: now.Add(-200 * time.Second).UnixMilli()},
			want:   false,
		},
		{
			name:   "exactly at threshold counts as offline",
			record: PresenceRecord{UserID: "u1", Online: true, LastSeen: now.Add(-180 * time.Second).UnixMilli()},
			want:   false,
		},
		{
			name:   "offline flag overrides recency",
			record: PresenceRecord{UserID: "u1", Online: false, LastSeen: now.Add(-1 * time.Second).UnixMilli()},
			want:   false,
		},
		{
			name:   "unresolved last seen treated as now",
			record: PresenceRecord{UserID: "u1", Online: true, LastSeen: 0},
			want:   true,
		},
		{
			name:   "zero record",
			record: PresenceRecord{UserID: "u1"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.IsOnline(now, threshold))
		})
	}
}

func TestPresenceRecordLastSeenTime(t *testing.T) {
	assert.True(t, PresenceRecord{}.LastSeenTime().IsZero())

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	record := PresenceRecord{LastSeen: ts.UnixMilli()}
	assert.Equal(t, ts.UnixMilli(), record.LastSeenTime().UnixMilli())
}
