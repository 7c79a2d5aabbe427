// Package timefmt renders timestamps the way the chat UI shows them:
// short relative labels for recent activity, calendar dates beyond a week.
package timefmt

import (
	"fmt"
	"time"
)

// Relative returns a human label for how long ago t was, relative to now.
// A zero t yields an empty label.
func Relative(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}

// LastSeen returns a presence-style label: "online" when online is true,
// otherwise a relative last-seen label.
func LastSeen(online bool, lastSeen, now time.Time) string {
	if online {
		return "online"
	}
	if lastSeen.IsZero() {
		return "offline"
	}
	return "last seen " + Relative(lastSeen, now)
}
