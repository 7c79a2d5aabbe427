package bus

import "fmt"

// Channel naming:
// chat:user:{user_id}      conversation + message events for one participant
// presence:user:{user_id}  presence transitions of one user

// ChatUserChannel returns the channel carrying chat events for a user.
func ChatUserChannel(userID string) string {
	return fmt.Sprintf("chat:user:%s", userID)
}

// PresenceChannel returns the channel carrying one user's presence events.
func PresenceChannel(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}
