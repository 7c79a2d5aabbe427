package domain

// WebSocket message types from client.
const (
	MsgTypeAuth        = "auth"
	MsgTypeOpenThread  = "open_thread"
	MsgTypeCloseThread = "close_thread"
	MsgTypeSendMessage = "send_message"
	MsgTypeMarkRead    = "mark_read"
	MsgTypePing        = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeAuthResult = "auth_result"
	MsgTypeRoster     = "roster"
	MsgTypeContact    = "contact"
	MsgTypeThread     = "thread"
	MsgTypeMessage    = "message"
	MsgTypeSent       = "sent"
	MsgTypeError      = "error"
	MsgTypePong       = "pong"
)

// Error codes carried by ErrorMessage.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeEmptyMessage  = "EMPTY_MESSAGE"
	ErrCodeSendFailed    = "SEND_FAILED"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// BaseMessage is the envelope used to sniff the type of an inbound frame.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

// AuthMessage binds the connection to a user.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// OpenThreadMessage selects a conversation: the client receives the message
// history and its unread counter is reset.
type OpenThreadMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
}

// CloseThreadMessage deselects the current conversation.
type CloseThreadMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// SendMessageMessage appends a message to a conversation. Ref is an opaque
// client token echoed back in the SentMessage or ErrorMessage so the UI can
// match the outcome to its pending bubble.
type SendMessageMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Ref            string `json:"ref,omitempty"`
}

// MarkReadMessage zeroes the caller's unread counter for a conversation.
type MarkReadMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// Server -> Client messages

// AuthResultMessage reports the outcome of an auth frame.
type AuthResultMessage struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// RosterMessage is the full conversation-list snapshot. It is sent once the
// list synchronizer reaches its ready state, even when empty.
type RosterMessage struct {
	Type     string    `json:"type"`
	Contacts []Contact `json:"contacts"`
}

// ContactMessage is an incremental update to one roster entry (new last
// message, unread change, presence flip).
type ContactMessage struct {
	Type    string  `json:"type"`
	Contact Contact `json:"contact"`
}

// ThreadMessage is the message history snapshot sent on open_thread,
// ascending creation order.
type ThreadMessage struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// MessageMessage pushes one newly created message to a participant.
type MessageMessage struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// SentMessage confirms a send_message frame back to its sender.
type SentMessage struct {
	Type    string  `json:"type"`
	Ref     string  `json:"ref,omitempty"`
	Message Message `json:"message"`
}

// ErrorMessage is sent when a frame cannot be handled.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// NewErrorMessage creates a new error message.
func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Code: code, Message: message}
}
