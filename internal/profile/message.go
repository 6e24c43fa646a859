package profile

import "time"

// Role identifies the sender of a conversation message.
type Role string

// Role constants for conversation messages.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Display markers appended to a user message when an image is attached.
const (
	TongueMarker = "[舌像]"
	FaceMarker   = "[面像]"
)

// loadingText is the provisional assistant placeholder shown while a
// consultation request is in flight.
const loadingText = "正在分析，请稍候…"

// Message is a single conversation entry. Only Role and Content travel
// to the wire and to durable storage; Timestamp and Loading are local
// presentation state.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	Timestamp int64 `json:"-"`
	Loading   bool  `json:"-"`
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: nowMillis()}
}

// NewAssistantMessage creates an assistant message stamped with the
// current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: nowMillis()}
}

// NewLoadingMessage creates the provisional assistant placeholder. It is
// display-only and must never be appended to a Record's history.
func NewLoadingMessage() Message {
	return Message{Role: RoleAssistant, Content: loadingText, Timestamp: nowMillis(), Loading: true}
}

// IsUser reports whether the message was sent by the user.
func (m Message) IsUser() bool { return m.Role == RoleUser }

// IsAssistant reports whether the message was sent by the assistant.
func (m Message) IsAssistant() bool { return m.Role == RoleAssistant }

// nowMillis returns the current time in epoch milliseconds.
// Swappable in tests for deterministic timestamps.
var nowMillis = func() int64 { return time.Now().UnixMilli() }
