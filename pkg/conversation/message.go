// Package conversation holds the ordered message history of a single session.
package conversation

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single conversational turn. Messages are values and are
// never modified after they are appended to a Buffer.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with the given time.
func NewMessage(role Role, content string, ts time.Time) Message {
	return Message{Role: role, Content: content, Timestamp: ts}
}

// String renders the message as "role: content".
func (m Message) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}

// Transcript renders messages one per line as "role: content".
func Transcript(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.String())
	}
	return sb.String()
}
