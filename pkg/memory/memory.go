// Package memory owns the session memory record: a structured summary of
// conversation history that replaces older messages once the recent window
// grows past its token budget.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// UserContext holds what has been learned about the user.
type UserContext struct {
	Preferences []string `json:"preferences"`
	Constraints []string `json:"constraints"`
	Goals       []string `json:"goals"`
}

// Scope is the range of absolute message indices a record represents.
// To < From means the record covers no messages.
type Scope struct {
	From    int       `json:"from"`
	To      int       `json:"to"`
	Through time.Time `json:"through,omitempty"`
}

// Empty reports whether the scope covers no messages.
func (s Scope) Empty() bool {
	return s.To < s.From
}

// Len returns the number of messages covered.
func (s Scope) Len() int {
	if s.Empty() {
		return 0
	}
	return s.To - s.From + 1
}

// EmptyScope covers nothing.
var EmptyScope = Scope{From: 0, To: -1}

// SessionMemory is the durable summary of a session. A record is never
// modified once installed; summarization replaces it wholesale.
type SessionMemory struct {
	ID                string      `json:"memory_id"`
	CreatedAt         time.Time   `json:"created_at"`
	ConversationState string      `json:"conversation_state"`
	UserContext       UserContext `json:"user_context"`
	SharedContext     []string    `json:"shared_context"`
	OpenThreads       []string    `json:"open_threads"`
	Scope             Scope       `json:"scope"`
	Degraded          bool        `json:"degraded,omitempty"`
}

// NewID returns a fresh memory identifier.
func NewID() string {
	return "mem_" + uuid.NewString()
}

// Clone returns a deep copy of m. Clone of nil is nil.
func (m *SessionMemory) Clone() *SessionMemory {
	if m == nil {
		return nil
	}
	c := *m
	c.UserContext = UserContext{
		Preferences: cloneStrings(m.UserContext.Preferences),
		Constraints: cloneStrings(m.UserContext.Constraints),
		Goals:       cloneStrings(m.UserContext.Goals),
	}
	c.SharedContext = cloneStrings(m.SharedContext)
	c.OpenThreads = cloneStrings(m.OpenThreads)
	return &c
}

// View is the subset of a record shown to the model as context.
type View struct {
	ConversationState string      `json:"conversation_state"`
	UserContext       UserContext `json:"user_context"`
	SharedContext     []string    `json:"shared_context"`
	OpenThreads       []string    `json:"open_threads"`
}

// View returns the prompt-facing fields of m.
func (m *SessionMemory) View() View {
	c := m.Clone()
	return View{
		ConversationState: c.ConversationState,
		UserContext:       c.UserContext,
		SharedContext:     nonNil(c.SharedContext),
		OpenThreads:       nonNil(c.OpenThreads),
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
