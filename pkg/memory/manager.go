package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/llm"
	"go.uber.org/zap"
)

// State is the manager's lifecycle state.
type State int

const (
	NoMemory State = iota
	HasMemory
)

func (s State) String() string {
	if s == HasMemory {
		return "HAS_MEMORY"
	}
	return "NO_MEMORY"
}

// Trigger records why a summarization ran.
type Trigger string

const (
	TriggerThreshold Trigger = "threshold"
	TriggerManual    Trigger = "manual"
)

// ErrNothingToSummarize is returned when the buffer is empty.
var ErrNothingToSummarize = errors.New("no messages to summarize")

const (
	DefaultWindowSize         = 20
	DefaultKeepRecent         = 5
	DefaultDegradedStateLimit = 1000
)

// Config tunes the manager.
type Config struct {
	// WindowSize is the number of recent messages sent for summarization.
	WindowSize int
	// KeepRecent is the number of messages left in the buffer afterwards.
	KeepRecent int
	// DegradedStateLimit caps conversation_state of a degraded record, in runes.
	DegradedStateLimit int
	// Fold presents the prior record to the model.
	Fold FoldPolicy
	// Now returns the current time.
	Now    func() time.Time
	Logger *zap.Logger
}

func (c *Config) setDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = DefaultKeepRecent
	}
	if c.DegradedStateLimit <= 0 {
		c.DegradedStateLimit = DefaultDegradedStateLimit
	}
	if c.Fold == nil {
		c.Fold = CarryForward{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Outcome describes a finished summarization.
type Outcome struct {
	Memory   *SessionMemory
	Degraded bool
	Trigger  Trigger
	// Summarized is the number of messages sent to the model.
	Summarized int
	// Trimmed is the number of messages dropped from the buffer.
	Trimmed int
}

// Manager runs the NO_MEMORY / HAS_MEMORY state machine for one session.
// Summarize must be serialized by the caller together with buffer access.
type Manager struct {
	cfg     Config
	svc     llm.Service
	mu      sync.RWMutex
	current *SessionMemory
}

// NewManager creates a manager in the NoMemory state.
func NewManager(svc llm.Service, cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{cfg: cfg, svc: svc}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return NoMemory
	}
	return HasMemory
}

// Current returns a copy of the live record, or nil.
func (m *Manager) Current() *SessionMemory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Install replaces the live record, e.g. with one restored from storage.
// A nil record resets to NoMemory.
func (m *Manager) Install(mem *SessionMemory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = mem.Clone()
}

// Reset returns to NoMemory.
func (m *Manager) Reset() {
	m.Install(nil)
}

// Summarize folds the buffer window (and the prior record, if any) into a
// new record and trims the buffer to KeepRecent messages.
//
// Structural validation failures and timeouts install a degraded record and
// still trim. Provider errors and caller cancellation return the error and
// leave both the record and the buffer untouched.
func (m *Manager) Summarize(ctx context.Context, buf *conversation.Buffer, trigger Trigger) (*Outcome, error) {
	if buf.Len() == 0 {
		return nil, ErrNothingToSummarize
	}

	prior := m.Current()
	window := buf.Window(m.cfg.WindowSize)
	scope := m.nextScope(prior, buf)

	var out summaryOutput
	err := m.svc.GenerateStructured(ctx, llm.Request{
		Call:   "summarize",
		System: summarySystemPrompt,
		Prompt: m.buildPrompt(prior, window, scope),
	}, &out)

	var next *SessionMemory
	degraded := false
	switch {
	case err == nil:
		next = out.toMemory(m.cfg.Now(), scope)
	case llm.IsRecoverable(err):
		m.cfg.Logger.Warn("summarization degraded",
			zap.String("trigger", string(trigger)),
			zap.Error(err))
		next = m.degradedRecord(prior, window)
		degraded = true
	default:
		return nil, fmt.Errorf("summarize: %w", err)
	}

	before := buf.Len()
	buf.TrimTo(m.cfg.KeepRecent)
	m.Install(next)

	m.cfg.Logger.Info("session memory installed",
		zap.String("memory_id", next.ID),
		zap.String("trigger", string(trigger)),
		zap.Bool("degraded", degraded),
		zap.Int("scope_from", next.Scope.From),
		zap.Int("scope_to", next.Scope.To),
		zap.Int("buffer_len", buf.Len()))

	return &Outcome{
		Memory:     next.Clone(),
		Degraded:   degraded,
		Trigger:    trigger,
		Summarized: len(window),
		Trimmed:    before - buf.Len(),
	}, nil
}

// nextScope covers every buffered message except the last KeepRecent,
// extending the prior record's range.
func (m *Manager) nextScope(prior *SessionMemory, buf *conversation.Buffer) Scope {
	msgs := buf.Messages()
	lastCovered := len(msgs) - m.cfg.KeepRecent - 1

	scope := Scope{From: buf.Offset(), To: buf.Offset() + lastCovered}
	if lastCovered >= 0 {
		scope.Through = msgs[lastCovered].Timestamp
	}

	if prior != nil && !prior.Scope.Empty() {
		scope.From = prior.Scope.From
		if prior.Scope.To > scope.To {
			scope.To = prior.Scope.To
			scope.Through = prior.Scope.Through
		}
	}
	return scope
}

// degradedRecord keeps the raw window text so nothing is silently lost.
func (m *Manager) degradedRecord(prior *SessionMemory, window []conversation.Message) *SessionMemory {
	scope := EmptyScope
	if prior != nil {
		scope = prior.Scope
	}

	return &SessionMemory{
		ID:                NewID(),
		CreatedAt:         m.cfg.Now(),
		ConversationState: truncateRunes(conversation.Transcript(window), m.cfg.DegradedStateLimit),
		UserContext:       UserContext{Preferences: []string{}, Constraints: []string{}, Goals: []string{}},
		SharedContext:     []string{},
		OpenThreads:       []string{},
		Scope:             scope,
		Degraded:          true,
	}
}

func (m *Manager) buildPrompt(prior *SessionMemory, window []conversation.Message, scope Scope) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the following conversation into a session memory.\n\nMessage range: %d to %d.\n\n", scope.From, scope.To)

	if folded := m.cfg.Fold.Fold(prior); folded != "" {
		sb.WriteString(folded)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Conversation:\n")
	for i, msg := range window {
		fmt.Fprintf(&sb, "Message %d: [%s]\n%s\n\n", i, strings.ToUpper(string(msg.Role)), msg.Content)
	}
	return sb.String()
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	const marker = "..."
	if limit <= len(marker) {
		return string(r[:limit])
	}
	return string(r[:limit-len(marker)]) + marker
}
