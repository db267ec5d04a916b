// Package assembler builds the final context handed to the answer step. It
// is a pure function of its inputs: no clocks, no randomness, no I/O.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/memory"
	"github.com/aixgo-dev/recall/pkg/understanding"
)

const (
	// RecentWithMemory is the default number of recent messages kept when a
	// session memory carries the older history.
	RecentWithMemory = 5
	// RecentWithoutMemory is the default number of recent messages used otherwise.
	RecentWithoutMemory = 20
)

// Config sizes the recent_messages section. It must agree with the memory
// manager's KeepRecent and WindowSize so no message falls between the
// summary and the recent window. Zero fields take the defaults.
type Config struct {
	KeepRecent int
	WindowSize int
}

func (c Config) withDefaults() Config {
	if c.KeepRecent <= 0 {
		c.KeepRecent = RecentWithMemory
	}
	if c.WindowSize <= 0 {
		c.WindowSize = RecentWithoutMemory
	}
	return c
}

// FinalContext is the complete input to response generation.
type FinalContext struct {
	Query             string                 `json:"query"`
	ConversationState string                 `json:"conversation_state"`
	SelectedMemory    []string               `json:"selected_memory"`
	RecentMessages    []conversation.Message `json:"recent_messages"`
}

// Assemble combines an analysis, the session memory (nil when none) and the
// buffer into a FinalContext. Identical inputs yield identical output.
func Assemble(analysis *understanding.QueryAnalysis, mem *memory.SessionMemory, buf *conversation.Buffer, cfg Config) FinalContext {
	cfg = cfg.withDefaults()
	fc := FinalContext{
		Query:          analysis.ClarifiedQuery,
		SelectedMemory: []string{},
	}

	n := cfg.WindowSize
	if mem != nil {
		n = cfg.KeepRecent
		fc.ConversationState = mem.ConversationState
		fc.SelectedMemory = append(fc.SelectedMemory, analysis.SelectedMemory...)
	}

	recent := buf.Window(n)
	// Seeded history may not have been inserted in timestamp order.
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.Before(recent[j].Timestamp)
	})
	fc.RecentMessages = recent

	return fc
}

// Render formats fc as the prompt block for the answer step.
func Render(fc FinalContext, originalQuery string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ORIGINAL QUERY:\n%s\n\n", originalQuery)
	fmt.Fprintf(&sb, "CLARIFIED QUERY:\n%s\n\n", fc.Query)

	if fc.ConversationState != "" {
		fmt.Fprintf(&sb, "CONVERSATION STATE:\n%s\n\n", fc.ConversationState)
	}

	if len(fc.SelectedMemory) > 0 {
		sb.WriteString("SELECTED MEMORY:\n")
		for _, item := range fc.SelectedMemory {
			fmt.Fprintf(&sb, "- %s\n", item)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("RECENT MESSAGES:\n")
	if len(fc.RecentMessages) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, msg := range fc.RecentMessages {
		sb.WriteString(msg.String())
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}
