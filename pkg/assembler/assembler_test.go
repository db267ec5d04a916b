package assembler

import (
	"fmt"
	"testing"
	"time"

	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/memory"
	"github.com/aixgo-dev/recall/pkg/understanding"
	"github.com/aixgo-dev/recall/pkg/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func buffer(t *testing.T, n int) *conversation.Buffer {
	t.Helper()
	b := conversation.NewBuffer()
	for i := 0; i < n; i++ {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		require.NoError(t, b.Append(conversation.NewMessage(role, fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Minute))))
	}
	return b
}

func analysis() *understanding.QueryAnalysis {
	return &understanding.QueryAnalysis{
		QueryID:             "query_1",
		OriginalQuery:       "which one?",
		ClarifiedQuery:      "Which database should I use?",
		ClarifyingQuestions: []string{},
		SelectedMemory:      []string{"User compares PostgreSQL and MongoDB"},
		Source:              understanding.SourceValidated,
	}
}

func TestAssemble_NoMemoryUsesTwenty(t *testing.T) {
	buf := buffer(t, 25)
	window := buf.Window(20)
	require.False(t, tokens.ShouldSummarize(tokens.Estimate(conversation.Transcript(window)), 1000))

	fc := Assemble(analysis(), nil, buf, Config{})

	assert.Equal(t, "Which database should I use?", fc.Query)
	assert.Empty(t, fc.ConversationState)
	assert.Equal(t, []string{}, fc.SelectedMemory, "nothing to select from without memory")
	require.Len(t, fc.RecentMessages, 20)
	assert.Equal(t, "m5", fc.RecentMessages[0].Content)
	assert.Equal(t, "m24", fc.RecentMessages[19].Content)
	for i := 1; i < len(fc.RecentMessages); i++ {
		assert.True(t, fc.RecentMessages[i-1].Timestamp.Before(fc.RecentMessages[i].Timestamp))
	}
}

func TestAssemble_WithMemoryUsesFive(t *testing.T) {
	buf := buffer(t, 9)
	mem := &memory.SessionMemory{ID: "mem_1", ConversationState: "Choosing a database.", Scope: memory.EmptyScope}

	fc := Assemble(analysis(), mem, buf, Config{})

	assert.Equal(t, "Choosing a database.", fc.ConversationState)
	assert.Equal(t, []string{"User compares PostgreSQL and MongoDB"}, fc.SelectedMemory)
	require.Len(t, fc.RecentMessages, 5)
	assert.Equal(t, "m4", fc.RecentMessages[0].Content)
	assert.Equal(t, "m8", fc.RecentMessages[4].Content)
}

func TestAssemble_RecentLength(t *testing.T) {
	mem := &memory.SessionMemory{ID: "mem_1", Scope: memory.EmptyScope}
	for _, n := range []int{0, 1, 4, 5, 6, 19, 20, 21, 40} {
		buf := buffer(t, n)
		assert.Len(t, Assemble(analysis(), nil, buf, Config{}).RecentMessages, min(20, n), "no memory, n=%d", n)
		assert.Len(t, Assemble(analysis(), mem, buf, Config{}).RecentMessages, min(5, n), "memory, n=%d", n)
	}
}

func TestAssemble_ConfiguredSizes(t *testing.T) {
	buf := buffer(t, 30)
	mem := &memory.SessionMemory{ID: "mem_1", Scope: memory.EmptyScope}
	cfg := Config{KeepRecent: 8, WindowSize: 12}

	with := Assemble(analysis(), mem, buf, cfg)
	require.Len(t, with.RecentMessages, 8)
	assert.Equal(t, "m22", with.RecentMessages[0].Content)

	without := Assemble(analysis(), nil, buf, cfg)
	require.Len(t, without.RecentMessages, 12)
	assert.Equal(t, "m18", without.RecentMessages[0].Content)
}

func TestAssemble_SeededHistoryIsOrdered(t *testing.T) {
	buf := conversation.NewBuffer()
	buf.Seed([]conversation.Message{
		conversation.NewMessage(conversation.RoleAssistant, "later", t0.Add(time.Hour)),
		conversation.NewMessage(conversation.RoleUser, "earlier", t0),
	})

	fc := Assemble(analysis(), nil, buf, Config{})
	require.Len(t, fc.RecentMessages, 2)
	assert.Equal(t, "earlier", fc.RecentMessages[0].Content)
}

func TestAssemble_Idempotent(t *testing.T) {
	buf := buffer(t, 12)
	mem := &memory.SessionMemory{ID: "mem_1", ConversationState: "state", Scope: memory.EmptyScope}
	a := analysis()

	first := Assemble(a, mem, buf, Config{})
	second := Assemble(a, mem, buf, Config{})
	assert.Equal(t, first, second)
	assert.Equal(t, Render(first, a.OriginalQuery), Render(second, a.OriginalQuery))

	first.SelectedMemory[0] = "mutated"
	first.RecentMessages[0].Content = "mutated"
	assert.Equal(t, "User compares PostgreSQL and MongoDB", a.SelectedMemory[0])
	assert.Equal(t, "m7", buf.Window(5)[0].Content)
}

func TestRender(t *testing.T) {
	fc := FinalContext{
		Query:             "Which database should I use?",
		ConversationState: "Choosing a database.",
		SelectedMemory:    []string{"small team"},
		RecentMessages: []conversation.Message{
			conversation.NewMessage(conversation.RoleUser, "which one?", t0),
		},
	}

	want := "ORIGINAL QUERY:\nwhich one?\n\n" +
		"CLARIFIED QUERY:\nWhich database should I use?\n\n" +
		"CONVERSATION STATE:\nChoosing a database.\n\n" +
		"SELECTED MEMORY:\n- small team\n\n" +
		"RECENT MESSAGES:\nuser: which one?"
	assert.Equal(t, want, Render(fc, "which one?"))

	bare := Render(FinalContext{Query: "q"}, "q")
	assert.NotContains(t, bare, "CONVERSATION STATE")
	assert.NotContains(t, bare, "SELECTED MEMORY")
	assert.Contains(t, bare, "RECENT MESSAGES:\n(none)")
}
