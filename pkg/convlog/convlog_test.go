package convlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/understanding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func TestWriter_WriteTurn(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	user := conversation.NewMessage(conversation.RoleUser, "Which one?", now)
	assistant := conversation.NewMessage(conversation.RoleAssistant, "Do you mean A or B?", now.Add(time.Second))
	meta := &TurnMetadata{
		QueryUnderstanding: &understanding.QueryAnalysis{QueryID: "query_1", OriginalQuery: "Which one?", IsAmbiguous: true},
		SummaryTriggered:   true,
		ContextSize:        1234,
		SummaryID:          "mem_1",
	}
	require.NoError(t, w.WriteTurn(user, assistant, meta))
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "user", first["role"])
	assert.NotContains(t, first, "metadata")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	md := second["metadata"].(map[string]any)
	assert.Equal(t, true, md["summary_triggered"])
	assert.Equal(t, float64(1234), md["context_size"])
	assert.Equal(t, "mem_1", md["summary_id"])
	assert.Equal(t, true, md["query_understanding"].(map[string]any)["is_ambiguous"])
}

func TestOpen_RoundTripThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "conversation.jsonl")
	w, err := Open(path)
	require.NoError(t, err)

	msgs := []conversation.Message{
		conversation.NewMessage(conversation.RoleUser, "line one\nline two", now),
		conversation.NewMessage(conversation.RoleAssistant, `quote " and brace }`, now.Add(time.Second)),
	}
	require.NoError(t, w.WriteTurn(msgs[0], msgs[1], &TurnMetadata{ContextSize: 10}))
	require.NoError(t, w.Close())

	res, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Messages, 2)
	// control characters are normalized on load
	assert.Equal(t, "line one\nline two", res.Messages[0].Content)
	assert.Equal(t, msgs[1].Content, res.Messages[1].Content)
	assert.True(t, res.Messages[1].Timestamp.Equal(msgs[1].Timestamp))
}

func TestParseJSONL_Tolerant(t *testing.T) {
	input := `{"role": "user", "content": "first", "timestamp": "2026-06-01T08:00:00"}
{"role": "assistant",
 "content": "spans
two lines", "timestamp": "2026-06-01T08:00:01.500000"}
{"role": "user", "content": broken}
{"role": "system", "content": "ignored role"}
{"content": "no role or time"}
`
	res := ParseJSONL([]byte(input), now)

	assert.False(t, res.Unbalanced)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Messages, 3)

	assert.Equal(t, "first", res.Messages[0].Content)
	assert.Equal(t, time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC), res.Messages[0].Timestamp)
	assert.Equal(t, "spans two lines", res.Messages[1].Content)
	assert.Equal(t, conversation.RoleUser, res.Messages[2].Role)
	assert.Equal(t, res.Messages[1].Timestamp.Add(time.Millisecond), res.Messages[2].Timestamp)
}

func TestParseJSONL_Unbalanced(t *testing.T) {
	res := ParseJSONL([]byte(`{"role":"user","content":"ok"} {"role":"user"`), now)
	assert.True(t, res.Unbalanced)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, now, res.Messages[0].Timestamp)
}

func TestParseArray(t *testing.T) {
	input := `[
  {"role": "user", "content": "a", "timestamp": "2026-06-01T09:00:00Z"},
  {"role": "assistant", "content": "b"},
  {"role": "tool", "content": "c"}
]`
	res, err := ParseArray([]byte(input), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, time.Date(2026, 6, 1, 9, 0, 0, 1e6, time.UTC), res.Messages[1].Timestamp)

	_, err = ParseArray([]byte(`{"role":"user"}`), now)
	assert.Error(t, err)
}

func TestLoad_SeedsBufferInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	input := `[
  {"role": "assistant", "content": "second", "timestamp": "2026-06-01T09:00:01Z"},
  {"role": "user", "content": "first", "timestamp": "2026-06-01T09:00:00Z"}
]`
	require.NoError(t, os.WriteFile(path, []byte(input), 0600))

	res, err := Load(path)
	require.NoError(t, err)

	buf := conversation.NewBuffer()
	buf.Seed(res.Messages)
	window := buf.Window(20)
	require.Len(t, window, 2)
	assert.Equal(t, "first", window[0].Content)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.Error(t, err)
}
