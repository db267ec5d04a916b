package conversation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func at(i int) time.Time {
	return base.Add(time.Duration(i) * time.Second)
}

func fill(t *testing.T, b *Buffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, b.Append(NewMessage(role, fmt.Sprintf("m%d", i), at(i))))
	}
}

func TestBuffer_AppendOrdering(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Append(NewMessage(RoleUser, "a", at(1))))
	require.NoError(t, b.Append(NewMessage(RoleAssistant, "b", at(1))), "equal timestamps are allowed")

	err := b.Append(NewMessage(RoleUser, "c", at(0)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderViolation))
	assert.Equal(t, 2, b.Len(), "rejected message must not be stored")
}

func TestBuffer_Window(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		n       int
		wantLen int
	}{
		{"empty", 0, 20, 0},
		{"fewer than window", 3, 20, 3},
		{"exactly window", 20, 20, 20},
		{"more than window", 25, 20, 20},
		{"zero window", 5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer()
			fill(t, b, tt.count)
			w := b.Window(tt.n)
			assert.Len(t, w, tt.wantLen)
			for i := 1; i < len(w); i++ {
				assert.False(t, w[i].Timestamp.Before(w[i-1].Timestamp))
			}
			if tt.wantLen > 0 {
				assert.Equal(t, fmt.Sprintf("m%d", tt.count-1), w[len(w)-1].Content)
			}
		})
	}
}

func TestBuffer_WindowIsCopy(t *testing.T) {
	b := NewBuffer()
	fill(t, b, 3)
	w := b.Window(3)
	w[0].Content = "changed"
	assert.Equal(t, "m0", b.Messages()[0].Content)
}

func TestBuffer_TrimToTracksOffset(t *testing.T) {
	b := NewBuffer()
	fill(t, b, 12)

	b.TrimTo(5)
	assert.Equal(t, 5, b.Len())
	assert.Equal(t, 7, b.Offset())
	assert.Equal(t, "m7", b.Messages()[0].Content)

	b.TrimTo(10)
	assert.Equal(t, 5, b.Len(), "trimming above length is a no-op")
	assert.Equal(t, 7, b.Offset())
}

func TestBuffer_Seed(t *testing.T) {
	b := NewBuffer()
	fill(t, b, 4)
	b.TrimTo(2)

	msgs := []Message{
		NewMessage(RoleAssistant, "second", at(2)),
		NewMessage(RoleUser, "first", at(1)),
		NewMessage(RoleUser, "first", at(1)),
		NewMessage(RoleUser, "tie-a", at(3)),
		NewMessage(RoleAssistant, "tie-b", at(3)),
	}
	b.Seed(msgs)

	got := b.Messages()
	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, "second", got[1].Content)
	assert.Equal(t, "tie-a", got[2].Content, "stable sort keeps input order on ties")
	assert.Equal(t, "tie-b", got[3].Content)
	assert.Equal(t, 0, b.Offset())
}

func TestBuffer_SnapshotRestore(t *testing.T) {
	b := NewBuffer()
	fill(t, b, 8)
	snap := b.Snapshot()

	b.TrimTo(2)
	require.NoError(t, b.Append(NewMessage(RoleUser, "later", at(100))))

	b.Restore(snap)
	assert.Equal(t, 8, b.Len())
	assert.Equal(t, 0, b.Offset())
	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, "m7", last.Content)
}

func TestTranscript(t *testing.T) {
	msgs := []Message{
		NewMessage(RoleUser, "hi", at(0)),
		NewMessage(RoleAssistant, "hello", at(1)),
	}
	assert.Equal(t, "user: hi\nassistant: hello", Transcript(msgs))
	assert.Equal(t, "", Transcript(nil))
}
