package conversation

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrOrderViolation is returned when a message is older than the last one
// already in the buffer.
var ErrOrderViolation = errors.New("message timestamp precedes last buffered message")

// Buffer is the ordered, append-only list of recent messages for a session.
// Messages are kept in ascending timestamp order. Trimming discards the
// oldest messages; Offset counts how many were discarded so that absolute
// message indices stay stable across trims.
//
// Buffer is not safe for concurrent use. Callers serialize access per session.
type Buffer struct {
	messages []Message
	offset   int
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a message at the end of the buffer.
func (b *Buffer) Append(msg Message) error {
	if n := len(b.messages); n > 0 {
		last := b.messages[n-1].Timestamp
		if msg.Timestamp.Before(last) {
			return fmt.Errorf("%w: %s < %s", ErrOrderViolation,
				msg.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
		}
	}
	b.messages = append(b.messages, msg)
	return nil
}

// Seed replaces the buffer contents with msgs. Input is stably sorted by
// timestamp and exact duplicates (same role, timestamp and content) are
// dropped. The offset is reset.
func (b *Buffer) Seed(msgs []Message) {
	sorted := make([]Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	type key struct {
		role    Role
		ts      int64
		content string
	}
	seen := make(map[key]struct{}, len(sorted))
	out := sorted[:0]
	for _, m := range sorted {
		k := key{m.Role, m.Timestamp.UnixNano(), m.Content}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}

	b.messages = out
	b.offset = 0
}

// Window returns a copy of the last min(n, Len()) messages in ascending
// timestamp order.
func (b *Buffer) Window(n int) []Message {
	if n <= 0 {
		return []Message{}
	}
	start := len(b.messages) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(b.messages)-start)
	copy(out, b.messages[start:])
	return out
}

// TrimTo keeps only the last n messages.
func (b *Buffer) TrimTo(n int) {
	if n < 0 {
		n = 0
	}
	drop := len(b.messages) - n
	if drop <= 0 {
		return
	}
	kept := make([]Message, n)
	copy(kept, b.messages[drop:])
	b.messages = kept
	b.offset += drop
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	return len(b.messages)
}

// Messages returns a copy of every buffered message.
func (b *Buffer) Messages() []Message {
	return b.Window(len(b.messages))
}

// Offset returns the number of messages discarded by trims since the
// buffer was created or last seeded. The absolute index of Messages()[i]
// is Offset()+i.
func (b *Buffer) Offset() int {
	return b.offset
}

// Last returns the most recent message.
func (b *Buffer) Last() (Message, bool) {
	if len(b.messages) == 0 {
		return Message{}, false
	}
	return b.messages[len(b.messages)-1], true
}

// Snapshot captures the buffer state so it can be restored later.
type Snapshot struct {
	messages []Message
	offset   int
}

// Snapshot returns a copy of the current state.
func (b *Buffer) Snapshot() Snapshot {
	msgs := make([]Message, len(b.messages))
	copy(msgs, b.messages)
	return Snapshot{messages: msgs, offset: b.offset}
}

// Restore replaces the buffer state with a previously taken snapshot.
func (b *Buffer) Restore(s Snapshot) {
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	b.messages = msgs
	b.offset = s.offset
}
