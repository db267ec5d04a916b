// Package convlog writes and reads conversation logs: one JSON record per
// message with role, content, timestamp and, on assistant records, the
// turn metadata.
package convlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aixgo-dev/recall/internal/logging"
	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/understanding"
)

// TurnMetadata is attached to assistant records.
type TurnMetadata struct {
	QueryUnderstanding *understanding.QueryAnalysis `json:"query_understanding,omitempty"`
	SummaryTriggered   bool                         `json:"summary_triggered"`
	ContextSize        int                          `json:"context_size"`
	SummaryID          string                       `json:"summary_id,omitempty"`
}

// Record is one logged message.
type Record struct {
	Role      conversation.Role `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  *TurnMetadata     `json:"metadata,omitempty"`
}

// NewRecord builds a record for msg.
func NewRecord(msg conversation.Message, meta *TurnMetadata) Record {
	return Record{Role: msg.Role, Content: msg.Content, Timestamp: msg.Timestamp, Metadata: meta}
}

// Writer appends records as JSON lines. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
	c   io.Closer
}

// Open returns a writer appending to a size-rotated file at path.
func Open(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	rotator := logging.NewRotator(path, 50, 10, 0)
	return &Writer{out: rotator, c: rotator}, nil
}

// NewWriter returns a writer appending to w.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{out: w}
	if c, ok := w.(io.Closer); ok {
		wr.c = c
	}
	return wr
}

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// WriteTurn appends the user record and then the assistant record with meta.
func (w *Writer) WriteTurn(user, assistant conversation.Message, meta *TurnMetadata) error {
	if err := w.Write(NewRecord(user, nil)); err != nil {
		return err
	}
	return w.Write(NewRecord(assistant, meta))
}

// Close closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.c == nil {
		return nil
	}
	return w.c.Close()
}
