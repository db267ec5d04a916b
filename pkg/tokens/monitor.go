package tokens

import (
	"context"

	"github.com/aixgo-dev/recall/pkg/conversation"
	"go.uber.org/zap"
)

// Monitor measures the recent window. It keeps no state between turns.
type Monitor struct {
	counter Counter
	logger  *zap.Logger
}

// NewMonitor creates a monitor. A nil counter selects CharCounter.
func NewMonitor(counter Counter, logger *zap.Logger) *Monitor {
	if counter == nil {
		counter = CharCounter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{counter: counter, logger: logger}
}

// Measure returns the token count of window rendered as "role: content"
// lines. Counter failures fall back to the character estimate.
func (m *Monitor) Measure(ctx context.Context, window []conversation.Message) int {
	text := conversation.Transcript(window)
	n, err := m.counter.CountTokens(ctx, text)
	if err != nil {
		est := Estimate(text)
		m.logger.Warn("token count failed, using estimate", zap.Error(err), zap.Int("estimate", est))
		return est
	}
	return n
}

// ShouldSummarize reports whether count is strictly above threshold.
func ShouldSummarize(count, threshold int) bool {
	return count > threshold
}
