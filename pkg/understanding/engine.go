package understanding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/llm"
	"github.com/aixgo-dev/recall/pkg/memory"
	"github.com/aixgo-dev/recall/pkg/observability"
	"go.uber.org/zap"
)

const (
	// DefaultWindowSize is the number of recent messages shown to the model.
	DefaultWindowSize = 20
	// DefaultClipLength caps each message in the prompt, in runes.
	DefaultClipLength = 300

	defaultClarifyingQuestion = "Could you say which one you mean?"
)

// Config tunes the engine.
type Config struct {
	WindowSize int
	ClipLength int
	Now        func() time.Time
	Logger     *zap.Logger
}

// Engine analyzes queries with one structured model call each.
type Engine struct {
	svc llm.Service
	cfg Config
}

// NewEngine creates an engine backed by svc.
func NewEngine(svc llm.Service, cfg Config) *Engine {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.ClipLength <= 0 {
		cfg.ClipLength = DefaultClipLength
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{svc: svc, cfg: cfg}
}

// Analyze classifies query against the session memory (nil when none
// exists) and the recent window.
//
// Unusable model output and timeouts yield Fallback with a nil error. Only
// provider failures and caller cancellation are returned as errors.
func (e *Engine) Analyze(ctx context.Context, query string, mem *memory.SessionMemory, window []conversation.Message) (*QueryAnalysis, error) {
	var out analysisOutput
	err := e.svc.GenerateStructured(ctx, llm.Request{
		Call:   "understand",
		System: systemPrompt,
		Prompt: e.buildPrompt(query, mem, window),
	}, &out)

	switch {
	case err == nil:
	case llm.IsRecoverable(err):
		e.cfg.Logger.Warn("query understanding fell back", zap.Error(err))
		a := Fallback(query, e.cfg.Now())
		observability.RecordUnderstanding(string(a.Source), a.IsAmbiguous)
		return a, nil
	default:
		return nil, fmt.Errorf("understand query: %w", err)
	}

	a := e.validate(query, mem, out)
	observability.RecordUnderstanding(string(a.Source), a.IsAmbiguous)
	e.cfg.Logger.Debug("query analyzed",
		zap.String("query_id", a.QueryID),
		zap.Bool("ambiguous", a.IsAmbiguous),
		zap.Int("selected_memory", len(a.SelectedMemory)))
	return a, nil
}

// validate applies the structural rules to a decoded candidate.
func (e *Engine) validate(query string, mem *memory.SessionMemory, out analysisOutput) *QueryAnalysis {
	a := &QueryAnalysis{
		QueryID:        NewQueryID(),
		OriginalQuery:  query,
		Timestamp:      e.cfg.Now(),
		IsAmbiguous:    *out.IsAmbiguous,
		ClarifiedQuery: strings.TrimSpace(out.ClarifiedQuery),
		Source:         SourceValidated,
	}
	if a.ClarifiedQuery == "" {
		a.ClarifiedQuery = query
	}

	a.ClarifyingQuestions = []string{}
	if a.IsAmbiguous {
		a.ClarifyingQuestions = clean(out.ClarifyingQuestions, 0)
		if len(a.ClarifyingQuestions) == 0 {
			a.ClarifyingQuestions = []string{defaultClarifyingQuestion}
		}
	}

	a.SelectedMemory = []string{}
	if mem != nil {
		a.SelectedMemory = clean(out.SelectedMemory, MaxSelectedMemory)
	}
	return a
}

func (e *Engine) buildPrompt(query string, mem *memory.SessionMemory, window []conversation.Message) string {
	if len(window) > e.cfg.WindowSize {
		window = window[len(window)-e.cfg.WindowSize:]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "USER QUERY:\n\"\"\"%s\"\"\"\n\n", query)

	sb.WriteString("RECENT CONVERSATION (most recent last):\n")
	if len(window) == 0 {
		sb.WriteString("N/A\n")
	}
	for _, msg := range window {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, clip(msg.Content, e.cfg.ClipLength))
	}

	sb.WriteString("\nSESSION MEMORY:\n")
	if mem == nil {
		sb.WriteString("none\n")
	} else if data, err := json.MarshalIndent(mem.View(), "", "  "); err == nil {
		sb.Write(data)
		sb.WriteString("\n")
	} else {
		sb.WriteString(mem.ConversationState + "\n")
	}

	sb.WriteString("\nFill every field of the JSON object.")
	return sb.String()
}

// clean trims items, drops blanks and duplicates and keeps at most limit
// (0 for no limit).
func clean(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
