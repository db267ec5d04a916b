// Package recall runs conversational turns against bounded context: a
// recent message buffer, a session memory that replaces older history once
// the window grows past its token budget, and a query understanding step
// that resolves what the user is asking about before answering.
package recall

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aixgo-dev/recall/internal/observability"
	"github.com/aixgo-dev/recall/pkg/assembler"
	"github.com/aixgo-dev/recall/pkg/conversation"
	"github.com/aixgo-dev/recall/pkg/convlog"
	"github.com/aixgo-dev/recall/pkg/llm"
	"github.com/aixgo-dev/recall/pkg/memory"
	metrics "github.com/aixgo-dev/recall/pkg/observability"
	"github.com/aixgo-dev/recall/pkg/session"
	"github.com/aixgo-dev/recall/pkg/tokens"
	"github.com/aixgo-dev/recall/pkg/understanding"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultSessionID is used when a caller passes an empty session ID.
const DefaultSessionID = "default"

// DefaultTokenThreshold is the window token count above which a turn
// summarizes before answering.
const DefaultTokenThreshold = 1000

// ErrEmptyInput is returned for a turn with no text.
var ErrEmptyInput = errors.New("empty input")

// Options configures an Assistant.
type Options struct {
	// LLM serves all three model calls of a turn. Required.
	LLM llm.Service
	// Counter measures the window; nil selects the character estimate.
	Counter tokens.Counter
	// Store persists session memory; nil disables persistence.
	Store session.StorageBackend
	// Log receives one record per message; nil disables the log.
	Log *convlog.Writer
	// TokenThreshold triggers summarization when strictly exceeded.
	TokenThreshold int
	// Memory tunes summarization. Its Logger and Now default to the
	// assistant's.
	Memory memory.Config
	// Understanding tunes query analysis.
	Understanding understanding.Config
	// IdleTTL evicts sessions not used for this long; 0 keeps them.
	IdleTTL time.Duration
	Now     func() time.Time
	Logger  *zap.Logger
}

// TurnResult is returned for a committed turn.
type TurnResult struct {
	Response         string
	Analysis         *understanding.QueryAnalysis
	Context          assembler.FinalContext
	SummaryTriggered bool
	// Summary is set when summarization ran during the turn.
	Summary *memory.Outcome
	// ContextSize is the measured token count of the window.
	ContextSize int
	// SummaryID identifies the session memory live after the turn.
	SummaryID string
}

// Assistant runs turns for any number of sessions. Turns on one session
// are serialized; turns on different sessions run independently.
type Assistant struct {
	opts     Options
	monitor  *tokens.Monitor
	engine   *understanding.Engine
	logger   *zap.Logger
	mu       sync.Mutex
	sessions *cache.Cache
}

// sessionState is the per-session state object.
type sessionState struct {
	mu      sync.Mutex
	id      string
	buf     *conversation.Buffer
	mgr     *memory.Manager
	dirty   bool
	lastCtx *assembler.FinalContext
}

// New creates an Assistant.
func New(opts Options) (*Assistant, error) {
	if opts.LLM == nil {
		return nil, errors.New("recall: LLM service is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Store == nil {
		opts.Store = session.NopBackend{}
	}
	if opts.TokenThreshold <= 0 {
		opts.TokenThreshold = DefaultTokenThreshold
	}
	if opts.Memory.WindowSize <= 0 {
		opts.Memory.WindowSize = memory.DefaultWindowSize
	}
	if opts.Memory.KeepRecent <= 0 {
		opts.Memory.KeepRecent = memory.DefaultKeepRecent
	}
	if opts.Memory.Logger == nil {
		opts.Memory.Logger = opts.Logger.Named("memory")
	}
	if opts.Memory.Now == nil {
		opts.Memory.Now = opts.Now
	}
	if opts.Understanding.WindowSize <= 0 {
		opts.Understanding.WindowSize = opts.Memory.WindowSize
	}
	if opts.Understanding.Logger == nil {
		opts.Understanding.Logger = opts.Logger.Named("understanding")
	}
	if opts.Understanding.Now == nil {
		opts.Understanding.Now = opts.Now
	}

	expiry, cleanup := cache.NoExpiration, time.Duration(0)
	if opts.IdleTTL > 0 {
		expiry, cleanup = opts.IdleTTL, opts.IdleTTL/2
	}

	a := &Assistant{
		opts:     opts,
		monitor:  tokens.NewMonitor(opts.Counter, opts.Logger.Named("tokens")),
		engine:   understanding.NewEngine(opts.LLM, opts.Understanding),
		logger:   opts.Logger,
		sessions: cache.New(expiry, cleanup),
	}
	a.sessions.OnEvicted(a.onEvicted)
	return a, nil
}

// Turn processes one user input for sessionID and returns the answer.
//
// Summarization and query understanding degrade on unusable model output
// or timeouts. A provider failure in any call, a failed answer, or caller
// cancellation aborts the turn and restores the buffer and memory to their
// state before it began.
func (a *Assistant) Turn(ctx context.Context, sessionID, input string) (*TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}

	s := a.session(ctx, sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "recall.turn", map[string]any{"session.id": s.id})

	res, err := a.turn(ctx, s, input)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordTurn(status, time.Since(start))
	observability.EndSpan(span, err)
	return res, err
}

func (a *Assistant) turn(ctx context.Context, s *sessionState, input string) (*TurnResult, error) {
	snap := s.buf.Snapshot()
	prior := s.mgr.Current()
	rollback := func() {
		s.buf.Restore(snap)
		s.mgr.Install(prior)
	}

	user := conversation.NewMessage(conversation.RoleUser, input, a.stamp(s.buf))
	if err := s.buf.Append(user); err != nil {
		return nil, err
	}

	count := a.monitor.Measure(ctx, s.buf.Window(a.opts.Memory.WindowSize))
	metrics.ObserveWindowTokens(count)

	res := &TurnResult{ContextSize: count}

	if tokens.ShouldSummarize(count, a.opts.TokenThreshold) {
		a.logger.Info("token threshold exceeded",
			zap.String("session", s.id),
			zap.Int("tokens", count),
			zap.Int("threshold", a.opts.TokenThreshold))

		out, err := s.mgr.Summarize(ctx, s.buf, memory.TriggerThreshold)
		if err != nil {
			metrics.RecordSummarization(string(memory.TriggerThreshold), "error")
			rollback()
			return nil, err
		}
		metrics.RecordSummarization(string(memory.TriggerThreshold), outcomeLabel(out))
		res.SummaryTriggered = true
		res.Summary = out
	}

	mem := s.mgr.Current()
	analysis, err := a.engine.Analyze(ctx, input, mem, s.buf.Window(a.opts.Understanding.WindowSize))
	if err != nil {
		rollback()
		return nil, err
	}

	fc := assembler.Assemble(analysis, mem, s.buf, assembler.Config{
		KeepRecent: a.opts.Memory.KeepRecent,
		WindowSize: a.opts.Memory.WindowSize,
	})
	response, err := a.opts.LLM.GenerateText(ctx, llm.Request{
		Call:   "respond",
		System: responseSystemPrompt,
		Prompt: responsePrompt(fc, analysis),
	})
	if err != nil {
		rollback()
		return nil, fmt.Errorf("generate response: %w", err)
	}

	reply := conversation.NewMessage(conversation.RoleAssistant, response, a.stamp(s.buf))
	if err := s.buf.Append(reply); err != nil {
		rollback()
		return nil, err
	}

	// Committed from here on; failures below are logged only.
	res.Response = response
	res.Analysis = analysis
	res.Context = fc
	if mem != nil {
		res.SummaryID = mem.ID
	}
	s.lastCtx = &fc

	if res.SummaryTriggered {
		s.dirty = true
		a.persist(ctx, s)
	}

	if a.opts.Log != nil {
		meta := &convlog.TurnMetadata{
			QueryUnderstanding: analysis,
			SummaryTriggered:   res.SummaryTriggered,
			ContextSize:        count,
			SummaryID:          res.SummaryID,
		}
		if err := a.opts.Log.WriteTurn(user, reply, meta); err != nil {
			a.logger.Warn("conversation log write failed", zap.String("session", s.id), zap.Error(err))
		}
	}

	a.logger.Debug("turn committed",
		zap.String("session", s.id),
		zap.String("query_id", analysis.QueryID),
		zap.Bool("summarized", res.SummaryTriggered),
		zap.Int("buffer_len", s.buf.Len()))
	return res, nil
}

// Summarize runs a manual summarization for sessionID regardless of the
// threshold.
func (a *Assistant) Summarize(ctx context.Context, sessionID string) (*memory.Outcome, error) {
	s := a.session(ctx, sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "recall.summarize", map[string]any{"session.id": s.id})
	out, err := s.mgr.Summarize(ctx, s.buf, memory.TriggerManual)
	observability.EndSpan(span, err)
	if err != nil {
		if !errors.Is(err, memory.ErrNothingToSummarize) {
			metrics.RecordSummarization(string(memory.TriggerManual), "error")
		}
		return nil, err
	}
	metrics.RecordSummarization(string(memory.TriggerManual), outcomeLabel(out))

	s.dirty = true
	a.persist(ctx, s)
	return out, nil
}

// Seed replaces the session's history with msgs and drops its memory.
func (a *Assistant) Seed(ctx context.Context, sessionID string, msgs []conversation.Message) {
	s := a.session(ctx, sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Seed(msgs)
	s.mgr.Reset()
	s.lastCtx = nil
	s.dirty = false
	if err := a.opts.Store.DeleteMemory(ctx, s.id); err != nil {
		metrics.RecordPersistenceError("delete")
		a.logger.Warn("failed to delete stored memory", zap.String("session", s.id), zap.Error(err))
	}
}

// LoadLog reads a conversation log and seeds the session with it.
func (a *Assistant) LoadLog(ctx context.Context, sessionID, path string) (*convlog.LoadResult, error) {
	res, err := convlog.Load(path)
	if err != nil {
		return nil, err
	}
	a.Seed(ctx, sessionID, res.Messages)

	a.logger.Info("conversation log loaded",
		zap.String("session", normalizeID(sessionID)),
		zap.String("path", path),
		zap.Int("messages", len(res.Messages)),
		zap.Int("skipped", res.Skipped))
	return res, nil
}

// Memory returns a copy of the session's live memory, or nil.
func (a *Assistant) Memory(ctx context.Context, sessionID string) *memory.SessionMemory {
	s := a.session(ctx, sessionID)
	return s.mgr.Current()
}

// State returns the session's memory state.
func (a *Assistant) State(ctx context.Context, sessionID string) memory.State {
	return a.session(ctx, sessionID).mgr.State()
}

// LastContext returns the final context of the session's last committed
// turn, or nil.
func (a *Assistant) LastContext(ctx context.Context, sessionID string) *assembler.FinalContext {
	s := a.session(ctx, sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCtx == nil {
		return nil
	}
	fc := *s.lastCtx
	return &fc
}

// Messages returns a copy of the session's buffered messages.
func (a *Assistant) Messages(ctx context.Context, sessionID string) []conversation.Message {
	s := a.session(ctx, sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Messages()
}

// ContextSize measures the session's current window.
func (a *Assistant) ContextSize(ctx context.Context, sessionID string) int {
	s := a.session(ctx, sessionID)
	s.mu.Lock()
	window := s.buf.Window(a.opts.Memory.WindowSize)
	s.mu.Unlock()
	return a.monitor.Measure(ctx, window)
}

// Persist saves every live memory that has changed since it was last
// stored. It returns the first error after attempting all sessions.
func (a *Assistant) Persist(ctx context.Context) error {
	a.sessions.DeleteExpired()
	var firstErr error
	for _, item := range a.sessions.Items() {
		s := item.Object.(*sessionState)
		s.mu.Lock()
		if err := a.persist(ctx, s); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mu.Unlock()
	}
	return firstErr
}

// Sessions returns the number of sessions held in memory.
func (a *Assistant) Sessions() int {
	return a.sessions.ItemCount()
}

// Close persists pending memories and closes the store.
func (a *Assistant) Close(ctx context.Context) error {
	perr := a.Persist(ctx)
	cerr := a.opts.Store.Close()
	if perr != nil {
		return perr
	}
	return cerr
}

// session returns the state for id, restoring its memory from the store
// on first use. A store failure leaves the session without memory.
func (a *Assistant) session(ctx context.Context, id string) *sessionState {
	id = normalizeID(id)

	a.mu.Lock()
	defer a.mu.Unlock()

	// Get hides entries that expired before the janitor ran; sweeping first
	// routes them through onEvicted so dirty memory is saved, not replaced.
	a.sessions.DeleteExpired()
	if x, ok := a.sessions.Get(id); ok {
		s := x.(*sessionState)
		// touch to extend the idle expiry
		a.sessions.SetDefault(id, s)
		return s
	}

	s := &sessionState{
		id:  id,
		buf: conversation.NewBuffer(),
		mgr: memory.NewManager(a.opts.LLM, a.opts.Memory),
	}

	mem, err := a.opts.Store.LoadMemory(ctx, id)
	switch {
	case err == nil:
		s.mgr.Install(mem)
		a.logger.Info("session memory restored", zap.String("session", id), zap.String("memory_id", mem.ID))
	case errors.Is(err, session.ErrMemoryNotFound):
	default:
		metrics.RecordPersistenceError("load")
		a.logger.Warn("failed to load session memory, starting without memory",
			zap.String("session", id), zap.Error(err))
	}

	a.sessions.SetDefault(id, s)
	metrics.SetActiveSessions(a.sessions.ItemCount())
	return s
}

// persist saves s's memory if it changed. Callers hold s.mu.
func (a *Assistant) persist(ctx context.Context, s *sessionState) error {
	if !s.dirty {
		return nil
	}
	mem := s.mgr.Current()
	if mem == nil {
		s.dirty = false
		return nil
	}
	if err := a.opts.Store.SaveMemory(ctx, s.id, mem); err != nil {
		metrics.RecordPersistenceError("save")
		a.logger.Warn("failed to save session memory", zap.String("session", s.id), zap.Error(err))
		return fmt.Errorf("save memory for %s: %w", s.id, err)
	}
	s.dirty = false
	return nil
}

func (a *Assistant) onEvicted(id string, x any) {
	s := x.(*sessionState)
	s.mu.Lock()
	_ = a.persist(context.Background(), s)
	s.mu.Unlock()
	metrics.SetActiveSessions(a.sessions.ItemCount())
	a.logger.Debug("session evicted", zap.String("session", id))
}

// stamp returns the current time, or the last message's timestamp when the
// clock reads earlier, so appends never violate ordering.
func (a *Assistant) stamp(buf *conversation.Buffer) time.Time {
	now := a.opts.Now()
	if last, ok := buf.Last(); ok && now.Before(last.Timestamp) {
		return last.Timestamp
	}
	return now
}

func outcomeLabel(out *memory.Outcome) string {
	if out.Degraded {
		return "degraded"
	}
	return "validated"
}

func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}
