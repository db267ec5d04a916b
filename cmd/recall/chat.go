package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/aixgo-dev/recall"
	"github.com/aixgo-dev/recall/internal/logging"
	tracing "github.com/aixgo-dev/recall/internal/observability"
	"github.com/aixgo-dev/recall/pkg/config"
	"github.com/aixgo-dev/recall/pkg/memory"
	"github.com/aixgo-dev/recall/pkg/observability"
	"github.com/fatih/color"
	"github.com/peterh/liner"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const helpText = `Commands:
  /summarize  summarize the conversation now
  /memory     show the session memory
  /context    show the context used for the last answer
  /help       show this help
  /quit       exit`

type chatFlags struct {
	configFile string
	provider   string
	model      string
	threshold  int
	logFile    string
	noLog      bool
	loadLog    string
	sessionID  string
	verbose    bool
}

func newChatCmd() *cobra.Command {
	var f chatFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadChatConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, &f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", os.Getenv("RECALL_CONFIG"), "YAML configuration file")
	fl.StringVar(&f.provider, "provider", "", "LLM provider (gemini, vertexai, openai, bedrock, mock)")
	fl.StringVar(&f.model, "model", "", "model name")
	fl.IntVar(&f.threshold, "threshold", 0, "token threshold that triggers summarization")
	fl.StringVar(&f.logFile, "log-file", "", "conversation log path")
	fl.BoolVar(&f.noLog, "no-log", false, "disable the conversation log")
	fl.StringVar(&f.loadLog, "load-log", "", "seed the session from a conversation log (JSON or JSONL)")
	fl.StringVar(&f.sessionID, "session", recall.DefaultSessionID, "session ID")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "show query analysis and debug logs")
	return cmd
}

// loadChatConfig reads the config file and applies explicitly set flags.
func loadChatConfig(cmd *cobra.Command, f *chatFlags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configFile)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("provider") {
		cfg.LLM.Provider = f.provider
		cfg.LLM.APIKey = ""
		cfg.ApplyEnv()
	}
	if changed("model") {
		cfg.LLM.Model = f.model
	}
	if changed("threshold") {
		cfg.Memory.TokenThreshold = f.threshold
	}
	if changed("log-file") {
		cfg.ConversationLog.Enabled = true
		cfg.ConversationLog.Path = f.logFile
	}
	if f.noLog {
		cfg.ConversationLog.Enabled = false
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runChat(ctx context.Context, cfg *config.Config, f *chatFlags) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := tracing.Init(tracing.ConfigFromEnv(), logger); err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	if f.loadLog != "" {
		res, err := a.assistant.LoadLog(ctx, f.sessionID, f.loadLog)
		if err != nil {
			return err
		}
		printf(color.FgGreen, "Loaded %d messages from %s (%d skipped)\n", len(res.Messages), f.loadLog, res.Skipped)
	}

	if cfg.Session.Store != "none" && cfg.Session.AutosaveSpec != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.Session.AutosaveSpec, func() {
			if err := a.assistant.Persist(ctx); err != nil {
				logger.Warn("autosave failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("invalid autosave spec %q: %w", cfg.Session.AutosaveSpec, err)
		}
		c.Start()
		defer c.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	replCtx, cancelRepl := context.WithCancel(gctx)

	if cfg.Metrics.Enabled {
		observability.InitMetrics()
		checker := observability.NewHealthChecker(Version)
		checker.RegisterCheck(observability.StoreCheck(a.store.Ping))
		checker.SetSessionCounter(a.assistant.Sessions)
		if cfg.ConversationLog.Enabled {
			dir := filepath.Dir(cfg.ConversationLog.Path)
			checker.RegisterCheck(observability.OptionalCheck("conversation_log", func(context.Context) error {
				_, err := os.Stat(dir)
				return err
			}))
		}
		server := observability.NewServer(cfg.Metrics.Addr, checker)
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.Metrics.Addr))
			return server.Run(replCtx)
		})
	}

	g.Go(func() error {
		defer cancelRepl()
		r := &repl{assistant: a.assistant, sessionID: f.sessionID, verbose: f.verbose, cfg: cfg}
		return r.run(replCtx)
	})

	return g.Wait()
}

type repl struct {
	assistant *recall.Assistant
	sessionID string
	verbose   bool
	cfg       *config.Config
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".recall", "history")
}

func (r *repl) run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	hist := historyPath()
	if hist != "" {
		if fh, err := os.Open(hist); err == nil {
			_, _ = line.ReadHistory(fh)
			_ = fh.Close()
		}
		defer func() {
			if err := os.MkdirAll(filepath.Dir(hist), 0700); err != nil {
				return
			}
			if fh, err := os.Create(hist); err == nil {
				_, _ = line.WriteHistory(fh)
				_ = fh.Close()
			}
		}()
	}

	printf(color.FgCyan, "recall %s | provider %s | model %s | threshold %d tokens\n",
		Version, r.cfg.LLM.Provider, r.cfg.LLM.Model, r.cfg.Memory.TokenThreshold)
	fmt.Println("Type /help for commands.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt("you> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := r.command(ctx, input); quit {
				return nil
			}
			continue
		}
		r.turn(ctx, input)
	}
}

// command handles a slash command and reports whether to exit.
func (r *repl) command(ctx context.Context, input string) bool {
	switch strings.Fields(input)[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Println(helpText)
	case "/summarize":
		out, err := r.assistant.Summarize(ctx, r.sessionID)
		switch {
		case errors.Is(err, memory.ErrNothingToSummarize):
			printf(color.FgYellow, "Nothing to summarize yet.\n")
		case err != nil:
			printf(color.FgRed, "Summarization failed: %v\n", err)
		default:
			printSummary(out)
		}
	case "/memory":
		mem := r.assistant.Memory(ctx, r.sessionID)
		if mem == nil {
			printf(color.FgYellow, "No session memory yet.\n")
			return false
		}
		printJSON(mem)
	case "/context":
		fc := r.assistant.LastContext(ctx, r.sessionID)
		if fc == nil {
			printf(color.FgYellow, "No turn has completed yet.\n")
			return false
		}
		printJSON(fc)
	default:
		printf(color.FgYellow, "Unknown command %s. Type /help.\n", input)
	}
	return false
}

func (r *repl) turn(ctx context.Context, input string) {
	res, err := r.assistant.Turn(ctx, r.sessionID, input)
	if err != nil {
		printf(color.FgRed, "Turn failed: %v\n", err)
		return
	}

	if res.SummaryTriggered {
		printSummary(res.Summary)
	}
	if r.verbose {
		qa := res.Analysis
		printf(color.FgHiBlack, "[query %s] ambiguous=%t source=%s tokens=%d\n",
			qa.QueryID, qa.IsAmbiguous, qa.Source, res.ContextSize)
		if qa.ClarifiedQuery != qa.OriginalQuery {
			printf(color.FgHiBlack, "  clarified: %s\n", qa.ClarifiedQuery)
		}
		for _, item := range qa.SelectedMemory {
			printf(color.FgHiBlack, "  memory: %s\n", item)
		}
	}

	printf(color.FgGreen, "assistant> ")
	fmt.Println(res.Response)
}

func printSummary(out *memory.Outcome) {
	label := "validated"
	if out.Degraded {
		label = "degraded"
	}
	printf(color.FgMagenta, "[memory %s: %s summary of %d messages, %d trimmed, scope %d-%d]\n",
		out.Memory.ID, label, out.Summarized, out.Trimmed, out.Memory.Scope.From, out.Memory.Scope.To)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		printf(color.FgRed, "%v\n", err)
		return
	}
	fmt.Println(string(data))
}
