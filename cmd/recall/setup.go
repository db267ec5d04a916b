package main

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/recall"
	"github.com/aixgo-dev/recall/internal/llm/provider"
	"github.com/aixgo-dev/recall/pkg/config"
	"github.com/aixgo-dev/recall/pkg/convlog"
	"github.com/aixgo-dev/recall/pkg/llm"
	"github.com/aixgo-dev/recall/pkg/memory"
	"github.com/aixgo-dev/recall/pkg/session"
	"github.com/aixgo-dev/recall/pkg/tokens"
	"go.uber.org/zap"
)

// app is everything a chat session needs, built from one Config.
type app struct {
	assistant *recall.Assistant
	store     session.StorageBackend
	log       *convlog.Writer
}

// newProvider creates the configured provider wrapped for tracing.
func newProvider(cfg *config.Config) (provider.Provider, error) {
	var p provider.Provider
	if cfg.LLM.Provider == "mock" {
		p = provider.NewMockProvider("mock")
	} else {
		created, err := provider.Create(cfg.LLM.Provider, cfg.ProviderConfig())
		if err != nil {
			return nil, fmt.Errorf("create %s provider: %w", cfg.LLM.Provider, err)
		}
		p = created
	}
	return provider.NewInstrumentedProvider(p), nil
}

// newCounter returns the provider's tokenizer when exact counting is
// requested and available, and the character estimate otherwise.
func newCounter(cfg *config.Config, p provider.Provider, logger *zap.Logger) tokens.Counter {
	if !cfg.Memory.ExactTokenCount {
		return tokens.CharCounter{}
	}
	if ip, ok := p.(*provider.InstrumentedProvider); ok {
		p = ip.Unwrap()
	}
	if gp, ok := p.(*provider.GenAIProvider); ok {
		return tokens.NewGenAICounter(gp.Client(), cfg.LLM.Model)
	}
	logger.Warn("exact token counting not supported by provider, using estimate",
		zap.String("provider", cfg.LLM.Provider))
	return tokens.CharCounter{}
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}

	opts := []llm.Option{
		llm.WithModel(cfg.LLM.Model),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.WithLogger(logger.Named("llm")),
	}
	if cfg.LLM.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	if cfg.LLM.RateLimit > 0 {
		opts = append(opts, llm.WithRateLimit(cfg.LLM.RateLimit, cfg.LLM.Burst))
	}
	client := llm.NewClient(p, opts...)

	store, err := session.NewBackend(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	var w *convlog.Writer
	if cfg.ConversationLog.Enabled {
		w, err = convlog.Open(cfg.ConversationLog.Path)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	a, err := recall.New(recall.Options{
		LLM:            client,
		Counter:        newCounter(cfg, p, logger),
		Store:          store,
		Log:            w,
		TokenThreshold: cfg.Memory.TokenThreshold,
		Memory: memory.Config{
			WindowSize:         cfg.Memory.WindowSize,
			KeepRecent:         cfg.Memory.KeepRecent,
			DegradedStateLimit: cfg.Memory.DegradedStateLimit,
			Fold:               memory.PolicyByName(cfg.Memory.FoldPolicy),
		},
		IdleTTL: cfg.Memory.SessionIdleTTL,
		Logger:  logger,
	})
	if err != nil {
		_ = store.Close()
		if w != nil {
			_ = w.Close()
		}
		return nil, err
	}

	return &app{assistant: a, store: store, log: w}, nil
}

// Close persists pending memory and releases the store and log.
func (a *app) Close(ctx context.Context) error {
	err := a.assistant.Close(ctx)
	if a.log != nil {
		if lerr := a.log.Close(); lerr != nil && err == nil {
			err = lerr
		}
	}
	return err
}
