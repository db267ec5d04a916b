package provider

import (
	"context"

	"github.com/aixgo-dev/recall/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedProvider wraps a Provider and records a span per call with
// model, token usage and error details.
type InstrumentedProvider struct {
	provider Provider
}

// NewInstrumentedProvider wraps provider with tracing
func NewInstrumentedProvider(provider Provider) *InstrumentedProvider {
	return &InstrumentedProvider{provider: provider}
}

// Name returns the wrapped provider's name
func (p *InstrumentedProvider) Name() string {
	return p.provider.Name()
}

// Unwrap returns the wrapped provider
func (p *InstrumentedProvider) Unwrap() Provider {
	return p.provider
}

// CreateCompletion creates a completion inside a span
func (p *InstrumentedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	ctx, span := observability.StartSpan(ctx, "llm."+p.provider.Name()+".completion", map[string]any{
		"llm.provider":       p.provider.Name(),
		"llm.call":           request.Call,
		"llm.model":          request.Model,
		"llm.temperature":    request.Temperature,
		"llm.messages_count": len(request.Messages),
	})

	response, err := p.provider.CreateCompletion(ctx, request)
	if err == nil && response != nil {
		setUsage(span, response.Usage)
		span.SetAttributes(attribute.String("llm.finish_reason", response.FinishReason))
	}
	observability.EndSpan(span, err)
	return response, err
}

// CreateStructured creates a structured response inside a span
func (p *InstrumentedProvider) CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error) {
	ctx, span := observability.StartSpan(ctx, "llm."+p.provider.Name()+".structured", map[string]any{
		"llm.provider":      p.provider.Name(),
		"llm.call":          request.Call,
		"llm.model":         request.Model,
		"llm.schema_bytes":  len(request.ResponseSchema),
	})

	response, err := p.provider.CreateStructured(ctx, request)
	if err == nil && response != nil {
		setUsage(span, response.Usage)
	}
	observability.EndSpan(span, err)
	return response, err
}

func setUsage(span trace.Span, u Usage) {
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", u.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", u.CompletionTokens),
		attribute.Int("llm.usage.total_tokens", u.TotalTokens),
	)
}
