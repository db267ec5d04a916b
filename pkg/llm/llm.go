// Package llm is the language model service used by the memory and
// understanding components. It turns provider calls into either validated
// structured values or plain text and classifies failures as recoverable
// (timeout, schema) or fatal (provider).
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aixgo-dev/recall/internal/llm/provider"
	"github.com/aixgo-dev/recall/pkg/observability"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Service is the interface consumed by the memory manager, the query
// understanding engine and the turn orchestrator.
type Service interface {
	// GenerateStructured decodes and validates the model output into out,
	// which must be a pointer to a struct.
	GenerateStructured(ctx context.Context, req Request, out any) error

	// GenerateText returns free-form model output.
	GenerateText(ctx context.Context, req Request) (string, error)
}

// Request describes one model call
type Request struct {
	// Call names the purpose of the call for metrics and logs
	// ("summarize", "understand", "respond").
	Call string
	// System is an optional system instruction
	System string
	// Prompt is the user prompt
	Prompt string
}

// ProviderError is the fatal error class: transport, authentication or
// provider-side failure.
type ProviderError = provider.ProviderError

// ErrTimeout is returned when a call exceeds its per-call timeout.
var ErrTimeout = errors.New("language model call timed out")

// SchemaValidationError is returned when structured output cannot be
// decoded or does not satisfy the output type's constraints.
type SchemaValidationError struct {
	Call string
	Raw  string
	Err  error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s: invalid structured output: %v", e.Call, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether err should be handled by a component
// fallback rather than failing the turn.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var sve *SchemaValidationError
	return errors.Is(err, ErrTimeout) || errors.As(err, &sve)
}

// Options holds client settings
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RateLimit   rate.Limit
	Burst       int
	Logger      *zap.Logger
}

// Option is a functional option for the client
type Option func(*Options)

// WithModel sets the model to use
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithTemperature sets the temperature
func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

// WithMaxTokens sets the maximum tokens to generate
func WithMaxTokens(tokens int) Option {
	return func(o *Options) {
		o.MaxTokens = tokens
	}
}

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRateLimit caps calls per second across the client
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = rate.Limit(perSecond)
		o.Burst = burst
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// Client implements Service on top of a provider
type Client struct {
	provider provider.Provider
	opts     Options
	limiter  *rate.Limiter
	validate *validator.Validate
	logger   *zap.Logger
}

// NewClient creates a client for p
func NewClient(p provider.Provider, opts ...Option) *Client {
	o := Options{
		Temperature: 0.2,
		Timeout:     30 * time.Second,
		RateLimit:   rate.Inf,
		Burst:       1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Burst < 1 {
		o.Burst = 1
	}

	validate := validator.New()
	// "notblank" rejects whitespace-only strings that "required" lets through.
	_ = validate.RegisterValidation("notblank", validators.NotBlank)

	return &Client{
		provider: p,
		opts:     o,
		limiter:  rate.NewLimiter(o.RateLimit, o.Burst),
		validate: validate,
		logger:   o.Logger.With(zap.String("provider", p.Name())),
	}
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.opts.Model
}

// GenerateStructured implements Service
func (c *Client) GenerateStructured(ctx context.Context, req Request, out any) error {
	schema, err := provider.RawSchemaFor(out)
	if err != nil {
		return err
	}

	start := time.Now()
	var resp *provider.StructuredResponse
	err = c.call(ctx, req.Call, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.provider.CreateStructured(callCtx, provider.StructuredRequest{
			CompletionRequest: c.completionRequest(req),
			ResponseSchema:    schema,
		})
		return callErr
	})
	if err == nil {
		err = c.decode(req.Call, resp, out)
	}

	c.record(req.Call, start, err)
	return err
}

// GenerateText implements Service
func (c *Client) GenerateText(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	var resp *provider.CompletionResponse
	err := c.call(ctx, req.Call, func(callCtx context.Context) error {
		var callErr error
		resp, callErr = c.provider.CreateCompletion(callCtx, c.completionRequest(req))
		return callErr
	})
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = provider.NewProviderError(c.provider.Name(), provider.ErrorCodeUnknown, "empty response", nil)
	}

	c.record(req.Call, start, err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (c *Client) completionRequest(req Request) provider.CompletionRequest {
	msgs := make([]provider.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: req.Prompt})

	return provider.CompletionRequest{
		Call:        req.Call,
		Messages:    msgs,
		Model:       c.opts.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}
}

// call runs fn under the per-call timeout and classifies its error.
func (c *Client) call(ctx context.Context, name string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.limiter.Wait(callCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s: waiting for rate limiter", ErrTimeout, name)
	}

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var pe *provider.ProviderError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s after %s", ErrTimeout, name, c.opts.Timeout)
	case errors.As(err, &pe) && pe.Code == provider.ErrorCodeTimeout:
		return fmt.Errorf("%w: %s: %s", ErrTimeout, name, pe.Message)
	case errors.As(err, &pe):
		return pe
	default:
		return provider.NewProviderError(c.provider.Name(), provider.ErrorCodeUnknown, err.Error(), err)
	}
}

func (c *Client) decode(call string, resp *provider.StructuredResponse, out any) error {
	raw := string(resp.Data)
	if raw == "" {
		raw = resp.Content
	}
	jsonStr := provider.ExtractJSON(raw)
	if jsonStr == "" {
		return &SchemaValidationError{Call: call, Raw: raw, Err: errors.New("no JSON object in response")}
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return &SchemaValidationError{Call: call, Raw: jsonStr, Err: err}
	}
	if err := c.validate.Struct(out); err != nil {
		return &SchemaValidationError{Call: call, Raw: jsonStr, Err: err}
	}
	return nil
}

func (c *Client) record(call string, start time.Time, err error) {
	status := "ok"
	var sve *SchemaValidationError
	switch {
	case err == nil:
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	case errors.As(err, &sve):
		status = "schema"
	default:
		status = "error"
	}

	elapsed := time.Since(start)
	observability.RecordLLMCall(call, status, elapsed)

	if err != nil {
		c.logger.Warn("llm call failed",
			zap.String("call", call),
			zap.String("status", status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return
	}
	c.logger.Debug("llm call", zap.String("call", call), zap.Duration("elapsed", elapsed))
}
