// Package provider adapts hosted language model APIs to one request and
// response shape. Every backend supports plain text completion and JSON
// output shaped by a schema; nothing here validates that output.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Provider is implemented by each model backend.
type Provider interface {
	Name() string
	CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error)
	// CreateStructured asks for JSON matching request.ResponseSchema.
	CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error)
}

// Message is one prompt entry. Role is "system", "user" or "assistant".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single-shot prompt.
type CompletionRequest struct {
	// Call names the step issuing the request ("summarize", "understand",
	// "respond"); used for tracing only.
	Call string `json:"-"`

	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionResponse is the model's text answer.
type CompletionResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// StructuredRequest asks for a JSON object.
type StructuredRequest struct {
	CompletionRequest

	// ResponseSchema is a JSON Schema; backends without native schema
	// support embed it in the prompt.
	ResponseSchema json.RawMessage `json:"response_schema"`
}

// StructuredResponse carries the raw JSON the model produced.
type StructuredResponse struct {
	Data json.RawMessage `json:"data"`

	CompletionResponse
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

const (
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeAuthentication  = "authentication_error"
	ErrorCodeRateLimit       = "rate_limit_exceeded"
	ErrorCodeServerError     = "server_error"
	ErrorCodeTimeout         = "timeout"
	ErrorCodeModelNotFound   = "model_not_found"
	ErrorCodeContentFiltered = "content_filtered"
	ErrorCodeUnknown         = "unknown_error"
)

// ProviderError is a backend failure: transport, credentials, quota or a
// refused response.
type ProviderError struct {
	Provider      string `json:"provider"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	StatusCode    int    `json:"status_code,omitempty"`
	IsRetryable   bool   `json:"is_retryable"`
	OriginalError error  `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.OriginalError
}

// NewProviderError creates a ProviderError; retryability follows code.
func NewProviderError(provider, code, message string, original error) *ProviderError {
	return &ProviderError{
		Provider:      provider,
		Code:          code,
		Message:       message,
		OriginalError: original,
		IsRetryable:   code == ErrorCodeRateLimit || code == ErrorCodeServerError || code == ErrorCodeTimeout,
	}
}

// CodeForStatus maps an HTTP status from a backend API to an error code.
func CodeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorCodeAuthentication
	case status == http.StatusTooManyRequests:
		return ErrorCodeRateLimit
	case status == http.StatusNotFound:
		return ErrorCodeModelNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorCodeTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrorCodeInvalidRequest
	case status >= 500:
		return ErrorCodeServerError
	default:
		return ErrorCodeUnknown
	}
}
