package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

const openaiDefaultModel = "gpt-4o-mini"

func init() {
	RegisterFactory("openai", func(config map[string]any) (Provider, error) {
		apiKey, _ := config["api_key"].(string)
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}

		cfg := openai.DefaultConfig(apiKey)
		if url, ok := config["base_url"].(string); ok && url != "" {
			cfg.BaseURL = url
		}
		return NewOpenAIProvider(openai.NewClientWithConfig(cfg)), nil
	})
}

// ChatClient is the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider implements Provider for OpenAI-compatible chat APIs
type OpenAIProvider struct {
	client ChatClient
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(client ChatClient) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// CreateCompletion creates a completion
func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return nil, p.wrapError(err)
	}
	return p.parseResponse(resp)
}

// CreateStructured uses JSON mode; the schema is embedded in the prompt so
// it also works with compatible servers lacking json_schema support.
func (p *OpenAIProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	prompt := BuildStructuredPrompt(req.Messages, req.ResponseSchema)
	inner := req.CompletionRequest
	inner.Messages = []Message{{Role: "user", Content: prompt}}

	chatReq := p.buildRequest(inner)
	chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.wrapError(err)
	}

	compResp, err := p.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	return &StructuredResponse{
		Data:               json.RawMessage(compResp.Content),
		CompletionResponse: *compResp,
	}, nil
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = openaiDefaultModel
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
}

func (p *OpenAIProvider) parseResponse(resp openai.ChatCompletionResponse) (*CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", ErrorCodeUnknown, "no choices in response", nil)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, NewProviderError("openai", ErrorCodeContentFiltered, "response blocked by content filter", nil)
	}

	return &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	pe := NewProviderError("openai", CodeForStatus(status), err.Error(), err)
	pe.StatusCode = status
	return pe
}
