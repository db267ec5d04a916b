package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	genAIClientTimeout  = 30 * time.Second
	genAIDefaultModel   = "gemini-2.0-flash"
	vertexAIDefaultZone = "us-central1"
)

func init() {
	RegisterFactory("vertexai", func(config map[string]any) (Provider, error) {
		projectID, _ := config["project_id"].(string)
		if projectID == "" {
			projectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
		}
		if projectID == "" {
			return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT not set")
		}

		location, _ := config["location"].(string)
		if location == "" {
			location = os.Getenv("VERTEX_AI_LOCATION")
		}
		if location == "" {
			location = vertexAIDefaultZone
		}

		return NewVertexAIProvider(projectID, location)
	})
}

// GenAIProvider implements Provider on the Google Gen AI SDK. The same
// client type serves both the Gemini Developer API and Vertex AI.
type GenAIProvider struct {
	name   string
	client *genai.Client
}

// NewVertexAIProvider creates a Vertex AI provider using Application
// Default Credentials.
func NewVertexAIProvider(projectID, location string) (*GenAIProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), genAIClientTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	return &GenAIProvider{name: "vertexai", client: client}, nil
}

// Name returns the provider name
func (p *GenAIProvider) Name() string {
	return p.name
}

// Client exposes the underlying SDK client, e.g. for token counting.
func (p *GenAIProvider) Client() *genai.Client {
	return p.client
}

// CreateCompletion creates a completion using the Gen AI SDK
func (p *GenAIProvider) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	config := p.buildConfig(req)
	contents, systemInstruction := buildGenAIContents(req.Messages)
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	resp, err := p.generate(ctx, modelOrDefault(req.Model), contents, config)
	if err != nil {
		return nil, err
	}
	return p.parseResponse(resp)
}

// CreateStructured requests application/json output constrained by the
// request schema.
func (p *GenAIProvider) CreateStructured(ctx context.Context, req StructuredRequest) (*StructuredResponse, error) {
	config := p.buildConfig(req.CompletionRequest)
	config.ResponseMIMEType = "application/json"

	if len(req.ResponseSchema) > 0 {
		var schema Schema
		if err := json.Unmarshal(req.ResponseSchema, &schema); err == nil {
			config.ResponseSchema = toGenAISchema(&schema)
		}
	}

	contents, systemInstruction := buildGenAIContents(req.Messages)
	if systemInstruction != nil {
		config.SystemInstruction = systemInstruction
	}

	resp, err := p.generate(ctx, modelOrDefault(req.Model), contents, config)
	if err != nil {
		return nil, err
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

// toGenAISchema converts s to the SDK's schema type, which uses
// upper-case type names and an explicit property order.
func toGenAISchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:             genai.Type(strings.ToUpper(s.Type)),
		Description:      s.Description,
		Required:         s.Required,
		PropertyOrdering: s.Order,
		Items:            toGenAISchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenAISchema(prop)
		}
	}
	return out
}

func (p *GenAIProvider) buildConfig(req CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	// 0 is a valid temperature
	config.Temperature = genai.Ptr(float32(req.Temperature))
	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	return config
}

// generate makes exactly one GenerateContent call. Retry decisions belong
// to the caller; ProviderError.IsRetryable reports whether one makes sense.
func (p *GenAIProvider) generate(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, p.wrapError(err)
	}
	return resp, nil
}

func modelOrDefault(model string) string {
	if model == "" {
		return genAIDefaultModel
	}
	return model
}

// buildGenAIContents converts messages to Gen AI content format
func buildGenAIContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			systemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
			continue
		}

		role := m.Role
		if role == "assistant" {
			role = "model"
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	return contents, systemInstruction
}

func (p *GenAIProvider) parseResponse(resp *genai.GenerateContentResponse) (*CompletionResponse, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, NewProviderError(p.name, ErrorCodeUnknown, "no candidates in response", nil)
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}

	finishReason := string(candidate.FinishReason)
	switch finishReason {
	case "STOP", "":
		finishReason = "stop"
	case "SAFETY", "BLOCKLIST", "PROHIBITED_CONTENT":
		return nil, NewProviderError(p.name, ErrorCodeContentFiltered, "response blocked: "+finishReason, nil)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &CompletionResponse{
		Content:      sb.String(),
		FinishReason: finishReason,
		Usage:        usage,
	}, nil
}

// apiStatus extracts the HTTP status from a Gen AI SDK error, or 0.
func apiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

// wrapError converts Gen AI errors to ProviderError. Errors without an
// HTTP status are classified by message.
func (p *GenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}

	status := apiStatus(err)
	code := CodeForStatus(status)
	if status == 0 {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "credential") || strings.Contains(msg, "api key"):
			code = ErrorCodeAuthentication
		case strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
			code = ErrorCodeRateLimit
		case strings.Contains(msg, "not found"):
			code = ErrorCodeModelNotFound
		case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout"):
			code = ErrorCodeTimeout
		case strings.Contains(msg, "unavailable"):
			code = ErrorCodeServerError
		}
	}

	pe := NewProviderError(p.name, code, err.Error(), err)
	pe.StatusCode = status
	return pe
}
