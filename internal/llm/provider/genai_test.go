package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestBuildGenAIContents_RoleMapping(t *testing.T) {
	contents, system := buildGenAIContents([]Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	})

	require.NotNil(t, system)
	assert.Equal(t, "be brief", system.Parts[0].Text)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "hello", contents[1].Parts[0].Text)
}

func TestToGenAISchema(t *testing.T) {
	type inner struct {
		Goals []string `json:"goals"`
	}
	type out struct {
		Ambiguous *bool  `json:"is_ambiguous" validate:"required"`
		Context   inner  `json:"user_context"`
		Note      string `json:"note" description:"free text"`
	}

	raw, err := RawSchemaFor(out{})
	require.NoError(t, err)
	var s Schema
	require.NoError(t, json.Unmarshal(raw, &s))

	g := toGenAISchema(&s)
	assert.Equal(t, genai.TypeObject, g.Type)
	assert.Equal(t, []string{"is_ambiguous", "user_context", "note"}, g.PropertyOrdering)
	assert.Equal(t, []string{"is_ambiguous"}, g.Required)
	assert.Equal(t, genai.TypeBoolean, g.Properties["is_ambiguous"].Type)
	assert.Equal(t, genai.TypeArray, g.Properties["user_context"].Properties["goals"].Type)
	assert.Equal(t, genai.TypeString, g.Properties["user_context"].Properties["goals"].Items.Type)
	assert.Equal(t, "free text", g.Properties["note"].Description)
	assert.Nil(t, toGenAISchema(nil))
}

func TestGenAIProvider_BuildConfig(t *testing.T) {
	p := &GenAIProvider{name: "gemini"}

	cfg := p.buildConfig(CompletionRequest{Temperature: 0})
	require.NotNil(t, cfg.Temperature)
	assert.Equal(t, float32(0), *cfg.Temperature)
	assert.Zero(t, cfg.MaxOutputTokens)

	cfg = p.buildConfig(CompletionRequest{Temperature: 0.3, MaxTokens: 256})
	assert.Equal(t, int32(256), cfg.MaxOutputTokens)
}

func TestGenAIProvider_ParseResponse(t *testing.T) {
	p := &GenAIProvider{name: "gemini"}

	resp, err := p.parseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: []*genai.Part{{Text: "part one, "}, {Text: "part two"}}},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 4,
			TotalTokenCount:      16,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "part one, part two", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 16, resp.Usage.TotalTokens)

	_, err = p.parseResponse(&genai.GenerateContentResponse{})
	assert.Error(t, err)

	_, err = p.parseResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
	})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCodeContentFiltered, pe.Code)
}

func TestGenAIProvider_WrapError(t *testing.T) {
	p := &GenAIProvider{name: "vertexai"}
	tests := []struct {
		msg  string
		code string
	}{
		{"Error 401: API key not valid", ErrorCodeAuthentication},
		{"Error 429: quota exhausted", ErrorCodeRateLimit},
		{"model gemini-9 not found", ErrorCodeModelNotFound},
		{"context deadline exceeded", ErrorCodeTimeout},
		{"Error 503: backend unavailable", ErrorCodeServerError},
		{"something odd", ErrorCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			var pe *ProviderError
			require.True(t, errors.As(p.wrapError(errors.New(tt.msg)), &pe))
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, "vertexai", pe.Provider)
		})
	}
	assert.NoError(t, p.wrapError(nil))

	var pe *ProviderError
	require.True(t, errors.As(p.wrapError(genai.APIError{Code: 429, Message: "Resource exhausted"}), &pe))
	assert.Equal(t, ErrorCodeRateLimit, pe.Code)
	assert.Equal(t, 429, pe.StatusCode)
	assert.True(t, pe.IsRetryable)
}

func TestGenAIProvider_SingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend unavailable","status":"UNAVAILABLE"}}`))
	}))
	defer srv.Close()

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)
	p := &GenAIProvider{name: "gemini", client: client}

	_, err = p.CreateStructured(context.Background(), StructuredRequest{
		CompletionRequest: CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}},
	})

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCodeServerError, pe.Code)
	assert.True(t, pe.IsRetryable, "retryability is reported, not acted on")
	assert.Equal(t, int32(1), hits.Load())
}

func TestModelOrDefault(t *testing.T) {
	assert.Equal(t, genAIDefaultModel, modelOrDefault(""))
	assert.Equal(t, "gemini-2.5-pro", modelOrDefault("gemini-2.5-pro"))
}
