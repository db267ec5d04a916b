package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateCachesProvider(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.RegisterFactory("mock", func(config map[string]any) (Provider, error) {
		calls++
		return NewMockProvider("mock"), nil
	})

	p1, err := r.Create("mock", nil)
	require.NoError(t, err)
	p2, err := r.Create("mock", nil)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, calls)

	_, err = r.Create("missing", nil)
	assert.Error(t, err)
}

func TestRegistry_BuiltinFactories(t *testing.T) {
	names := List()
	for _, want := range []string{"gemini", "vertexai", "openai", "bedrock"} {
		assert.Contains(t, names, want)
	}
}

func TestProviderError_Retryable(t *testing.T) {
	orig := errors.New("boom")
	err := NewProviderError("gemini", ErrorCodeRateLimit, "slow down", orig)
	assert.True(t, err.IsRetryable)
	assert.True(t, errors.Is(err, orig))
	assert.Equal(t, "gemini rate_limit_exceeded: slow down", err.Error())

	assert.False(t, NewProviderError("gemini", ErrorCodeAuthentication, "bad key", nil).IsRetryable)
}

func TestCodeForStatus(t *testing.T) {
	tests := map[int]string{
		http.StatusUnauthorized:       ErrorCodeAuthentication,
		http.StatusForbidden:          ErrorCodeAuthentication,
		http.StatusTooManyRequests:    ErrorCodeRateLimit,
		http.StatusNotFound:           ErrorCodeModelNotFound,
		http.StatusGatewayTimeout:     ErrorCodeTimeout,
		http.StatusBadRequest:         ErrorCodeInvalidRequest,
		http.StatusServiceUnavailable: ErrorCodeServerError,
		0:                             ErrorCodeUnknown,
	}
	for status, want := range tests {
		assert.Equal(t, want, CodeForStatus(status), "status %d", status)
	}
}

func TestMockProvider_Queues(t *testing.T) {
	m := NewMockProvider("mock").
		AddStructured(`{"a":1}`).
		AddCompletion("hello").
		AddCompletionError(errors.New("down"))
	ctx := context.Background()

	s, err := m.CreateStructured(ctx, StructuredRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(s.Data))

	c, err := m.CreateCompletion(ctx, CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Content)

	_, err = m.CreateCompletion(ctx, CompletionRequest{})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 0, m.Pending())
	assert.Len(t, m.CompletionCalls, 2)
}

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAIProvider_CreateStructured(t *testing.T) {
	fc := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: "assistant", Content: `{"ok":true}`},
			FinishReason: openai.FinishReasonStop,
		}},
		Usage: openai.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}}
	p := NewOpenAIProvider(fc)

	resp, err := p.CreateStructured(context.Background(), StructuredRequest{
		CompletionRequest: CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}},
		ResponseSchema:    []byte(`{"type":"object"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Data))
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	require.NotNil(t, fc.req.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, fc.req.ResponseFormat.Type)
	assert.Equal(t, openaiDefaultModel, fc.req.Model)
}

func TestOpenAIProvider_ErrorMapping(t *testing.T) {
	fc := &fakeChat{err: &openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"}}
	p := NewOpenAIProvider(fc)

	_, err := p.CreateCompletion(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCodeAuthentication, pe.Code)
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)

	fc.err = context.DeadlineExceeded
	_, err = p.CreateCompletion(context.Background(), CompletionRequest{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type fakeConverse struct {
	in   *bedrockruntime.ConverseInput
	opts bedrockruntime.Options
	out  *bedrockruntime.ConverseOutput
	err  error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = in
	f.opts = bedrockruntime.Options{RetryMaxAttempts: 3}
	for _, fn := range optFns {
		fn(&f.opts)
	}
	return f.out, f.err
}

func TestBedrockProvider_CreateCompletion(t *testing.T) {
	fc := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role:    types.ConversationRoleAssistant,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "answer"}},
		}},
		StopReason: types.StopReasonEndTurn,
		Usage:      &types.TokenUsage{InputTokens: aws.Int32(4), OutputTokens: aws.Int32(1), TotalTokens: aws.Int32(5)},
	}}
	p := NewBedrockProvider(fc)

	resp, err := p.CreateCompletion(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "q"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.Len(t, fc.in.System, 1)
	assert.Len(t, fc.in.Messages, 1)
	assert.Equal(t, bedrockDefaultModel, aws.ToString(fc.in.ModelId))
}

func TestBedrockProvider_StructuredExtractsJSON(t *testing.T) {
	fc := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "Here: {\"x\":2} done"}},
		}},
		StopReason: types.StopReasonEndTurn,
	}}
	p := NewBedrockProvider(fc)

	resp, err := p.CreateStructured(context.Background(), StructuredRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":2}`, string(resp.Data))
}

func TestBedrockProvider_ThrottlingIsRetryable(t *testing.T) {
	fc := &fakeConverse{err: &types.ThrottlingException{Message: aws.String("slow")}}
	p := NewBedrockProvider(fc)

	_, err := p.CreateCompletion(context.Background(), CompletionRequest{})
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, ErrorCodeRateLimit, pe.Code)
	assert.True(t, pe.IsRetryable)
	assert.Equal(t, 1, fc.opts.RetryMaxAttempts, "the SDK must not retry behind the caller")
}
