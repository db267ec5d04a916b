package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aixgo-dev/recall/internal/llm/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Answer string   `json:"answer" validate:"required,notblank"`
	Ok     *bool    `json:"ok" validate:"required"`
	Notes  []string `json:"notes"`
}

func TestGenerateStructured(t *testing.T) {
	tests := []struct {
		name       string
		script     func(m *provider.MockProvider)
		wantErr    bool
		recover    bool
		wantAnswer string
	}{
		{
			name:       "valid",
			script:     func(m *provider.MockProvider) { m.AddStructured(`{"answer":"yes","ok":true}`) },
			wantAnswer: "yes",
		},
		{
			name:       "wrapped in prose",
			script:     func(m *provider.MockProvider) { m.AddStructured("Here you go: {\"answer\":\"x\",\"ok\":false} enjoy") },
			wantAnswer: "x",
		},
		{
			name:    "missing required field",
			script:  func(m *provider.MockProvider) { m.AddStructured(`{"ok":true}`) },
			wantErr: true,
			recover: true,
		},
		{
			name:    "missing required bool",
			script:  func(m *provider.MockProvider) { m.AddStructured(`{"answer":"a"}`) },
			wantErr: true,
			recover: true,
		},
		{
			name:    "blank required string",
			script:  func(m *provider.MockProvider) { m.AddStructured(`{"answer":"  \n ","ok":true}`) },
			wantErr: true,
			recover: true,
		},
		{
			name:    "wrong type",
			script:  func(m *provider.MockProvider) { m.AddStructured(`{"answer":1,"ok":true}`) },
			wantErr: true,
			recover: true,
		},
		{
			name:    "not json",
			script:  func(m *provider.MockProvider) { m.AddStructured(`sorry, I cannot`) },
			wantErr: true,
			recover: true,
		},
		{
			name: "provider auth failure",
			script: func(m *provider.MockProvider) {
				m.AddStructuredError(provider.NewProviderError("mock", provider.ErrorCodeAuthentication, "bad key", nil))
			},
			wantErr: true,
			recover: false,
		},
		{
			name:    "unclassified transport error",
			script:  func(m *provider.MockProvider) { m.AddStructuredError(errors.New("connection reset")) },
			wantErr: true,
			recover: false,
		},
		{
			name: "provider timeout code",
			script: func(m *provider.MockProvider) {
				m.AddStructuredError(provider.NewProviderError("mock", provider.ErrorCodeTimeout, "deadline", nil))
			},
			wantErr: true,
			recover: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := provider.NewMockProvider("mock")
			tt.script(m)
			c := NewClient(m, WithTimeout(time.Second))

			var out sample
			err := c.GenerateStructured(context.Background(), Request{Call: "test", Prompt: "p"}, &out)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.recover, IsRecoverable(err))
				if !tt.recover {
					var pe *ProviderError
					assert.True(t, errors.As(err, &pe))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAnswer, out.Answer)
		})
	}
}

func TestGenerateStructured_SendsSchema(t *testing.T) {
	m := provider.NewMockProvider("mock").AddStructured(`{"answer":"a","ok":true}`)
	c := NewClient(m, WithModel("m1"), WithTemperature(0))

	var out sample
	require.NoError(t, c.GenerateStructured(context.Background(), Request{Call: "x", System: "sys", Prompt: "p"}, &out))

	require.Len(t, m.StructuredCalls, 1)
	call := m.StructuredCalls[0]
	assert.Contains(t, string(call.ResponseSchema), `"answer"`)
	assert.Equal(t, "m1", call.Model)
	require.Len(t, call.Messages, 2)
	assert.Equal(t, "system", call.Messages[0].Role)
}

func TestTimeoutIsRecoverable(t *testing.T) {
	m := provider.NewMockProvider("mock").AddStructuredHang().AddCompletionHang()
	c := NewClient(m, WithTimeout(20*time.Millisecond))

	var out sample
	err := c.GenerateStructured(context.Background(), Request{Call: "understand"}, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, IsRecoverable(err))

	_, err = c.GenerateText(context.Background(), Request{Call: "respond"})
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestCallerCancellationIsNotTimeout(t *testing.T) {
	m := provider.NewMockProvider("mock").AddStructuredHang()
	c := NewClient(m, WithTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	var out sample
	err := c.GenerateStructured(ctx, Request{Call: "summarize"}, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsRecoverable(err))
}

func TestGenerateText(t *testing.T) {
	m := provider.NewMockProvider("mock").AddCompletion("  hello there \n").AddCompletion("   ")
	c := NewClient(m)

	text, err := c.GenerateText(context.Background(), Request{Call: "respond", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	_, err = c.GenerateText(context.Background(), Request{Call: "respond", Prompt: "hi"})
	var pe *ProviderError
	assert.True(t, errors.As(err, &pe), "empty output is a provider failure")
}

func TestRateLimit(t *testing.T) {
	m := provider.NewMockProvider("mock")
	c := NewClient(m, WithRateLimit(1, 1), WithTimeout(50*time.Millisecond))

	_, err := c.GenerateText(context.Background(), Request{Call: "respond"})
	require.NoError(t, err)

	_, err = c.GenerateText(context.Background(), Request{Call: "respond"})
	assert.True(t, errors.Is(err, ErrTimeout), "second call cannot get a token within the timeout")
}
