package provider

import (
	"context"
	"encoding/json"
	"sync"
)

// MockProvider is a scripted provider for tests. Completion and structured
// calls each consume their own queue; an exhausted queue yields a default.
type MockProvider struct {
	name string

	mu         sync.Mutex
	completion []mockResult
	structured []mockResult

	// Track calls
	CompletionCalls []CompletionRequest
	StructuredCalls []StructuredRequest
}

type mockResult struct {
	content string
	err     error
	wait    bool
}

// NewMockProvider creates a new mock provider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

// Name implements Provider
func (m *MockProvider) Name() string {
	return m.name
}

// AddCompletion queues a text response
func (m *MockProvider) AddCompletion(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completion = append(m.completion, mockResult{content: content})
	return m
}

// AddCompletionError queues a completion failure
func (m *MockProvider) AddCompletionError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completion = append(m.completion, mockResult{err: err})
	return m
}

// AddStructured queues a raw structured response body
func (m *MockProvider) AddStructured(raw string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structured = append(m.structured, mockResult{content: raw})
	return m
}

// AddStructuredValue queues v marshalled as JSON
func (m *MockProvider) AddStructuredValue(v any) *MockProvider {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return m.AddStructured(string(data))
}

// AddStructuredError queues a structured failure
func (m *MockProvider) AddStructuredError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structured = append(m.structured, mockResult{err: err})
	return m
}

// AddStructuredHang queues a structured call that blocks until its
// context is done.
func (m *MockProvider) AddStructuredHang() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structured = append(m.structured, mockResult{wait: true})
	return m
}

// AddCompletionHang queues a completion that blocks until its context is done.
func (m *MockProvider) AddCompletionHang() *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completion = append(m.completion, mockResult{wait: true})
	return m
}

// Pending reports how many scripted results have not been consumed.
func (m *MockProvider) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completion) + len(m.structured)
}

// CreateCompletion implements Provider
func (m *MockProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.CompletionCalls = append(m.CompletionCalls, request)
	res, ok := pop(&m.completion)
	m.mu.Unlock()

	if !ok {
		res = mockResult{content: "Mock response"}
	}
	if res.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	return &CompletionResponse{
		Content:      res.content,
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// CreateStructured implements Provider
func (m *MockProvider) CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error) {
	m.mu.Lock()
	m.StructuredCalls = append(m.StructuredCalls, request)
	res, ok := pop(&m.structured)
	m.mu.Unlock()

	if !ok {
		res = mockResult{content: "{}"}
	}
	if res.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	return &StructuredResponse{
		Data: json.RawMessage(res.content),
		CompletionResponse: CompletionResponse{
			Content:      res.content,
			FinishReason: "stop",
			Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		},
	}, nil
}

// Reset clears queued results and recorded calls
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completion = nil
	m.structured = nil
	m.CompletionCalls = nil
	m.StructuredCalls = nil
}

func pop(q *[]mockResult) (mockResult, bool) {
	if len(*q) == 0 {
		return mockResult{}, false
	}
	res := (*q)[0]
	*q = (*q)[1:]
	return res, true
}
