// Package tokens measures the recent conversation window and decides when
// it has grown large enough to summarize.
package tokens

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Counter counts the tokens in a piece of text.
type Counter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// CharCounter approximates tokens as one per four bytes. It never fails.
type CharCounter struct{}

// CountTokens implements Counter
func (CharCounter) CountTokens(_ context.Context, text string) (int, error) {
	return Estimate(text), nil
}

// Estimate returns the character-based approximation for text.
func Estimate(text string) int {
	return len(text) / 4
}

// TokenCountError is returned by counters that could not produce a count.
type TokenCountError struct {
	Counter string
	Err     error
}

func (e *TokenCountError) Error() string {
	return fmt.Sprintf("%s: count tokens: %v", e.Counter, e.Err)
}

func (e *TokenCountError) Unwrap() error {
	return e.Err
}

// GenAICounter uses the model's own tokenizer through the Gen AI SDK.
type GenAICounter struct {
	models *genai.Models
	model  string
}

// NewGenAICounter creates a counter for model using client.
func NewGenAICounter(client *genai.Client, model string) *GenAICounter {
	return &GenAICounter{models: client.Models, model: model}
}

// CountTokens implements Counter
func (c *GenAICounter) CountTokens(ctx context.Context, text string) (int, error) {
	resp, err := c.models.CountTokens(ctx, c.model, genai.Text(text), nil)
	if err != nil {
		return 0, &TokenCountError{Counter: "genai", Err: err}
	}
	return int(resp.TotalTokens), nil
}
