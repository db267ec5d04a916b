package provider

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

func init() {
	RegisterFactory("gemini", func(config map[string]any) (Provider, error) {
		apiKey, _ := config["api_key"].(string)
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY or GOOGLE_API_KEY not set")
		}
		return NewGeminiProvider(apiKey)
	})
}

// NewGeminiProvider creates a provider for the Gemini Developer API
// authenticated with an API key.
func NewGeminiProvider(apiKey string) (*GenAIProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), genAIClientTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GenAIProvider{name: "gemini", client: client}, nil
}
