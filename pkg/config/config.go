package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aixgo-dev/recall/internal/logging"
	"github.com/aixgo-dev/recall/pkg/session"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// maxConfigSize caps the config file read.
const maxConfigSize = 1 << 20

// Config represents the application configuration
type Config struct {
	LLM             LLMConfig      `yaml:"llm"`
	Memory          MemoryConfig   `yaml:"memory"`
	Session         session.Config `yaml:"session"`
	Log             logging.Config `yaml:"log"`
	ConversationLog ConvLogConfig  `yaml:"conversation_log"`
	Metrics         MetricsConfig  `yaml:"metrics"`
}

// LLMConfig selects and tunes the language model provider
type LLMConfig struct {
	Provider    string        `yaml:"provider" validate:"required,oneof=gemini vertexai openai bedrock mock"`
	Model       string        `yaml:"model" validate:"required"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	ProjectID   string        `yaml:"project_id"`
	Location    string        `yaml:"location"`
	Region      string        `yaml:"region"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	// RateLimit is calls per second across the process; 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// MemoryConfig holds the summarization policy
type MemoryConfig struct {
	TokenThreshold     int    `yaml:"token_threshold" validate:"gt=0"`
	WindowSize         int    `yaml:"window_size" validate:"gt=0"`
	KeepRecent         int    `yaml:"keep_recent" validate:"gt=0,ltefield=WindowSize"`
	DegradedStateLimit int    `yaml:"degraded_state_limit" validate:"gt=3"`
	FoldPolicy         string `yaml:"fold_policy" validate:"oneof=carry_forward replace_informed"`
	// ExactTokenCount counts with the provider's tokenizer when it has one.
	ExactTokenCount bool `yaml:"exact_token_count"`
	// SessionIdleTTL evicts idle sessions from memory; 0 keeps them.
	SessionIdleTTL time.Duration `yaml:"session_idle_ttl" validate:"gte=0"`
}

// ConvLogConfig controls the JSONL conversation log
type ConvLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// MetricsConfig controls the metrics and health server
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "gemini",
			Model:       "gemini-2.0-flash",
			Timeout:     30 * time.Second,
			Temperature: 0.3,
		},
		Memory: MemoryConfig{
			TokenThreshold:     1000,
			WindowSize:         20,
			KeepRecent:         5,
			DegradedStateLimit: 1000,
			FoldPolicy:         "carry_forward",
		},
		Session: session.DefaultConfig(),
		Log:     logging.DefaultConfig(),
		ConversationLog: ConvLogConfig{
			Enabled: true,
			Path:    "conversation.jsonl",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9090",
		},
	}
}

// LoadConfig loads configuration from a YAML file over the defaults. An
// empty path yields the defaults. Environment fallbacks are applied and
// the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if info.Size() > maxConfigSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
		}

		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied config path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills unset secrets and endpoints from the environment
func (c *Config) ApplyEnv() {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "gemini":
			c.LLM.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		case "openai":
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.LLM.ProjectID == "" {
		c.LLM.ProjectID = firstEnv("GOOGLE_CLOUD_PROJECT", "GCP_PROJECT")
	}
	if c.LLM.Region == "" {
		c.LLM.Region = os.Getenv("AWS_REGION")
	}
	if c.Session.Redis.Addr == "" {
		c.Session.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if c.Session.Firestore.ProjectID == "" {
		c.Session.Firestore.ProjectID = c.LLM.ProjectID
	}
	if c.Session.Firestore.CredentialsFile == "" {
		c.Session.Firestore.CredentialsFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Session.Store == "redis" && c.Session.Redis.Addr == "" {
		return errors.New("invalid config: session.redis.addr is required for the redis store")
	}
	if c.Session.Store == "firestore" && c.Session.Firestore.ProjectID == "" {
		return errors.New("invalid config: session.firestore.project_id is required for the firestore store")
	}
	return nil
}

// ProviderConfig returns the settings passed to the provider factory
func (c *Config) ProviderConfig() map[string]any {
	m := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set("api_key", c.LLM.APIKey)
	set("base_url", c.LLM.BaseURL)
	set("project_id", c.LLM.ProjectID)
	set("location", c.LLM.Location)
	set("region", c.LLM.Region)
	return m
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
