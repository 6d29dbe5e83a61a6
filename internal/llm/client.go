package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/lazypower/persona/internal/config"
)

// Role is the speaker of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn sent to the backend.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion call. System carries the persona or task
// instructions; Messages is the conversation that follows it.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Client is the interface for LLM providers. Implementations make exactly
// one attempt per call; retrying is the caller's decision.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// ErrNoBackend is returned by the offline client.
var ErrNoBackend = errors.New("no llm backend configured")

// Offline is a Client that always fails, so every caller takes its fallback path.
type Offline struct{}

// Complete always returns ErrNoBackend.
func (Offline) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrNoBackend
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "claude-cli":
		model := cfg.Model
		if model == "" {
			model = "haiku"
		}
		return NewClaudeCLI(model), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires PERSONA_LLM_ANTHROPIC_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}
		return NewAnthropic(cfg.AnthropicKey, model), nil
	case "openai":
		if cfg.OpenAIKey == "" && cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("openai provider requires an api key or a compatible base url")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, model), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.OllamaModel
		if model == "" {
			model = "llama3.2"
		}
		return NewOllama(url, model), nil
	case "none":
		return Offline{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}
