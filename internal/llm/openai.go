package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, vLLM, LM Studio, llama.cpp server, ...).
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a client. An empty baseURL means api.openai.com.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

// Complete performs one chat completion.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   maxTokensOr(req.MaxTokens, 1024),
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api: empty chat response")
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Provider:   "openai",
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
