package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicAPI = "https://api.anthropic.com/v1/messages"

// Anthropic calls the Anthropic Messages API directly.
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

// NewAnthropic creates a new Anthropic API client. Deadlines come from the
// caller's context.
func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		apiKey:   apiKey,
		model:    model,
		endpoint: anthropicAPI,
		client:   &http.Client{},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

// Complete sends the conversation to the Messages API.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       a.model,
		System:      req.System,
		MaxTokens:   maxTokensOr(req.MaxTokens, 1024),
		Temperature: req.Temperature,
		Messages:    anthropicMessages(req.Messages),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic api status %d: %s", resp.StatusCode, respBody)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var text strings.Builder
	for _, c := range result.Content {
		if c.Type == "" || c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	return &Response{
		Content:    text.String(),
		Provider:   "anthropic",
		TokensUsed: result.Usage.InputTokens + result.Usage.OutputTokens,
	}, nil
}

// anthropicMessages merges consecutive same-role turns and drops a leading
// assistant turn, since the API requires alternation starting with the user.
func anthropicMessages(msgs []Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if len(out) == 0 && m.Role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return out
}

func maxTokensOr(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}
