package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ClaudeCLI calls the Claude CLI (`claude -p`) as a subprocess. The CLI takes
// a single prompt, so the conversation is flattened into a labelled transcript.
type ClaudeCLI struct {
	model string
	bin   string
}

// NewClaudeCLI creates a new Claude CLI client.
func NewClaudeCLI(model string) *ClaudeCLI {
	return &ClaudeCLI{model: model, bin: "claude"}
}

// Complete pipes the flattened request to the CLI and returns stdout.
func (c *ClaudeCLI) Complete(ctx context.Context, req Request) (*Response, error) {
	cmd := exec.CommandContext(ctx, c.bin, "-p", "--model", c.model, "--max-turns", "1")
	cmd.Stdin = strings.NewReader(Flatten(req))
	cmd.Env = filterEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("claude cli: %w (stderr: %s)", err, stderr.String())
	}

	return &Response{
		Content:  strings.TrimSpace(stdout.String()),
		Provider: "claude-cli",
	}, nil
}

// Flatten renders a request as one prompt: system text first, then each turn
// with a role label, ending with an open assistant turn.
func Flatten(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}

// filterEnv removes CLAUDE_* environment variables so the subprocess does not
// inherit the parent's session.
func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !strings.HasPrefix(e, "CLAUDE_") {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
