package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface.
// When Respond is set it decides each answer; otherwise Response/Err are returned.
type MockClient struct {
	Response *Response
	Err      error
	Respond  func(Request) (*Response, error)

	mu    sync.Mutex
	calls []Request
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Respond != nil {
		return m.Respond(req)
	}
	return m.Response, m.Err
}

// Calls returns a copy of every request received so far.
func (m *MockClient) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
