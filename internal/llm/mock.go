package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface.
// It can also be used for dry-run mode.
type MockClient struct {
	Response *Response
	Err      error
	// Func, when set, computes the reply per prompt and overrides Response/Err.
	Func  func(prompt string) (*Response, error)
	Calls []string // records prompts sent

	mu sync.Mutex
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	fn := m.Func
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(prompt)
	}
	return m.Response, m.Err
}

// CallCount returns how many prompts have been sent.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// EchoTail replies with the last n runes of each prompt.
func EchoTail(n int) func(string) (*Response, error) {
	return func(prompt string) (*Response, error) {
		r := []rune(prompt)
		if len(r) > n {
			r = r[len(r)-n:]
		}
		return &Response{Content: string(r), Provider: "mock"}, nil
	}
}
