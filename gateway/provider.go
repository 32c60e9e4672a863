package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one turn of a provider conversation.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is the normalized provider input. Instructions map to the
// provider's system prompt.
type Request struct {
	Instructions string    `json:"instructions,omitempty"`
	Messages     []Message `json:"messages"`
	MaxTokens    int64     `json:"max_tokens,omitempty"`
	Temperature  float64   `json:"temperature,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "anthropic", "openai", "mock", etc.
}

// Provider is the minimal interface a model backend must satisfy. The
// pipeline is strictly request/response; providers that stream internally
// accumulate before returning.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Info returns information about the provider implementation.
	Info() Info
}

// MockProvider is a lightweight in-memory Provider useful for tests and
// examples. Responses are matched by substring of the last user message;
// when several match, the longest (most specific) key wins.
type MockProvider struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	failWith  error
	calls     int
}

// NewMockProvider constructs a MockProvider.
func NewMockProvider(name, provider string) *MockProvider {
	return &MockProvider{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion keyed by a substring of the
// final user message.
func (m *MockProvider) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[match] = response
}

// FailWith makes every subsequent Complete return err. Pass nil to recover.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Calls reports how many Complete invocations were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failWith != nil {
		return "", m.failWith
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	input := req.Messages[len(req.Messages)-1].Content
	var best string
	found := false
	for match := range m.responses {
		if match == "" || !containsFold(input, match) {
			continue
		}
		if !found || len(match) > len(best) || (len(match) == len(best) && match < best) {
			best = match
			found = true
		}
	}
	if found {
		return m.responses[best], nil
	}
	return fmt.Sprintf("Mock response to: %s", input), nil
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
