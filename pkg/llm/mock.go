package llm

import (
	"context"
	"errors"
	"sync"
)

// MockProvider is a trivial provider returning a fixed response or error.
type MockProvider struct {
	Response *ChatResponse
	Err      error
}

// Chat returns the configured response or error.
func (m *MockProvider) Chat(_ context.Context, _ ChatRequest) (*ChatResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response != nil {
		return m.Response, nil
	}
	return &ChatResponse{Content: "ok"}, nil
}

// ScriptedResponse is one entry in a ScriptedProvider queue. It may carry
// plain content, simulated tool calls, or an error.
type ScriptedResponse struct {
	Content   string
	ToolCalls []ToolCall
	Err       error
}

// ScriptedProvider returns a pre-defined sequence of responses. Useful for
// testing multi-turn interactions such as a full reasoning loop. It also
// captures every request it receives.
type ScriptedProvider struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	requests  []ChatRequest
}

// NewScriptedProvider creates a ScriptedProvider with an initial queue.
func NewScriptedProvider(responses ...ScriptedResponse) *ScriptedProvider {
	return &ScriptedProvider{responses: responses}
}

// Chat pops the next scripted response.
func (s *ScriptedProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)

	if len(s.responses) == 0 {
		return nil, errors.New("scripted provider: no more responses available")
	}
	next := s.responses[0]
	s.responses = s.responses[1:]

	if next.Err != nil {
		return nil, next.Err
	}
	return &ChatResponse{
		Content:   next.Content,
		ToolCalls: next.ToolCalls,
		Usage:     Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}, nil
}

// AddContent appends a plain-content response to the queue.
func (s *ScriptedProvider) AddContent(content string) *ScriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{Content: content})
	return s
}

// AddToolCall appends a response that calls one tool with JSON arguments.
func (s *ScriptedProvider) AddToolCall(name, arguments string) *ScriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{
		ToolCalls: []ToolCall{{
			ID:       "call-" + name,
			Type:     ToolTypeFunction,
			Function: FunctionCall{Name: name, Arguments: arguments},
		}},
	})
	return s
}

// AddError appends an error response to the queue.
func (s *ScriptedProvider) AddError(err error) *ScriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, ScriptedResponse{Err: err})
	return s
}

// Requests returns a copy of all captured requests.
func (s *ScriptedProvider) Requests() []ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// CallCount returns how many times Chat has been invoked.
func (s *ScriptedProvider) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
