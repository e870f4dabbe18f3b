// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/brunobiangulo/gosynth/llm"
)

// Mock is a thread-safe scripted provider. Replies are returned in order;
// once exhausted the last reply repeats. Err takes precedence. Respond,
// when set, computes the reply from the request instead.
//
//	mock := &llmtest.Mock{Replies: []string{`{"nodes": []}`}}
//	b := planner.NewBuilder(mock)
type Mock struct {
	Replies []string
	Err     error
	Respond func(req llm.ChatRequest) (string, error)

	mu       sync.Mutex
	requests []llm.ChatRequest
}

// Chat implements llm.Provider.
func (m *Mock) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.Respond != nil {
		content, err := m.Respond(req)
		if err != nil {
			return nil, err
		}
		return &llm.ChatResponse{Content: content, Model: "mock"}, nil
	}
	if len(m.Replies) == 0 {
		return &llm.ChatResponse{Model: "mock"}, nil
	}
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	return &llm.ChatResponse{Content: m.Replies[idx], Model: "mock"}, nil
}

// Calls returns how many times Chat was invoked.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *Mock) Requests() []llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Last returns the most recent request.
func (m *Mock) Last() llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return llm.ChatRequest{}
	}
	return m.requests[len(m.requests)-1]
}
