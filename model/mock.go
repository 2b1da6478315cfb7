package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/auditmesh/core"
)

// MockModel is an in-memory Model for tests and examples. Scripted responses
// are returned in order; once exhausted it answers from the prompt table or
// echoes the last user text.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	script    []Response
	err       error
	requests  []Request
}

// NewMockModel creates a MockModel that reports tool support.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider, SupportsTools: true},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion for an exact prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Script queues final responses returned by successive calls.
func (m *MockModel) Script(responses ...Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// FailWith makes every following call fail with err.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request{}, m.requests...)
}

func (m *MockModel) next(req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if m.err != nil {
		return Response{}, m.err
	}

	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		if r.Content.Role == "" {
			r.Content.Role = core.RoleAssistant
		}
		if r.FinishReason == "" {
			r.FinishReason = "stop"
		}
		return r, nil
	}

	if len(req.Contents) == 0 {
		return Response{}, fmt.Errorf("no contents provided")
	}

	input := req.Contents[len(req.Contents)-1].Text()
	full, ok := m.responses[input]
	if !ok {
		full = "Mock response to: " + input
	}

	return Response{Content: core.NewTextContent(core.RoleAssistant, full), FinishReason: "stop"}, nil
}

// Generate streams the text of the next response rune by rune when
// req.Stream is set, then sends the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		final, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}

		if req.Stream {
			for _, r := range final.Content.Text() {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: core.NewTextContent(core.RoleAssistant, string(r))}:
				}
			}
		}

		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
