package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/model"
)

type capturedRequest struct {
	Path   string
	Header http.Header
	Body   map[string]any
}

func newFakeServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) (*httptest.Server, func() []capturedRequest) {
	t.Helper()

	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := map[string]any{}
		_ = json.Unmarshal(raw, &body)

		mu.Lock()
		captured = append(captured, capturedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		mu.Unlock()

		handler(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest{}, captured...)
	}
}

func newTestModel(srv *httptest.Server, fn func(o *Options)) *Model {
	return NewModel(func(o *Options) {
		o.Model = "llama3.1-8b"
		o.BaseURL = srv.URL + "/v1/"
		o.APIKey = "csk-test"
		o.Temperature = 0
		o.Headers = map[string]string{"X-Audit": "1"}
		if fn != nil {
			fn(o)
		}
	})
}

func TestModel_NonStreaming(t *testing.T) {
	srv, captured := newFakeServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"llama3.1-8b",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Yes, it does."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`)
	})

	m := newTestModel(srv, nil)
	seed := int64(42)

	resp, err := model.Collect(context.Background(), m, model.Request{
		Instructions: "You are a fact checker.",
		Contents:     []core.Content{core.NewTextContent(core.RoleUser, "Does Go support MCP?")},
		Options:      model.GenerationOptions{Seed: &seed, JSONMode: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "Yes, it does.", resp.Content.Text())
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 14, resp.Usage.TotalTokens)

	reqs := captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/chat/completions", reqs[0].Path)
	assert.Equal(t, "Bearer csk-test", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "1", reqs[0].Header.Get("X-Audit"))

	body := reqs[0].Body
	assert.Equal(t, "llama3.1-8b", body["model"])
	assert.EqualValues(t, 0, body["temperature"])
	assert.EqualValues(t, 42, body["seed"])
	assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestModel_Streaming(t *testing.T) {
	srv, _ := newFakeServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`,
			`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		} {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	m := newTestModel(srv, nil)

	respCh, errCh := m.Generate(context.Background(), model.Request{
		Contents: []core.Content{core.NewTextContent(core.RoleUser, "hi")},
		Stream:   true,
	})

	var partials []string
	var final model.Response
	for r := range respCh {
		if r.Partial {
			partials = append(partials, r.Content.Text())
			continue
		}
		final = r
	}
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"Hel", "lo"}, partials)
	assert.Equal(t, "Hello", final.Content.Text())
	assert.Equal(t, "stop", final.FinishReason)
}

func TestModel_ToolCalls(t *testing.T) {
	srv, captured := newFakeServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-2","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"","tool_calls":[
				{"id":"call_1","type":"function","function":{"name":"search","arguments":"{\"q\":\"mcp\"}"}}]},
				"finish_reason":"tool_calls"}]}`)
	})

	m := newTestModel(srv, nil)

	resp, err := model.Collect(context.Background(), m, model.Request{
		Contents: []core.Content{
			core.NewTextContent(core.RoleUser, "search"),
			{Role: core.RoleAssistant, Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{ID: "call_0", Name: "search", Arguments: `{}`}}}},
			{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "call_0", Name: "search", Response: map[string]any{"hits": 1}}}}},
		},
		Tools: []model.ToolDefinition{{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        "search",
				Description: "web search",
				Parameters:  map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}},
			},
		}},
	})
	require.NoError(t, err)

	calls := core.Event{Content: &resp.Content}.GetFunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
	assert.JSONEq(t, `{"q":"mcp"}`, calls[0].Arguments)

	body := captured()[0].Body
	messages := body["messages"].([]any)
	require.Len(t, messages, 3)
	toolMsg := messages[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_0", toolMsg["tool_call_id"])
	assert.JSONEq(t, `{"hits":1}`, toolMsg["content"].(string))
	assert.Len(t, body["tools"], 1)
}

func TestModel_DropsToolResponsesWithoutCall(t *testing.T) {
	srv, captured := newFakeServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-3","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`)
	})

	_, err := model.Collect(context.Background(), newTestModel(srv, nil), model.Request{
		Contents: []core.Content{
			{Role: core.RoleTool, Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{ID: "call_1", Name: "search", Response: "42"}}}},
			core.NewTextContent(core.RoleAssistant, "The answer is 42."),
			core.NewTextContent(core.RoleUser, "Are you sure?"),
		},
	})
	require.NoError(t, err)

	messages := captured()[0].Body["messages"].([]any)
	require.Len(t, messages, 2)
	for _, raw := range messages {
		assert.NotEqual(t, "tool", raw.(map[string]any)["role"])
	}
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestModel_APIError(t *testing.T) {
	srv, _ := newFakeServer(t, func(w http.ResponseWriter, _ map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	})

	_, err := model.Collect(context.Background(), newTestModel(srv, nil), model.Request{
		Contents: []core.Content{core.NewTextContent(core.RoleUser, "hi")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai api error")
}

func TestModel_Info(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "llama3.1-8b"; o.APIKey = "x" })
	assert.Equal(t, model.Info{Name: "llama3.1-8b", Provider: "openai", SupportsTools: true}, m.Info())
}
