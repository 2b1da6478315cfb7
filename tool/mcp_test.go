package tool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verifyInput struct {
	Claim string `json:"claim"`
}

func newTestMCPServer(t *testing.T) mcp.Transport {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "facts", Version: "v0.0.1"}, nil)

	mcp.AddTool(server, &mcp.Tool{Name: "verify", Description: "Verify a claim"},
		func(_ context.Context, _ *mcp.CallToolRequest, in verifyInput) (*mcp.CallToolResult, any, error) {
			if in.Claim == "" {
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: "empty claim"}},
				}, nil, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: "verified: " + in.Claim}},
			}, nil, nil
		})

	mcp.AddTool(server, &mcp.Tool{Name: "search", Description: "Search the web"},
		func(_ context.Context, _ *mcp.CallToolRequest, in verifyInput) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: "no results"}}}, nil, nil
		})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := server.Connect(context.Background(), serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	return clientTransport
}

func TestMCPToolset_ListAndCall(t *testing.T) {
	ts := NewMCPToolset(MCPConfig{Name: "facts"}, func(o *MCPOptions) {
		o.Transport = newTestMCPServer(t)
	})
	t.Cleanup(func() { _ = ts.Close() })

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)

	byName := map[string]Tool{}
	for _, tl := range tools {
		byName[tl.Name()] = tl
	}

	verify := byName["verify"]
	require.NotNil(t, verify)
	assert.Equal(t, "Verify a claim", verify.Description())
	assert.Equal(t, "object", verify.Parameters()["type"])

	out, err := verify.Call(newToolContext(), map[string]any{"claim": "sky is blue"})
	require.NoError(t, err)
	assert.Equal(t, "verified: sky is blue", out)

	again, err := ts.Tools(context.Background())
	require.NoError(t, err)
	assert.Len(t, again, 2)
}

func TestMCPToolset_Filter(t *testing.T) {
	ts := NewMCPToolset(MCPConfig{Name: "facts", Tools: []string{"search"}}, func(o *MCPOptions) {
		o.Transport = newTestMCPServer(t)
	})
	t.Cleanup(func() { _ = ts.Close() })

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name())
}

func TestMCPToolset_ToolErrorResult(t *testing.T) {
	ts := NewMCPToolset(MCPConfig{Name: "facts", Tools: []string{"verify"}}, func(o *MCPOptions) {
		o.Transport = newTestMCPServer(t)
	})
	t.Cleanup(func() { _ = ts.Close() })

	tools, err := ts.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)

	_, err = tools[0].Call(newToolContext(), map[string]any{"claim": ""})

	var te *ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, CodeRemote, te.Code)
	assert.Equal(t, "empty claim", te.Message)
}

func TestNewMCPTransport(t *testing.T) {
	_, err := newMCPTransport(MCPConfig{Name: "x", Transport: "sse"})
	assert.Error(t, err)

	_, err = newMCPTransport(MCPConfig{Name: "x", Transport: "carrier-pigeon", URL: "http://x"})
	assert.Error(t, err)

	tr, err := newMCPTransport(MCPConfig{Name: "x", URL: "http://localhost:1/mcp"})
	require.NoError(t, err)
	assert.IsType(t, &mcp.StreamableClientTransport{}, tr)

	tr, err = newMCPTransport(MCPConfig{Name: "x", Transport: "command", Command: "facts-server"})
	require.NoError(t, err)
	assert.IsType(t, &mcp.CommandTransport{}, tr)
}

func TestHeaderRoundTripper(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Api-Key")
	}))
	defer srv.Close()

	client := mcpHTTPClient(MCPConfig{Headers: map[string]string{"X-Api-Key": "secret"}})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, "secret", got)
}
