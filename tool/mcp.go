package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
)

// MCP transport kinds.
const (
	MCPTransportStreamable = "streamable"
	MCPTransportSSE        = "sse"
	MCPTransportCommand    = "command"
)

// MCPConfig describes how to reach an MCP server.
type MCPConfig struct {
	Name string `yaml:"name"`
	// Transport is "streamable" (default), "sse" or "command".
	Transport string            `yaml:"transport"`
	URL       string            `yaml:"url"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       []string          `yaml:"env"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
	// Tools restricts the exposed tools by name. Empty exposes all.
	Tools []string `yaml:"tools"`
}

// MCPOptions tune an MCPToolset.
type MCPOptions struct {
	Logger logging.Logger
	// Transport overrides the transport derived from the config.
	Transport mcp.Transport
}

// MCPToolset exposes the tools of one MCP server. It connects on first
// use and lists the tools once.
type MCPToolset struct {
	cfg       MCPConfig
	client    *mcp.Client
	transport mcp.Transport
	logger    logging.Logger

	mu      sync.Mutex
	session *mcp.ClientSession
	tools   []Tool
}

var _ Toolset = (*MCPToolset)(nil)

// NewMCPToolset creates a lazily connecting toolset.
func NewMCPToolset(cfg MCPConfig, optFns ...func(o *MCPOptions)) *MCPToolset {
	opts := MCPOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if cfg.Name == "" {
		cfg.Name = "mcp"
	}

	return &MCPToolset{
		cfg:       cfg,
		client:    mcp.NewClient(&mcp.Implementation{Name: "auditmesh", Version: "v1.0.0"}, nil),
		transport: opts.Transport,
		logger:    opts.Logger,
	}
}

// Name returns the configured toolset name.
func (s *MCPToolset) Name() string { return s.cfg.Name }

// Tools connects if needed and returns the filtered tools.
func (s *MCPToolset) Tools(ctx context.Context) ([]Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tools != nil {
		return s.tools, nil
	}

	sess, err := s.connectLocked(ctx)
	if err != nil {
		return nil, err
	}

	res, err := sess.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("mcp %s: list tools: %w", s.cfg.Name, err)
	}

	allowed := map[string]bool{}
	for _, name := range s.cfg.Tools {
		allowed[name] = true
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		if len(allowed) > 0 && !allowed[t.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			set:         s,
			name:        t.Name,
			description: t.Description,
			parameters:  schemaMap(t.InputSchema),
		})
	}

	s.logger.Info("mcp.tools.loaded", "toolset", s.cfg.Name, "count", len(tools), "available", len(res.Tools))
	s.tools = tools

	return tools, nil
}

// Close ends the MCP session.
func (s *MCPToolset) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}

	err := s.session.Close()
	s.session = nil
	s.tools = nil

	return err
}

func (s *MCPToolset) connectLocked(ctx context.Context) (*mcp.ClientSession, error) {
	if s.session != nil {
		return s.session, nil
	}

	transport := s.transport
	if transport == nil {
		t, err := newMCPTransport(s.cfg)
		if err != nil {
			return nil, err
		}
		transport = t
	}

	sess, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcp %s: connect: %w", s.cfg.Name, err)
	}

	s.session = sess

	return sess, nil
}

func (s *MCPToolset) call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	sess, err := s.connectLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	return sess.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
}

func newMCPTransport(cfg MCPConfig) (mcp.Transport, error) {
	switch strings.ToLower(cfg.Transport) {
	case MCPTransportCommand:
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp %s: command is required", cfg.Name)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = append(os.Environ(), cfg.Env...)
		return &mcp.CommandTransport{Command: cmd}, nil
	case MCPTransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp %s: url is required", cfg.Name)
		}
		return &mcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: mcpHTTPClient(cfg)}, nil
	case "", MCPTransportStreamable:
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp %s: url is required", cfg.Name)
		}
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: mcpHTTPClient(cfg)}, nil
	default:
		return nil, fmt.Errorf("mcp %s: unknown transport %q", cfg.Name, cfg.Transport)
	}
}

func mcpHTTPClient(cfg MCPConfig) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport
	if len(cfg.Headers) > 0 {
		rt = &headerRoundTripper{base: rt, headers: cfg.Headers}
	}
	return &http.Client{Transport: rt}
}

// headerRoundTripper sets fixed headers on every request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, value := range rt.headers {
		req.Header.Set(key, value)
	}
	return rt.base.RoundTrip(req)
}

// schemaMap converts whatever schema representation the SDK returns into a
// plain JSON object map.
func schemaMap(schema any) map[string]any {
	out := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema == nil {
		return out
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return out
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil || m == nil {
		return out
	}

	return m
}

type mcpTool struct {
	set         *MCPToolset
	name        string
	description string
	parameters  map[string]any
}

func (t *mcpTool) Name() string               { return t.name }
func (t *mcpTool) Description() string        { return t.description }
func (t *mcpTool) Parameters() map[string]any { return t.parameters }

// Call forwards the call to the MCP server. Structured content is returned
// when present, otherwise the joined text content.
func (t *mcpTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()

	res, err := t.set.call(toolCtx.Context(), t.name, args)
	if err != nil {
		toolCtx.Logger().Error("mcp.call.error", "tool", t.name, "error", err.Error())
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeRemote}
	}

	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if res.IsError {
		return nil, &ToolError{Tool: t.name, Message: text, Code: CodeRemote}
	}

	toolCtx.Logger().Info("mcp.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	if res.StructuredContent != nil {
		return res.StructuredContent, nil
	}

	return text, nil
}
