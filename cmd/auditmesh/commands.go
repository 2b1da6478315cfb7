package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hupe1980/auditmesh"
	"github.com/hupe1980/auditmesh/a2a"
	"github.com/hupe1980/auditmesh/agent"
	"github.com/hupe1980/auditmesh/catalog"
	"github.com/hupe1980/auditmesh/config"
	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/evaluation"
	"github.com/hupe1980/auditmesh/tool"
)

// AskCmd runs the env agent once.
type AskCmd struct {
	Question string        `arg:"" help:"Question to ask."`
	Session  string        `help:"Session id (default: random)."`
	MCPURL   string        `name:"mcp-url" help:"MCP server URL whose tools the agent may call."`
	Timeout  time.Duration `help:"Overall timeout." default:"2m"`
}

func (c *AskCmd) Run(a *app) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	envAgent, err := a.envAgent(c.MCPURL)
	if err != nil {
		return err
	}
	defer func() { _ = envAgent.Close() }()

	mesh := a.mesh()
	mesh.Register(envAgent)

	res, err := mesh.Ask(ctx, sessionID(c.Session), envAgent.Name(), c.Question)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(a.stdout, res.Text())
	return err
}

// AuditCmd sends an answer through the critic and, if configured, the reviser.
type AuditCmd struct {
	Answer   string        `arg:"" help:"LLM answer to audit."`
	Question string        `help:"Question the answer responds to."`
	Session  string        `help:"Session id (default: random)."`
	Timeout  time.Duration `help:"Overall timeout." default:"5m"`
}

func (c *AuditCmd) Run(a *app) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	cfg, err := a.auditorConfig()
	if err != nil {
		return err
	}

	auditor, err := catalog.NewLLMAuditor(cfg, a.catalogOptions)
	if err != nil {
		return err
	}

	mesh := a.mesh()
	mesh.Register(auditor)

	res, err := mesh.Ask(ctx, sessionID(c.Session), auditor.Name(), auditPrompt(c.Question, c.Answer))
	if err != nil {
		return err
	}

	for _, stage := range cfg.Stages() {
		v, ok := res.State[stage.OutputKey]
		if !ok {
			continue
		}
		if _, err := fmt.Fprintf(a.stdout, "[%s]\n%v\n\n", stage.OutputKey, v); err != nil {
			return err
		}
	}

	return nil
}

func auditPrompt(question, answer string) string {
	if question == "" {
		return answer
	}
	return fmt.Sprintf("Question: %s\nAnswer: %s", question, answer)
}

// ServeCmd serves the env agent or the auditor over A2A.
type ServeCmd struct {
	Agent     string `help:"Agent to serve (env, auditor)." enum:"env,auditor" default:"env"`
	Addr      string `help:"Listen address (default :8080)."`
	PublicURL string `name:"public-url" help:"URL advertised in the agent card."`
	MCPURL    string `name:"mcp-url" help:"MCP server URL whose tools the env agent may call."`
}

func (c *ServeCmd) Run(a *app) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var root core.Agent

	switch c.Agent {
	case "auditor":
		cfg, err := a.auditorConfig()
		if err != nil {
			return err
		}
		auditor, err := catalog.NewLLMAuditor(cfg, a.catalogOptions)
		if err != nil {
			return err
		}
		root = auditor
	default:
		envAgent, err := a.envAgent(c.MCPURL)
		if err != nil {
			return err
		}
		defer func() { _ = envAgent.Close() }()
		root = envAgent
	}

	addr := firstNonEmpty(c.Addr, a.file.Server.Addr, ":8080")
	publicURL := firstNonEmpty(c.PublicURL, a.file.Server.PublicURL, "http://localhost"+portOf(addr))

	mesh := a.mesh()
	mesh.Register(root)

	return mesh.Serve(ctx, root.Name(), addr, func(o *a2a.ServerOptions) {
		o.PublicURL = publicURL
	})
}

// EvaluateCmd grades an answer with the env agent's model as judge.
type EvaluateCmd struct {
	Question  string        `required:"" help:"Question that was asked."`
	Answer    string        `required:"" help:"Answer to grade."`
	Reference string        `required:"" help:"Reference answer."`
	Timeout   time.Duration `help:"Overall timeout." default:"1m"`
}

func (c *EvaluateCmd) Run(a *app) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	cfg, err := a.agentConfig()
	if err != nil {
		return err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	llm, err := catalog.NewModel(cfg, a.catalogOptions)
	if err != nil {
		return err
	}

	judge := evaluation.NewLLMJudge(llm, func(o *evaluation.JudgeOptions) { o.Logger = a.logger })

	res, err := judge.EvaluateAnswer(ctx, c.Question, c.Answer, c.Reference)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(res)
}

func (a *app) mesh() *auditmesh.Mesh {
	return auditmesh.New(func(o *auditmesh.Options) {
		o.Logger = a.logger
		o.Metrics = a.metrics
		o.TracerProvider = a.tracerProvider
	})
}

func (a *app) catalogOptions(o *catalog.Options) {
	o.Logger = a.logger
	o.Metrics = a.metrics
}

// agentConfig prefers the config file over the environment.
func (a *app) agentConfig() (config.AgentConfig, error) {
	if a.file.Agent != nil {
		return *a.file.Agent, nil
	}
	return config.LoadAgentConfig(a.cli.Prefix)
}

func (a *app) auditorConfig() (config.AuditorConfig, error) {
	if a.file.Auditor != nil {
		return *a.file.Auditor, nil
	}
	return config.LoadAuditorConfig()
}

func (a *app) envAgent(mcpURL string) (*agent.ModelAgent, error) {
	cfg, err := a.agentConfig()
	if err != nil {
		return nil, err
	}

	var toolsets []tool.Toolset
	for _, srv := range a.file.MCPServers {
		toolsets = append(toolsets, a.mcpToolset(srv))
	}
	if mcpURL != "" {
		toolsets = append(toolsets, a.mcpToolset(tool.MCPConfig{Name: "mcp", URL: mcpURL}))
	}

	return catalog.NewEnvAgent(cfg, a.catalogOptions, func(o *catalog.Options) {
		o.Toolsets = toolsets
	})
}

func (a *app) mcpToolset(cfg tool.MCPConfig) *tool.MCPToolset {
	return tool.NewMCPToolset(cfg, func(o *tool.MCPOptions) { o.Logger = a.logger })
}

func sessionID(id string) string {
	if id != "" {
		return id
	}
	return core.NewID()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// portOf returns the ":port" suffix of a listen address.
func portOf(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ""
}
