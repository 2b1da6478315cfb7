// Package catalog builds the configured agents: the env agent answering
// with a chat model and the LLM auditor delegating to remote peers.
package catalog

import (
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/auditmesh/a2a"
	"github.com/hupe1980/auditmesh/agent"
	"github.com/hupe1980/auditmesh/config"
	"github.com/hupe1980/auditmesh/core"
	"github.com/hupe1980/auditmesh/logging"
	"github.com/hupe1980/auditmesh/metrics"
	"github.com/hupe1980/auditmesh/model"
	anthropicmodel "github.com/hupe1980/auditmesh/model/anthropic"
	openaimodel "github.com/hupe1980/auditmesh/model/openai"
	"github.com/hupe1980/auditmesh/tool"
)

// Options holds shared dependencies for the builders.
type Options struct {
	HTTPClient *http.Client
	Logger     logging.Logger
	Metrics    *metrics.Metrics
	// Toolsets are attached to the env agent, e.g. MCP servers.
	Toolsets []tool.Toolset
}

func options(optFns []func(o *Options)) Options {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// NewModel creates the chat model client selected by cfg.Provider.
func NewModel(cfg config.AgentConfig, optFns ...func(o *Options)) (model.Model, error) {
	opts := options(optFns)

	cfg.Normalize()

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openaimodel.NewModel(func(o *openaimodel.Options) {
			o.Model = cfg.Model
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.Headers = cfg.Headers
			o.HTTPClient = opts.HTTPClient
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(cfg.MaxTokens)
			}
		}), nil
	case config.ProviderAnthropic:
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			o.Model = anthropic.Model(cfg.Model)
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			o.Headers = cfg.Headers
			o.HTTPClient = opts.HTTPClient
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalidConfig, cfg.Provider)
	}
}

// NewEnvAgent builds the env agent described by cfg.
func NewEnvAgent(cfg config.AgentConfig, optFns ...func(o *Options)) (*agent.ModelAgent, error) {
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	llm, err := NewModel(cfg, optFns...)
	if err != nil {
		return nil, err
	}

	return NewEnvAgentWithModel(cfg, llm, optFns...), nil
}

// NewEnvAgentWithModel builds the env agent around an existing model.
func NewEnvAgentWithModel(cfg config.AgentConfig, llm model.Model, optFns ...func(o *Options)) *agent.ModelAgent {
	opts := options(optFns)

	return agent.NewModelAgent(cfg.Name, llm, func(o *agent.ModelAgentOptions) {
		o.Description = cfg.Description
		o.Instruction = agent.NewInstructionFromText(cfg.Instruction)
		o.OutputKey = cfg.OutputKey
		o.GenerationOptions.Temperature = core.Ptr(cfg.Temperature)
		if cfg.MaxTokens > 0 {
			o.GenerationOptions.MaxTokens = core.Ptr(int64(cfg.MaxTokens))
		}
		o.Toolsets = opts.Toolsets
	})
}

// LoadEnvAgent reads the agent config for prefix and builds it.
func LoadEnvAgent(prefix string, optFns ...func(o *Options)) (*agent.ModelAgent, error) {
	cfg, err := config.LoadAgentConfig(prefix)
	if err != nil {
		return nil, err
	}
	return NewEnvAgent(cfg, optFns...)
}

// NewLLMAuditor builds the auditor: a sequential agent running the critic
// proxy and, when configured, the reviser proxy. The reviser receives the
// critic's output as context.
func NewLLMAuditor(cfg config.AuditorConfig, optFns ...func(o *Options)) (*agent.SequentialAgent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := options(optFns)

	var (
		stages      []core.Agent
		contextKeys []string
	)

	for _, stage := range cfg.Stages() {
		keys := append([]string(nil), contextKeys...)

		proxy, err := a2a.NewProxyAgentFromConfig(stage, func(o *a2a.ProxyOptions) {
			o.Headers = cfg.Headers
			o.Timeout = cfg.Timeout
			o.Streaming = cfg.Streaming
			o.Retries = cfg.Retries
			o.ContextKeys = keys
			o.HTTPClient = opts.HTTPClient
			o.Metrics = opts.Metrics
			o.Logger = opts.Logger
		})
		if err != nil {
			return nil, fmt.Errorf("auditor %s: %w", cfg.Name, err)
		}

		stages = append(stages, proxy)

		if stage.OutputKey != "" {
			contextKeys = append(contextKeys, stage.OutputKey)
		}
	}

	return agent.NewSequentialAgent(cfg.Name, cfg.Description, stages...), nil
}

// LoadLLMAuditor reads the auditor config from the environment and builds it.
func LoadLLMAuditor(optFns ...func(o *Options)) (*agent.SequentialAgent, error) {
	cfg, err := config.LoadAuditorConfig()
	if err != nil {
		return nil, err
	}
	return NewLLMAuditor(cfg, optFns...)
}
