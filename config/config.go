package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

const (
	// DefaultPrefix is the variable prefix of the env agent.
	DefaultPrefix = "CEREBRAS"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultAuditorName        = "llm_auditor"
	DefaultAuditorDescription = "Evaluates LLM-generated answers, verifies actual accuracy using the web, and refines the response to ensure alignment with real-world knowledge."
	DefaultCriticName         = "critic"
	DefaultCriticURL          = "http://critic-agent-a2a:80"
	DefaultCriticDescription  = "Evaluates LLM responses for accuracy via A2A"
	DefaultCriticOutputKey    = "critic_result"
	DefaultReviserName        = "reviser"
	DefaultReviserDescription = "Revises content based on critic feedback via A2A"
	DefaultReviserOutputKey   = "final_result"
	DefaultA2ATimeout         = 30 * time.Second
)

var knownProviders = map[string]bool{ProviderOpenAI: true, ProviderAnthropic: true}

// AgentConfig describes an LLM backed agent.
type AgentConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Instruction string            `yaml:"instruction"`
	Provider    string            `yaml:"provider"`
	Model       string            `yaml:"model"`
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"`
	Temperature float64           `yaml:"temperature"`
	MaxTokens   int               `yaml:"max_tokens"`
	OutputKey   string            `yaml:"output_key"`
	Headers     map[string]string `yaml:"headers"`
}

// LoadAgentConfig reads <prefix>_* variables. An empty prefix means DefaultPrefix.
func LoadAgentConfig(prefix string) (AgentConfig, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	key := func(s string) string { return prefix + "_" + s }

	cfg := AgentConfig{
		Name:        envString(key("AGENT_NAME"), ""),
		Description: envString(key("AGENT_DESCRIPTION"), ""),
		Instruction: envString(key("AGENT_INSTRUCTION"), ""),
		Provider:    envString(key("PROVIDER"), ""),
		Model:       envString(key("CHAT_MODEL"), ""),
		BaseURL:     envString(key("BASE_URL"), ""),
		APIKey:      envString(key("API_KEY"), ""),
		OutputKey:   envString(key("OUTPUT_KEY"), ""),
		Headers:     envHeaders(key("HEADERS")),
	}

	var errs []error
	var err error

	if cfg.Temperature, err = envFloat(key("TEMPERATURE"), 0.0); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxTokens, err = envInt(key("MAX_TOKENS"), 0); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	cfg.Normalize()

	return cfg, nil
}

// Normalize splits a "provider/model" model name and defaults the provider.
// Model names whose prefix is not a known provider are kept verbatim.
func (c *AgentConfig) Normalize() {
	if p, m, ok := strings.Cut(c.Model, "/"); ok && knownProviders[strings.ToLower(p)] {
		if c.Provider == "" {
			c.Provider = strings.ToLower(p)
		}
		c.Model = m
	}
	if c.Provider == "" {
		c.Provider = ProviderOpenAI
	}
	c.Provider = strings.ToLower(c.Provider)
}

// Validate reports every problem at once.
func (c AgentConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("agent name is required"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("chat model is required"))
	}
	if c.Provider != "" && !knownProviders[c.Provider] {
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.BaseURL != "" {
		if err := validateURL(c.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("base url: %w", err))
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %v out of range [0,2]", c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, errors.New("max tokens must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// RemoteAgentConfig describes an A2A peer wrapped by a proxy agent.
type RemoteAgentConfig struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Description string `yaml:"description"`
	OutputKey   string `yaml:"output_key"`
	// AgentCard optionally points at a local agent card JSON file used
	// instead of fetching the card from URL.
	AgentCard string `yaml:"agent_card"`
}

// AuditorConfig describes the sequential auditor pipeline.
type AuditorConfig struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Critic      RemoteAgentConfig  `yaml:"critic"`
	Reviser     *RemoteAgentConfig `yaml:"reviser"`
	Timeout     time.Duration      `yaml:"timeout"`
	Streaming   bool               `yaml:"streaming"`
	Retries     int                `yaml:"retries"`
	Headers     map[string]string  `yaml:"headers"`
}

// DefaultAuditorConfig returns the auditor with only the critic stage.
func DefaultAuditorConfig() AuditorConfig {
	return AuditorConfig{
		Name:        DefaultAuditorName,
		Description: DefaultAuditorDescription,
		Critic: RemoteAgentConfig{
			Name:        DefaultCriticName,
			URL:         DefaultCriticURL,
			Description: DefaultCriticDescription,
			OutputKey:   DefaultCriticOutputKey,
		},
		Timeout: DefaultA2ATimeout,
	}
}

// LoadAuditorConfig reads AUDITOR_* variables:
//
//	AUDITOR_NAME, AUDITOR_DESCRIPTION
//	AUDITOR_CRITIC_URL, AUDITOR_CRITIC_OUTPUT_KEY, AUDITOR_CRITIC_AGENT_CARD
//	AUDITOR_REVISER_URL (enables the reviser), AUDITOR_REVISER_OUTPUT_KEY
//	AUDITOR_A2A_TIMEOUT, AUDITOR_STREAMING, AUDITOR_RETRIES, AUDITOR_HEADERS
func LoadAuditorConfig() (AuditorConfig, error) {
	cfg := DefaultAuditorConfig()
	cfg.Name = envString("AUDITOR_NAME", cfg.Name)
	cfg.Description = envString("AUDITOR_DESCRIPTION", cfg.Description)
	cfg.Critic.URL = envString("AUDITOR_CRITIC_URL", cfg.Critic.URL)
	cfg.Critic.OutputKey = envString("AUDITOR_CRITIC_OUTPUT_KEY", cfg.Critic.OutputKey)
	cfg.Critic.AgentCard = envString("AUDITOR_CRITIC_AGENT_CARD", "")
	cfg.Headers = envHeaders("AUDITOR_HEADERS")

	if u := envString("AUDITOR_REVISER_URL", ""); u != "" {
		cfg.Reviser = &RemoteAgentConfig{
			Name:        DefaultReviserName,
			URL:         u,
			Description: DefaultReviserDescription,
			OutputKey:   envString("AUDITOR_REVISER_OUTPUT_KEY", DefaultReviserOutputKey),
		}
	}

	var errs []error
	var err error

	if cfg.Timeout, err = envDuration("AUDITOR_A2A_TIMEOUT", cfg.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Streaming, err = envBool("AUDITOR_STREAMING", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.Retries, err = envInt("AUDITOR_RETRIES", 0); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return cfg, nil
}

// Stages returns the remote agents in execution order.
func (c AuditorConfig) Stages() []RemoteAgentConfig {
	stages := []RemoteAgentConfig{c.Critic}
	if c.Reviser != nil {
		stages = append(stages, *c.Reviser)
	}
	return stages
}

// Validate reports every problem at once.
func (c AuditorConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("auditor name is required"))
	}
	seen := map[string]bool{}
	for _, s := range c.Stages() {
		if s.Name == "" {
			errs = append(errs, errors.New("remote agent name is required"))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate remote agent %q", s.Name))
		}
		seen[s.Name] = true
		if s.URL == "" && s.AgentCard == "" {
			errs = append(errs, fmt.Errorf("remote agent %q: url or agent card is required", s.Name))
		} else if s.URL != "" {
			if err := validateURL(s.URL); err != nil {
				errs = append(errs, fmt.Errorf("remote agent %q: %w", s.Name, err))
			}
		}
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.Retries < 0 {
		errs = append(errs, errors.New("retries must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
