package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/auditmesh/tool"
)

// File is the optional YAML configuration:
//
//	agent:
//	  name: cerebras
//	  model: openai/llama3.1-8b
//	  base_url: ${CEREBRAS_BASE_URL}
//	auditor:
//	  critic:
//	    url: http://critic-agent-a2a:80
//	mcp_servers:
//	  - name: search
//	    url: http://localhost:8931/mcp
//
// ${VAR} and ${VAR:-default} are expanded before decoding.
type File struct {
	Agent   *AgentConfig   `yaml:"agent"`
	Auditor *AuditorConfig `yaml:"auditor"`
	Server  ServerConfig   `yaml:"server"`

	// MCPServers are attached to the env agent as toolsets.
	MCPServers []tool.MCPConfig `yaml:"mcp_servers"`
}

// ServerConfig configures the A2A HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"public_url"`
}

// LoadFile reads and decodes path, filling unset fields with defaults.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile decodes YAML data.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if f.Agent != nil {
		f.Agent.Normalize()
	}

	if f.Auditor != nil {
		f.Auditor.applyDefaults()
	}

	return &f, nil
}

func (c *AuditorConfig) applyDefaults() {
	d := DefaultAuditorConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Description == "" {
		c.Description = d.Description
	}
	if c.Critic.Name == "" {
		c.Critic.Name = d.Critic.Name
	}
	if c.Critic.URL == "" && c.Critic.AgentCard == "" {
		c.Critic.URL = d.Critic.URL
	}
	if c.Critic.Description == "" {
		c.Critic.Description = d.Critic.Description
	}
	if c.Critic.OutputKey == "" {
		c.Critic.OutputKey = d.Critic.OutputKey
	}
	if c.Reviser != nil {
		if c.Reviser.Name == "" {
			c.Reviser.Name = DefaultReviserName
		}
		if c.Reviser.Description == "" {
			c.Reviser.Description = DefaultReviserDescription
		}
		if c.Reviser.OutputKey == "" {
			c.Reviser.OutputKey = DefaultReviserOutputKey
		}
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
}
