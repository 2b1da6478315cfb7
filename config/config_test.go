package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setCerebrasEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CEREBRAS_CHAT_MODEL", "llama3.1-8b")
	t.Setenv("CEREBRAS_BASE_URL", "https://api.cerebras.ai/v1")
	t.Setenv("CEREBRAS_API_KEY", "csk-test")
	t.Setenv("CEREBRAS_AGENT_NAME", "cerebras_agent")
	t.Setenv("CEREBRAS_AGENT_DESCRIPTION", "  Answers questions quickly.  ")
	t.Setenv("CEREBRAS_AGENT_INSTRUCTION", "You are helpful.\nBe brief.")
}

func TestLoadAgentConfig_PassThrough(t *testing.T) {
	setCerebrasEnv(t)

	cfg, err := LoadAgentConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "cerebras_agent", cfg.Name)
	assert.Equal(t, "llama3.1-8b", cfg.Model)
	assert.Equal(t, "https://api.cerebras.ai/v1", cfg.BaseURL)
	assert.Equal(t, "csk-test", cfg.APIKey)
	assert.Equal(t, "  Answers questions quickly.  ", cfg.Description)
	assert.Equal(t, "You are helpful.\nBe brief.", cfg.Instruction)
	assert.Equal(t, 0.0, cfg.Temperature)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
}

func TestLoadAgentConfig_ProviderPrefix(t *testing.T) {
	setCerebrasEnv(t)

	tests := []struct {
		model        string
		wantProvider string
		wantModel    string
	}{
		{"openai/llama3.1-8b", ProviderOpenAI, "llama3.1-8b"},
		{"anthropic/claude-sonnet", ProviderAnthropic, "claude-sonnet"},
		{"meta-llama/Llama-3.3-70B", ProviderOpenAI, "meta-llama/Llama-3.3-70B"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			t.Setenv("CEREBRAS_CHAT_MODEL", tt.model)
			cfg, err := LoadAgentConfig(DefaultPrefix)
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, cfg.Provider)
			assert.Equal(t, tt.wantModel, cfg.Model)
		})
	}
}

func TestLoadAgentConfig_CustomPrefixAndNumbers(t *testing.T) {
	t.Setenv("JUDGE_CHAT_MODEL", "gpt-4o-mini")
	t.Setenv("JUDGE_AGENT_NAME", "judge")
	t.Setenv("JUDGE_TEMPERATURE", "0.3")
	t.Setenv("JUDGE_MAX_TOKENS", "512")
	t.Setenv("JUDGE_HEADERS", "X-Team=audit, X-Env=dev")

	cfg, err := LoadAgentConfig("JUDGE")
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Temperature)
	assert.Equal(t, 512, cfg.MaxTokens)
	assert.Equal(t, map[string]string{"X-Team": "audit", "X-Env": "dev"}, cfg.Headers)
}

func TestLoadAgentConfig_BadNumber(t *testing.T) {
	setCerebrasEnv(t)
	t.Setenv("CEREBRAS_TEMPERATURE", "cold")

	_, err := LoadAgentConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAgentConfig_Validate(t *testing.T) {
	err := AgentConfig{BaseURL: "ftp://x", Temperature: 3}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "agent name is required")
	assert.Contains(t, err.Error(), "chat model is required")
	assert.Contains(t, err.Error(), "unsupported scheme")
	assert.Contains(t, err.Error(), "out of range")
}

func TestLoadAuditorConfig_Defaults(t *testing.T) {
	cfg, err := LoadAuditorConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "llm_auditor", cfg.Name)
	assert.Equal(t, DefaultAuditorDescription, cfg.Description)
	assert.Equal(t, "critic", cfg.Critic.Name)
	assert.Equal(t, "http://critic-agent-a2a:80", cfg.Critic.URL)
	assert.Equal(t, "critic_result", cfg.Critic.OutputKey)
	assert.Nil(t, cfg.Reviser)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Len(t, cfg.Stages(), 1)
}

func TestLoadAuditorConfig_WithReviser(t *testing.T) {
	t.Setenv("AUDITOR_CRITIC_URL", "http://localhost:9001")
	t.Setenv("AUDITOR_REVISER_URL", "http://reviser-service:8080")
	t.Setenv("AUDITOR_A2A_TIMEOUT", "5s")
	t.Setenv("AUDITOR_STREAMING", "true")
	t.Setenv("AUDITOR_RETRIES", "2")

	cfg, err := LoadAuditorConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	stages := cfg.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, "http://localhost:9001", stages[0].URL)
	assert.Equal(t, "reviser", stages[1].Name)
	assert.Equal(t, "final_result", stages[1].OutputKey)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.True(t, cfg.Streaming)
	assert.Equal(t, 2, cfg.Retries)
}

func TestAuditorConfig_ValidateDuplicate(t *testing.T) {
	cfg := DefaultAuditorConfig()
	cfg.Reviser = &RemoteAgentConfig{Name: "critic", URL: "http://x:1"}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("AM_HOST", "critic")
	assert.Equal(t, "http://critic:80", ExpandEnv("http://${AM_HOST}:80"))
	assert.Equal(t, "fallback", ExpandEnv("${AM_UNSET_VAR:-fallback}"))
	assert.Equal(t, "no vars", ExpandEnv("no vars"))
}

func TestLoadFile(t *testing.T) {
	t.Setenv("AM_TEST_KEY", "secret")

	path := filepath.Join(t.TempDir(), "auditmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  name: cerebras
  model: openai/llama3.1-8b
  api_key: ${AM_TEST_KEY}
auditor:
  timeout: 10s
  reviser:
    url: http://reviser:8080
server:
  addr: ":9090"
mcp_servers:
  - name: search
    url: http://localhost:8931/mcp
    tools: [web_search]
`), 0o600))

	f, err := LoadFile(path)
	require.NoError(t, err)

	require.NotNil(t, f.Agent)
	assert.Equal(t, "secret", f.Agent.APIKey)
	assert.Equal(t, "llama3.1-8b", f.Agent.Model)
	assert.Equal(t, ProviderOpenAI, f.Agent.Provider)

	require.NotNil(t, f.Auditor)
	assert.Equal(t, DefaultCriticURL, f.Auditor.Critic.URL)
	assert.Equal(t, 10*time.Second, f.Auditor.Timeout)
	require.NotNil(t, f.Auditor.Reviser)
	assert.Equal(t, DefaultReviserOutputKey, f.Auditor.Reviser.OutputKey)
	assert.Equal(t, ":9090", f.Server.Addr)

	require.Len(t, f.MCPServers, 1)
	assert.Equal(t, "search", f.MCPServers[0].Name)
	assert.Equal(t, []string{"web_search"}, f.MCPServers[0].Tools)
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("AM_DOTENV_VALUE=from-file\n"), 0o600))
	t.Setenv("AM_DOTENV_VALUE", "")
	require.NoError(t, os.Unsetenv("AM_DOTENV_VALUE"))

	require.NoError(t, LoadEnvFiles(path))
	assert.Equal(t, "from-file", os.Getenv("AM_DOTENV_VALUE"))

	assert.Error(t, LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env")))
}
