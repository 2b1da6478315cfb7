// Package config reads agent and auditor definitions from the environment,
// optional .env files and an optional YAML file.
//
// The env agent is described by prefixed variables. With the default prefix
// CEREBRAS:
//
//	CEREBRAS_CHAT_MODEL         model name, optionally "provider/model"
//	CEREBRAS_BASE_URL           OpenAI compatible API base URL
//	CEREBRAS_API_KEY            API key
//	CEREBRAS_AGENT_NAME         agent name
//	CEREBRAS_AGENT_DESCRIPTION  agent description
//	CEREBRAS_AGENT_INSTRUCTION  system instruction
//	CEREBRAS_TEMPERATURE        sampling temperature, default 0.0
//
// The auditor pipeline is described by AUDITOR_* variables, see LoadAuditorConfig.
package config
