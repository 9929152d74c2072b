package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kadirpekel/tripplanner/pkg/observability"
)

// Environment variables read as fallbacks.
const (
	EnvAMapKey    = "AMAP_KEY"
	EnvLLMModel   = "LLM_MODEL"
	EnvLLMBaseURL = "LLM_BASE_URL"
	EnvLLMAPIKey  = "LLM_API_KEY"
)

// amapSSEURL is the hosted AMap MCP endpoint; the key travels in the query.
const amapSSEURL = "https://mcp.amap.com/sse?key="

// Config is the root configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server,omitempty"`
	LLM           LLMConfig            `yaml:"llm,omitempty"`
	MCP           MCPConfig            `yaml:"mcp,omitempty"`
	Agent         AgentConfig          `yaml:"agent,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
	Logger        LoggerConfig         `yaml:"logger,omitempty"`
}

// SetDefaults fills unset values, consulting the environment for the model
// and mapping credentials. Environment values are read here once and never
// again.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.MCP.SetDefaults()
	c.Agent.SetDefaults()
	c.Observability.SetDefaults()
	c.Logger.SetDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.MCP.Validate(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if c.LLM.Strict {
		if missing := c.MissingSettings(); len(missing) > 0 {
			return fmt.Errorf("strict mode: missing settings: %s", strings.Join(missing, ", "))
		}
	}
	return nil
}

// MissingSettings lists required-at-runtime values that are empty. Outside
// strict mode they are only warned about; the provider rejects the first
// request that needs them.
func (c *Config) MissingSettings() []string {
	var missing []string
	if c.LLM.Model == "" {
		missing = append(missing, "llm.model ("+EnvLLMModel+")")
	}
	if c.LLM.BaseURL == "" {
		missing = append(missing, "llm.base_url ("+EnvLLMBaseURL+")")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "llm.api_key ("+EnvLLMAPIKey+")")
	}
	if c.MCP.Transport == "sse" && c.MCP.URL == amapSSEURL {
		missing = append(missing, "mcp.url ("+EnvAMapKey+")")
	}
	return missing
}

// envOr returns value, or the environment variable when value is empty.
func envOr(value, env string) string {
	if value != "" {
		return value
	}
	return os.Getenv(env)
}
