// Package config loads the runtime configuration from strand.yaml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strandlabs/strand/internal/mcp"
)

// Config is the root runtime configuration.
type Config struct {
	Provider ProviderConfig     `yaml:"provider"`
	Context  ContextConfig      `yaml:"context"`
	Sessions SessionsConfig     `yaml:"sessions"`
	Memory   MemoryConfig       `yaml:"memory"`
	Skills   SkillsConfig       `yaml:"skills"`
	MCP      []mcp.ServerConfig `yaml:"mcp_servers"`
	Tasks    TasksConfig        `yaml:"tasks"`
	Agent    AgentConfig        `yaml:"agent"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	// Name is "openai" or "anthropic".
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model,omitempty"`

	// EmbeddingModel applies to openai only; empty uses the provider
	// default.
	EmbeddingModel string `yaml:"embedding_model,omitempty"`
}

// ContextConfig sets the context window budget.
type ContextConfig struct {
	MaxTokens      int `yaml:"max_tokens,omitempty"`
	ReservedTokens int `yaml:"reserved_tokens,omitempty"`
}

// SessionsConfig bounds the short-term session store.
type SessionsConfig struct {
	MaxSessions int           `yaml:"max_sessions,omitempty"`
	TTL         time.Duration `yaml:"ttl,omitempty"`
}

// MemoryConfig configures long-term memory.
type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file; empty keeps memory in-process.
	Path string `yaml:"path,omitempty"`
}

// SkillsConfig configures the local skill source.
type SkillsConfig struct {
	// Dirs are scanned for skill directories containing SKILL.md.
	Dirs []string `yaml:"dirs,omitempty"`

	// Watch reloads manifests when a skill directory changes.
	Watch bool `yaml:"watch,omitempty"`
}

// TasksConfig configures the DAG task executor.
type TasksConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file; empty keeps tasks in-process.
	Path string `yaml:"path,omitempty"`
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	SystemPrompt  string        `yaml:"system_prompt,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty"`
	ToolTimeout   time.Duration `yaml:"tool_timeout,omitempty"`
}

// Load reads and validates the config file. Environment variable
// references ($VAR, ${VAR}) in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes and validates raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "openai", "anthropic":
	case "":
		return fmt.Errorf("provider.name is required")
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Provider.Name == "anthropic" && c.Provider.EmbeddingModel != "" {
		return fmt.Errorf("embedding_model is only supported for the openai provider")
	}

	for i := range c.MCP {
		server := &c.MCP[i]
		if !server.Enabled {
			continue
		}
		if err := server.Validate(); err != nil {
			return fmt.Errorf("mcp_servers[%d]: %w", i, err)
		}
	}
	return nil
}
