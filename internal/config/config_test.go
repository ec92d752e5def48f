package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
provider:
  name: openai
  api_key: sk-test
  model: gpt-4o
context:
  max_tokens: 16000
  reserved_tokens: 2000
sessions:
  max_sessions: 100
  ttl: 30m
memory:
  enabled: true
  path: /tmp/strand-memory.db
skills:
  dirs: ["./skills"]
  watch: true
mcp_servers:
  - name: files
    type: stdio
    command: mcp-files
    enabled: true
  - name: search
    type: sse
    url: https://search.example.com/sse
    enabled: false
tasks:
  enabled: true
agent:
  max_iterations: 5
  tool_timeout: 90s
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Provider.Name != "openai" || cfg.Provider.APIKey != "sk-test" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Context.MaxTokens != 16000 {
		t.Errorf("max_tokens = %d", cfg.Context.MaxTokens)
	}
	if cfg.Sessions.TTL != 30*time.Minute {
		t.Errorf("ttl = %v", cfg.Sessions.TTL)
	}
	if len(cfg.MCP) != 2 || cfg.MCP[0].Name != "files" {
		t.Errorf("mcp servers = %+v", cfg.MCP)
	}
	if cfg.Agent.ToolTimeout != 90*time.Second {
		t.Errorf("tool_timeout = %v", cfg.Agent.ToolTimeout)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing provider",
			yaml: "context:\n  max_tokens: 100\n",
			want: "provider.name is required",
		},
		{
			name: "unknown provider",
			yaml: "provider:\n  name: llamacpp\n  api_key: x\n",
			want: "unknown provider",
		},
		{
			name: "missing api key",
			yaml: "provider:\n  name: openai\n",
			want: "api_key is required",
		},
		{
			name: "embedding model on anthropic",
			yaml: "provider:\n  name: anthropic\n  api_key: x\n  embedding_model: text-embedding-3-small\n",
			want: "embedding_model",
		},
		{
			name: "unknown field",
			yaml: "provider:\n  name: openai\n  api_key: x\nbogus: true\n",
			want: "parse config",
		},
		{
			name: "invalid enabled mcp server",
			yaml: "provider:\n  name: openai\n  api_key: x\nmcp_servers:\n  - name: broken\n    type: stdio\n    enabled: true\n",
			want: "mcp_servers[0]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestParseSkipsDisabledServerValidation(t *testing.T) {
	cfg, err := Parse([]byte("provider:\n  name: openai\n  api_key: x\nmcp_servers:\n  - name: broken\n    type: stdio\n    enabled: false\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.MCP) != 1 {
		t.Fatalf("mcp servers = %+v", cfg.MCP)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("STRAND_TEST_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "strand.yaml")
	content := "provider:\n  name: openai\n  api_key: ${STRAND_TEST_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want expanded env value", cfg.Provider.APIKey)
	}
}
