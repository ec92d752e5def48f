package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/strandlabs/strand/internal/backoff"
	"github.com/strandlabs/strand/internal/skills"
	"github.com/strandlabs/strand/pkg/models"
)

// SourcePrefix prepends every remote source name and tool name.
const SourcePrefix = "mcp-"

// RemoteSource adapts a Client into a skill source. It supervises the
// connection: on failure it schedules reconnect attempts with
// exponential backoff, indefinitely, until Destroy. The reconnect
// timer is owned by the source, not by any agent run.
type RemoteSource struct {
	config *ServerConfig
	policy backoff.Policy
	logger *slog.Logger

	mu           sync.Mutex
	client       *Client
	timer        *time.Timer
	attempts     int
	reconnecting bool
	destroyed    bool
}

// NewRemoteSource creates a source for the configured server.
func NewRemoteSource(cfg *ServerConfig, logger *slog.Logger) *RemoteSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteSource{
		config: cfg,
		policy: backoff.Reconnect(),
		logger: logger.With("component", "skills.mcp", "server", cfg.Name),
	}
}

// Name returns "mcp-<server-name>".
func (s *RemoteSource) Name() string {
	return SourcePrefix + s.config.Name
}

func (s *RemoteSource) Type() string { return skills.TypeMCP }

// Initialize validates the config and connects. On connection failure
// the error is returned to the caller and a reconnect is scheduled.
// Initializing an already-connected source is a no-op, so a source
// whose supervisor reconnected in the background can be registered
// without tearing down the live connection.
func (s *RemoteSource) Initialize(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if s.Connected() {
		return nil
	}

	if err := s.connect(ctx); err != nil {
		s.scheduleReconnect()
		return err
	}
	return nil
}

// GetTools returns the server's tools with names prefixed
// "mcp-<name>.". It returns empty while disconnected.
func (s *RemoteSource) GetTools(_ context.Context) ([]*models.ToolDescriptor, error) {
	client := s.liveClient()
	if client == nil {
		return nil, nil
	}

	tools := client.Tools()
	out := make([]*models.ToolDescriptor, 0, len(tools))
	for _, tool := range tools {
		out = append(out, &models.ToolDescriptor{
			Name:        s.Name() + "." + tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}
	return out, nil
}

// Execute strips the source prefix and forwards the call. Text content
// blocks are extracted from the response: one block yields its text,
// several are joined with newlines, none yields the raw response.
func (s *RemoteSource) Execute(ctx context.Context, toolName string, params map[string]any, _ *skills.ExecutionContext) (any, error) {
	client := s.liveClient()
	if client == nil {
		return nil, ErrNotConnected
	}

	name := strings.TrimPrefix(toolName, s.Name()+".")
	result, err := client.CallTool(ctx, name, params)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("tool %s failed: %s", name, extractText(result))
	}
	return extractText(result), nil
}

// Destroy cancels any pending reconnect and closes the client.
func (s *RemoteSource) Destroy(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Debug("close error ignored", "error", err)
		}
		s.client = nil
	}
	return nil
}

// Connected reports whether the server is currently reachable.
func (s *RemoteSource) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil && s.client.Connected()
}

func (s *RemoteSource) connect(ctx context.Context) error {
	client := NewClient(s.config, s.logger)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		client.Close()
		return fmt.Errorf("source destroyed")
	}
	if s.client != nil {
		s.client.Close()
	}
	s.client = client
	s.attempts = 0
	s.reconnecting = false
	return nil
}

// liveClient returns the connected client, or nil. A client that has
// dropped its connection triggers the reconnect supervisor.
func (s *RemoteSource) liveClient() *Client {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	if !client.Connected() {
		s.noteDisconnected()
		return nil
	}
	return client
}

// noteDisconnected starts the reconnect schedule after a mid-life
// connection drop, unless one is already running.
func (s *RemoteSource) noteDisconnected() {
	s.mu.Lock()
	alreadyRunning := s.reconnecting || s.destroyed
	s.mu.Unlock()
	if !alreadyRunning {
		s.scheduleReconnect()
	}
}

// scheduleReconnect arms a timer for the next attempt. Attempts
// continue until Destroy; each success resets the attempt count.
func (s *RemoteSource) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}

	s.reconnecting = true
	s.attempts++
	delay := s.policy.Delay(s.attempts)
	s.logger.Info("scheduling reconnect", "attempt", s.attempts, "delay", delay)

	s.timer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		defer cancel()
		if err := s.connect(ctx); err != nil {
			s.logger.Warn("reconnect failed", "error", err)
			s.scheduleReconnect()
			return
		}
		s.logger.Info("reconnected")
	})
}

func extractText(result *ToolCallResult) string {
	var texts []string
	for _, block := range result.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}
	switch len(texts) {
	case 0:
		raw, err := json.Marshal(result)
		if err != nil {
			return ""
		}
		return string(raw)
	case 1:
		return texts[0]
	default:
		return strings.Join(texts, "\n")
	}
}
