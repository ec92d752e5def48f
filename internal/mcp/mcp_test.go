package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid stdio", ServerConfig{Name: "fs", Type: TransportStdio, Command: "mcp-fs"}, false},
		{"valid sse", ServerConfig{Name: "web", Type: TransportSSE, URL: "http://localhost:3000/sse"}, false},
		{"missing name", ServerConfig{Type: TransportStdio, Command: "x"}, true},
		{"stdio without command", ServerConfig{Name: "fs", Type: TransportStdio}, true},
		{"sse without url", ServerConfig{Name: "web", Type: TransportSSE}, true},
		{"unknown type", ServerConfig{Name: "x", Type: "tcp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTransportSelectsByType(t *testing.T) {
	if _, ok := NewTransport(&ServerConfig{Name: "a", Type: TransportSSE, URL: "http://x"}).(*SSETransport); !ok {
		t.Error("expected SSETransport for sse config")
	}
	if _, ok := NewTransport(&ServerConfig{Name: "a", Command: "x"}).(*StdioTransport); !ok {
		t.Error("expected StdioTransport as default")
	}
}

func TestStdioTransportCallNotConnected(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{Name: "t", Command: "x"})
	if _, err := tr.Call(context.Background(), "tools/list", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSSETransportCallNotConnected(t *testing.T) {
	tr := NewSSETransport(&ServerConfig{Name: "t", URL: "http://x"})
	if _, err := tr.Call(context.Background(), "tools/list", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestStdioTransportConnectNoCommand(t *testing.T) {
	tr := NewStdioTransport(&ServerConfig{Name: "t"})
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("expected error without command")
	}
}

func TestExtractText(t *testing.T) {
	one := &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: "hello"}}}
	if got := extractText(one); got != "hello" {
		t.Errorf("single block = %q", got)
	}

	many := &ToolCallResult{Content: []ToolResultContent{
		{Type: "text", Text: "line1"},
		{Type: "image"},
		{Type: "text", Text: "line2"},
	}}
	if got := extractText(many); got != "line1\nline2" {
		t.Errorf("joined blocks = %q", got)
	}

	none := &ToolCallResult{Content: []ToolResultContent{{Type: "image"}}}
	got := extractText(none)
	var raw ToolCallResult
	if err := json.Unmarshal([]byte(got), &raw); err != nil {
		t.Errorf("no-text result should be raw JSON, got %q: %v", got, err)
	}
}

func TestRemoteSourceName(t *testing.T) {
	src := NewRemoteSource(&ServerConfig{Name: "files", Type: TransportStdio, Command: "x"}, nil)
	if src.Name() != "mcp-files" {
		t.Errorf("Name() = %q, want mcp-files", src.Name())
	}
}

func TestRemoteSourceInitializeBadConfig(t *testing.T) {
	src := NewRemoteSource(&ServerConfig{Name: "bad", Type: TransportStdio}, nil)
	if err := src.Initialize(context.Background()); err == nil {
		t.Fatal("expected config error")
	}
	// A config error must not start the reconnect schedule.
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.timer != nil {
		t.Error("config error should not schedule reconnect")
	}
}

func TestRemoteSourceInitializeFailureSchedulesReconnect(t *testing.T) {
	cfg := &ServerConfig{
		Name:    "gone",
		Type:    TransportStdio,
		Command: "/nonexistent/mcp-server-binary",
		Timeout: time.Second,
	}
	src := NewRemoteSource(cfg, slog.Default())
	ctx := context.Background()

	if err := src.Initialize(ctx); err == nil {
		t.Fatal("expected connect failure")
	}

	src.mu.Lock()
	attempts, timer := src.attempts, src.timer
	src.mu.Unlock()
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if timer == nil {
		t.Error("expected reconnect timer to be armed")
	}

	// Destroy must cancel the pending reconnect so shutdown is never
	// blocked by a failing server.
	if err := src.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.timer != nil {
		t.Error("Destroy should clear the reconnect timer")
	}
	if !src.destroyed {
		t.Error("Destroy should mark the source destroyed")
	}
}

// liveTransport is a Transport stub that always reports connected.
type liveTransport struct{}

func (liveTransport) Connect(context.Context) error { return nil }
func (liveTransport) Close() error                  { return nil }
func (liveTransport) Call(context.Context, string, any) (json.RawMessage, error) {
	return nil, errors.New("not scripted")
}
func (liveTransport) Notify(context.Context, string, any) error { return nil }
func (liveTransport) Events() <-chan *JSONRPCNotification       { return nil }
func (liveTransport) Connected() bool                           { return true }

func TestRemoteSourceInitializeConnectedIsNoop(t *testing.T) {
	// A source whose supervisor reconnected in the background gets
	// registered late; registration re-runs Initialize, which must not
	// replace the live connection.
	src := NewRemoteSource(&ServerConfig{Name: "late", Type: TransportStdio, Command: "x"}, nil)
	client := &Client{config: src.config, transport: liveTransport{}, logger: slog.Default()}
	src.mu.Lock()
	src.client = client
	src.mu.Unlock()

	if err := src.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize on connected source: %v", err)
	}

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.client != client {
		t.Error("Initialize replaced the live client")
	}
}

func TestRemoteSourceDisconnectedBehavior(t *testing.T) {
	src := NewRemoteSource(&ServerConfig{Name: "offline", Type: TransportStdio, Command: "x"}, nil)
	ctx := context.Background()

	tools, err := src.GetTools(ctx)
	if err != nil {
		t.Fatalf("GetTools: %v", err)
	}
	if len(tools) != 0 {
		t.Errorf("disconnected GetTools = %v, want empty", tools)
	}

	if _, err := src.Execute(ctx, "mcp-offline.list", nil, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Execute err = %v, want ErrNotConnected", err)
	}
}

func TestReconnectDelaySchedule(t *testing.T) {
	src := NewRemoteSource(&ServerConfig{Name: "x", Type: TransportStdio, Command: "x"}, nil)
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for i, expected := range want {
		if got := src.policy.Delay(i + 1); got != expected {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, expected)
		}
	}
}
