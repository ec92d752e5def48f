// Package mcp implements a supervised client for external tool servers
// speaking the Model Context Protocol over stdio or SSE.
package mcp

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotConnected is returned when an operation requires a live
// transport and none is available. The source self-heals through its
// reconnect schedule.
var ErrNotConnected = errors.New("not connected")

// TransportType identifies the wire transport for a server.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportSSE   TransportType = "sse"
)

// ServerConfig describes how to reach one MCP server.
type ServerConfig struct {
	// Name identifies the server; the registered source is "mcp-<name>".
	Name string `yaml:"name" json:"name"`

	// Type selects stdio or sse.
	Type TransportType `yaml:"type" json:"type"`

	// Command and Args spawn the server for stdio transport.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// URL is the event-stream endpoint for sse transport.
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Timeout bounds a single request round-trip. Zero means 30s.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Validate reports configuration errors before any connection attempt.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return errors.New("server name is required")
	}
	switch c.Type {
	case TransportStdio:
		if c.Command == "" {
			return errors.New("command is required for stdio transport")
		}
	case TransportSSE:
		if c.URL == "" {
			return errors.New("url is required for sse transport")
		}
	default:
		return errors.New("unknown transport type: " + string(c.Type))
	}
	return nil
}

// Tool is a tool advertised by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// JSONRPCRequest is an outgoing request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is an incoming response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCNotification is an incoming server notification (no ID).
type JSONRPCNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError is the error object of a failed response.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ClientInfo identifies this client during the handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerInfo identifies the server, from the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the server's handshake reply.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      ServerInfo     `json:"serverInfo"`
}

// ListToolsResult is the tools/list reply.
type ListToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// CallToolParams are the tools/call arguments.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolCallResult is the tools/call reply.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent is one content block of a tool result.
type ToolResultContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
