package mcp

import (
	"context"
	"encoding/json"
)

// Transport is the framing layer beneath the client.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for its response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Events returns server notifications.
	Events() <-chan *JSONRPCNotification

	// Connected reports whether the transport is live.
	Connected() bool
}

// NewTransport creates the transport selected by the config.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Type {
	case TransportSSE:
		return NewSSETransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}
