// Package llm defines the language-model backend contract consumed by
// the strand runtime.
//
// Implementations of Provider handle the specifics of communicating
// with different LLM APIs while presenting a unified streaming
// interface. Embedding generation is a separate, optional capability;
// its absence disables vector recall in long-term memory.
package llm

import (
	"context"
	"errors"

	"github.com/strandlabs/strand/pkg/models"
)

// Provider is the language-model backend contract.
//
// Implementations must be safe for concurrent use; multiple goroutines
// may call Chat and ChatStream simultaneously for different requests.
type Provider interface {
	// Chat sends a request and returns the complete assistant message.
	Chat(ctx context.Context, req *Request) (*models.Message, error)

	// ChatStream sends a request and returns a channel of stream
	// chunks. The channel is closed when the stream ends. A chunk with
	// Err set terminates the stream.
	ChatStream(ctx context.Context, req *Request) (<-chan *StreamChunk, error)

	// Name returns the provider identifier used for logging.
	Name() string
}

// Embedder generates embedding vectors for texts.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Request contains the parameters for a chat call.
type Request struct {
	// Model selects the model; empty uses the provider default.
	Model string

	// Messages is the conversation in chronological order. A leading
	// system-role message carries the system prompt.
	Messages []*models.Message

	// Tools lists the tool descriptors advertised to the model.
	Tools []*models.ToolDescriptor

	// MaxTokens limits the response length; 0 uses the provider default.
	MaxTokens int

	// Temperature controls sampling randomness when non-nil.
	Temperature *float32
}

// StreamChunk is one element of a streaming chat response.
type StreamChunk struct {
	// Text is an incremental content delta.
	Text string

	// ToolCall is a fully assembled tool invocation request. Providers
	// accumulate partial argument fragments internally and emit each
	// call exactly once, complete.
	ToolCall *models.ToolCall

	// Done marks successful stream completion.
	Done bool

	// Err terminates the stream when set.
	Err error
}

// ErrNoProvider indicates no LLM backend is configured.
var ErrNoProvider = errors.New("no llm provider configured")
