// Package models defines the shared data types exchanged between the
// strand runtime's components: messages, tool calls, execution events,
// memory entries, and tasks.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation message. Messages are immutable once
// appended to a session's history.
type Message struct {
	// ID is the unique message identifier.
	ID string `json:"id,omitempty"`

	// SessionID identifies the owning session.
	SessionID string `json:"session_id,omitempty"`

	// Role indicates who produced the message.
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content,omitempty"`

	// Parts holds ordered multimodal content. When non-empty it takes
	// precedence over Content for providers that support it.
	Parts []ContentPart `json:"parts,omitempty"`

	// ToolCalls contains tool invocation requests emitted by the
	// assistant. Only set on assistant messages.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role reply to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Attachments contains files or images carried with the message.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Metadata holds arbitrary message metadata.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the message was produced.
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	// Type is "text" or "image".
	Type string `json:"type"`

	// Text is set when Type is "text".
	Text string `json:"text,omitempty"`

	// ImageURL references an image when Type is "image".
	ImageURL string `json:"image_url,omitempty"`
}

// ToolCall is an assistant request to invoke a tool. Arguments arrive
// from streaming providers as concatenated JSON fragments; Input holds
// the assembled document.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string `json:"id"`

	// Name is the tool name. External tools use the dotted form
	// "source.action"; built-ins use reserved identifiers.
	Name string `json:"name"`

	// Input is the JSON-encoded arguments for the call.
	Input json.RawMessage `json:"input,omitempty"`
}

// Attachment is a file or image carried alongside a message.
type Attachment struct {
	// Type describes the attachment kind (image, file).
	Type string `json:"type"`

	// MimeType is the MIME type of the data.
	MimeType string `json:"mime_type,omitempty"`

	// URL is an optional location for the attachment content.
	URL string `json:"url,omitempty"`

	// Data contains inline attachment bytes.
	Data []byte `json:"data,omitempty"`
}

// ToolDescriptor advertises a callable tool to the language model.
// Parameters is a JSON-Schema-shaped object passed through opaquely.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}
