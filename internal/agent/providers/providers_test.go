package providers

import (
	"encoding/json"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "", ToolCalls: []models.ToolCall{
			{ID: "call-1", Name: "test.lookup", Input: json.RawMessage(`{"q":"x"}`)},
		}},
		{Role: models.RoleTool, Content: "result", ToolCallID: "call-1"},
	}

	out := convertOpenAIMessages(msgs)
	if len(out) != 4 {
		t.Fatalf("got %d messages, want 4", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be brief" {
		t.Errorf("system message = %+v", out[0])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "test.lookup" {
		t.Errorf("assistant tool calls = %+v", out[2].ToolCalls)
	}
	if out[2].ToolCalls[0].Function.Arguments != `{"q":"x"}` {
		t.Errorf("tool call arguments = %q", out[2].ToolCalls[0].Function.Arguments)
	}
	if out[3].Role != "tool" || out[3].ToolCallID != "call-1" {
		t.Errorf("tool reply = %+v", out[3])
	}
}

func TestConvertOpenAIMessagesVision(t *testing.T) {
	msgs := []*models.Message{{
		Role:    models.RoleUser,
		Content: "what is this?",
		Attachments: []models.Attachment{
			{Type: "image", URL: "https://example.com/a.png"},
			{Type: "file", URL: "https://example.com/b.txt"},
		},
	}}

	out := convertOpenAIMessages(msgs)
	if len(out) != 1 {
		t.Fatalf("got %d messages, want 1", len(out))
	}
	parts := out[0].MultiContent
	if len(parts) != 2 {
		t.Fatalf("got %d content parts, want 2 (text + image)", len(parts))
	}
	if parts[0].Type != openai.ChatMessagePartTypeText || parts[0].Text != "what is this?" {
		t.Errorf("text part = %+v", parts[0])
	}
	if parts[1].Type != openai.ChatMessagePartTypeImageURL || parts[1].ImageURL.URL != "https://example.com/a.png" {
		t.Errorf("image part = %+v", parts[1])
	}
	if out[0].Content != "" {
		t.Errorf("content should be empty when multi-content is used, got %q", out[0].Content)
	}
}

func TestAnthropicBuildParams(t *testing.T) {
	p, err := NewAnthropic(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}

	params, err := p.buildParams(&llm.Request{
		Messages: []*models.Message{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "test.lookup", Input: json.RawMessage(`{"q":"x"}`)},
			}},
			{Role: models.RoleTool, Content: "result", ToolCallID: "call-1"},
		},
		Tools: []*models.ToolDescriptor{{
			Name:        "test.lookup",
			Description: "look things up",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		}},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}

	if len(params.System) != 1 || params.System[0].Text != "be brief" {
		t.Errorf("system = %+v", params.System)
	}
	// System message is excluded from the message list; tool reply
	// becomes a user message.
	if len(params.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(params.Messages))
	}
	if params.Messages[2].Role != anthropic.MessageParamRoleUser {
		t.Errorf("tool reply role = %v, want user", params.Messages[2].Role)
	}
	if len(params.Tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(params.Tools))
	}
	if params.MaxTokens != defaultAnthropicMaxTokens {
		t.Errorf("max tokens = %d, want default", params.MaxTokens)
	}
}

func TestAnthropicBuildParamsRejectsBadToolInput(t *testing.T) {
	p, err := NewAnthropic(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}

	_, err = p.buildParams(&llm.Request{
		Messages: []*models.Message{
			{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
				{ID: "call-1", Name: "bad", Input: json.RawMessage(`not json`)},
			}},
		},
	})
	if err == nil {
		t.Fatal("expected error for invalid tool call input")
	}
}
