// Package providers contains llm.Provider implementations for the
// OpenAI and Anthropic APIs.
package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/strandlabs/strand/internal/llm"
	"github.com/strandlabs/strand/pkg/models"
)

const (
	defaultOpenAIModel    = "gpt-4o"
	defaultEmbeddingModel = openai.SmallEmbedding3
)

// OpenAIConfig configures an OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint for OpenAI-compatible
	// backends.
	BaseURL string

	// Model is the default chat model.
	Model string

	// EmbeddingModel is the model used for Embed.
	EmbeddingModel string
}

// OpenAIProvider implements llm.Provider and llm.Embedder against the
// OpenAI chat-completions and embeddings APIs. It is safe for
// concurrent use; each stream owns its own goroutine.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
}

// NewOpenAI creates a provider from the config.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	embeddingModel := openai.EmbeddingModel(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}
	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          model,
		embeddingModel: embeddingModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Chat sends a non-streaming completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *llm.Request) (*models.Message, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai chat: empty response")
	}

	choice := resp.Choices[0].Message
	msg := &models.Message{
		Role:    models.RoleAssistant,
		Content: choice.Content,
	}
	for _, tc := range choice.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}
	return msg, nil
}

// ChatStream sends a streaming completion request. Text deltas are
// forwarded as they arrive; tool calls are accumulated across deltas
// and emitted once complete.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai chat stream: %w", err)
	}

	chunks := make(chan *llm.StreamChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

// Embed generates one embedding vector per input text.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: p.embeddingModel,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

func (p *OpenAIProvider) buildRequest(req *llm.Request, stream bool) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = p.model
	}
	out := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(req.Messages),
		Stream:   stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

// processStream converts the OpenAI stream to StreamChunks. Tool call
// fragments arrive split across deltas, keyed by index; they are
// assembled here and flushed when the model signals tool_calls or the
// stream ends.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCall)
	var order []int
	flush := func() bool {
		for _, idx := range order {
			tc := pending[idx]
			if tc.ID == "" || tc.Name == "" {
				continue
			}
			if !sendChunk(ctx, chunks, &llm.StreamChunk{ToolCall: tc}) {
				return false
			}
		}
		pending = make(map[int]*models.ToolCall)
		order = order[:0]
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !flush() {
				return
			}
			sendChunk(ctx, chunks, &llm.StreamChunk{Done: true})
			return
		}
		if err != nil {
			sendChunk(ctx, chunks, &llm.StreamChunk{Err: err})
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !sendChunk(ctx, chunks, &llm.StreamChunk{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &models.ToolCall{}
				pending[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Input = append(call.Input, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

func sendChunk(ctx context.Context, chunks chan<- *llm.StreamChunk, chunk *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// convertOpenAIMessages maps the runtime message list onto the OpenAI
// wire format. Image attachments switch the message to multi-content.
func convertOpenAIMessages(messages []*models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		oai := openai.ChatCompletionMessage{Role: string(msg.Role)}

		switch msg.Role {
		case models.RoleAssistant:
			oai.Content = msg.Content
			for _, tc := range msg.ToolCalls {
				oai.ToolCalls = append(oai.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
		case models.RoleTool:
			oai.Content = msg.Content
			oai.ToolCallID = msg.ToolCallID
		default:
			if parts := imageParts(msg); len(parts) > 0 {
				oai.MultiContent = parts
			} else {
				oai.Content = msg.Content
			}
		}

		out = append(out, oai)
	}
	return out
}

func imageParts(msg *models.Message) []openai.ChatMessagePart {
	hasImage := false
	for _, att := range msg.Attachments {
		if att.Type == "image" && att.URL != "" {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return nil
	}

	var parts []openai.ChatMessagePart
	if msg.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: msg.Content,
		})
	}
	for _, att := range msg.Attachments {
		if att.Type != "image" || att.URL == "" {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    att.URL,
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	return parts
}
