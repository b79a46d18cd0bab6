package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIProvider implements Provider for all OpenAI-compatible APIs,
// including OpenAI, Gemini's compatibility endpoint, DeepSeek, Qwen, etc.
type OpenAIProvider struct {
	client  openai.Client
	model   string
	name    string
	baseURL string
}

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}

	name := "openai"
	if baseURL != "" {
		switch {
		case strings.Contains(baseURL, "generativelanguage"):
			name = "gemini"
		case strings.Contains(baseURL, "deepseek"):
			name = "deepseek"
		case strings.Contains(baseURL, "moonshot"):
			name = "kimi"
		case strings.Contains(baseURL, "dashscope"):
			name = "qwen"
		}
	}

	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		model:   model,
		name:    name,
		baseURL: baseURL,
	}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.model }

func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: p.buildMessages(req),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan Event, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the OpenAI SSE stream and emits unified events.
//
// With include_usage set, the chunk carrying finish_reason is followed by one
// more chunk with no choices that holds the usage totals, so the stream is
// drained to the end before EventDone is sent.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], ch chan<- Event) {
	defer close(ch)
	defer stream.Close()

	var usage Usage
	for stream.Next() {
		select {
		case <-ctx.Done():
			ch <- Event{Type: EventError, Error: ctx.Err()}
			return
		default:
		}

		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage = Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta; delta.Content != "" {
			ch <- Event{Type: EventTextDelta, TextDelta: delta.Content}
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Event{Type: EventError, Error: fmt.Errorf("%s streaming error: %w", p.name, err)}
		return
	}

	ch <- Event{Type: EventDone, Usage: &usage}
}

// buildMessages converts unified messages to OpenAI API params.
func (p *OpenAIProvider) buildMessages(req *ChatRequest) []openai.ChatCompletionMessageParamUnion {
	var params []openai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		params = append(params, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleUser:
			params = append(params, openai.UserMessage(msg.Text))
		case RoleAssistant:
			params = append(params, openai.AssistantMessage(msg.Text))
		}
	}
	return params
}
