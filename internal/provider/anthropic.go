package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicProvider implements Provider using the Anthropic native API.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(anthropicoption.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.model }

func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  p.buildMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan Event, 16)
	go p.processStream(ctx, stream, ch)
	return ch, nil
}

// processStream reads the Anthropic SSE stream and emits unified events.
//
// Input token usage arrives on MessageStartEvent; the final output count
// arrives on MessageDeltaEvent just before MessageStopEvent.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], ch chan<- Event) {
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

		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = int(variant.Message.Usage.InputTokens)

		case anthropic.ContentBlockDeltaEvent:
			if d, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok {
				ch <- Event{Type: EventTextDelta, TextDelta: d.Text}
			}

		case anthropic.MessageDeltaEvent:
			if n := int(variant.Usage.InputTokens); n > usage.InputTokens {
				usage.InputTokens = n
			}
			usage.OutputTokens = int(variant.Usage.OutputTokens)

		case anthropic.MessageStopEvent:
			ch <- Event{Type: EventDone, Usage: &usage}
			return
		}
	}

	if err := stream.Err(); err != nil {
		ch <- Event{Type: EventError, Error: fmt.Errorf("anthropic streaming error: %w", err)}
		return
	}

	ch <- Event{Type: EventDone, Usage: &usage}
}

// buildMessages converts unified messages to Anthropic API params. Consecutive
// messages with the same role are merged since the API requires alternation.
func (p *AnthropicProvider) buildMessages(msgs []Message) []anthropic.MessageParam {
	var params []anthropic.MessageParam
	var lastRole Role
	for _, msg := range msgs {
		block := anthropic.NewTextBlock(msg.Text)
		if len(params) > 0 && msg.Role == lastRole {
			last := &params[len(params)-1]
			last.Content = append(last.Content, block)
			continue
		}
		switch msg.Role {
		case RoleUser:
			params = append(params, anthropic.NewUserMessage(block))
		case RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(block))
		default:
			continue
		}
		lastRole = msg.Role
	}
	return params
}
