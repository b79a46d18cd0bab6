package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/provider"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

// ErrCompletion wraps every failure of the completion pipeline.
var ErrCompletion = errors.New("chat: completion failed")

// Request is one completion call: the system prompt, the accumulated
// history, and the new human input.
type Request struct {
	SystemPrompt string
	History      []session.Message
	Input        string
}

// Reply is the agent's answer and the tokens it cost.
type Reply struct {
	Text  string
	Usage usage.TokenUsage
}

// Pipeline produces the agent reply for a request.
type Pipeline interface {
	Invoke(ctx context.Context, req Request) (Reply, error)
}

// PipelineFunc adapts a function to Pipeline.
type PipelineFunc func(ctx context.Context, req Request) (Reply, error)

func (f PipelineFunc) Invoke(ctx context.Context, req Request) (Reply, error) { return f(ctx, req) }

// LLMPipeline implements Pipeline over a streaming provider. History is
// trimmed to fit the model's context window before each call.
type LLMPipeline struct {
	Provider      provider.Provider
	Model         string
	MaxTokens     int
	ContextWindow int
}

func (p *LLMPipeline) Invoke(ctx context.Context, req Request) (Reply, error) {
	budget := session.NewTokenBudget(p.ContextWindow,
		session.EstimateTokens([]session.Message{{Content: req.SystemPrompt}}), p.MaxTokens)
	history := session.TrimForContext(req.History, budget.HistoryMax())

	msgs := make([]provider.Message, 0, len(history)+1)
	for _, m := range history {
		role := provider.RoleUser
		if m.Role == session.RoleAgent {
			role = provider.RoleAssistant
		}
		msgs = append(msgs, provider.Message{Role: role, Text: m.Content})
	}
	msgs = append(msgs, provider.Message{Role: provider.RoleUser, Text: req.Input})

	text, u, err := provider.Complete(ctx, p.Provider, &provider.ChatRequest{
		Model:        p.Model,
		Messages:     msgs,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    p.MaxTokens,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	return Reply{
		Text: text,
		Usage: usage.TokenUsage{
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			TotalTokens:  u.Total(),
		},
	}, nil
}
