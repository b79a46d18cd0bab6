package session

import (
	"context"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/provider"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

// SummarizePrompt precedes the transcript in every summarization request.
const SummarizePrompt = "次の内容を要約してください：\n"

// LLMSummarizer implements Summarizer by asking an LLM provider.
type LLMSummarizer struct {
	Provider  provider.Provider
	Model     string
	MaxTokens int
}

func (s *LLMSummarizer) Summarize(ctx context.Context, transcript string) (Summary, error) {
	req := &provider.ChatRequest{
		Model:     s.Model,
		MaxTokens: s.MaxTokens,
		Messages: []provider.Message{
			{Role: provider.RoleUser, Text: SummarizePrompt + transcript},
		},
	}
	text, u, err := provider.Complete(ctx, s.Provider, req)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Text: text,
		Usage: usage.TokenUsage{
			InputTokens:  u.InputTokens,
			OutputTokens: u.OutputTokens,
			TotalTokens:  u.Total(),
		},
	}, nil
}
