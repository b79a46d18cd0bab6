package session

// TokenBudget manages context window allocation for a model.
type TokenBudget struct {
	ContextWindow int // total context window of the model
	SystemPrompt  int // estimated system prompt tokens
	OutputReserve int // reserved for the reply
}

// NewTokenBudget creates a TokenBudget for a model's context window and the
// estimated system prompt size. outputReserve <= 0 means 4096.
func NewTokenBudget(contextWindow, systemPromptTokens, outputReserve int) *TokenBudget {
	if outputReserve <= 0 {
		outputReserve = 4096
	}
	return &TokenBudget{
		ContextWindow: contextWindow,
		SystemPrompt:  systemPromptTokens,
		OutputReserve: outputReserve,
	}
}

// HistoryMax returns the tokens left for conversation history: 65% of the
// window minus the system prompt, capped so the reply reserve still fits,
// and at least 1. It returns 0 (unlimited) when the window is unknown.
func (b *TokenBudget) HistoryMax() int {
	if b.ContextWindow <= 0 {
		return 0
	}
	n := b.ContextWindow*65/100 - b.SystemPrompt
	if limit := b.ContextWindow - b.SystemPrompt - b.OutputReserve; n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}
