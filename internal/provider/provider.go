// Package provider defines the streaming interface shared by every LLM
// backend the bot can talk to. Each adapter (anthropic.go, openai.go, echo.go)
// normalizes its API's streaming response into a sequence of Events.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ── Messages ─────────────────────────────────────────────────────────────────

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role Role
	Text string
}

// ChatRequest is the provider-neutral request.
type ChatRequest struct {
	Model        string
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
}

// ── Streaming events ─────────────────────────────────────────────────────────

type EventType int

const (
	// EventTextDelta carries an incremental chunk of the reply.
	EventTextDelta EventType = iota

	// EventDone ends the stream and carries token usage.
	EventDone

	// EventError ends the stream with a failure.
	EventError
)

// Event is one element of a provider stream.
type Event struct {
	Type      EventType
	TextDelta string
	Usage     *Usage
	Error     error
}

// Usage records the tokens one API call consumed.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// ── Provider ─────────────────────────────────────────────────────────────────

// Provider is the interface every LLM backend implements.
type Provider interface {
	// Chat starts a streaming exchange. The returned channel emits events
	// until EventDone or EventError and is then closed. Callers must drain it.
	Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error)

	// Name returns the provider identifier, e.g. "anthropic", "gemini".
	Name() string

	// DefaultModel returns the model used when a request leaves Model empty.
	DefaultModel() string
}

// ErrEmptyResponse is returned by Complete when the stream ended without text.
var ErrEmptyResponse = errors.New("provider: empty response")

// Complete runs req to completion and returns the concatenated text and usage.
func Complete(ctx context.Context, p Provider, req *ChatRequest) (string, Usage, error) {
	ch, err := p.Chat(ctx, req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%s chat: %w", p.Name(), err)
	}

	var (
		sb     strings.Builder
		usage  Usage
		mErr   error
		gotEnd bool
	)
	for ev := range ch {
		switch ev.Type {
		case EventTextDelta:
			sb.WriteString(ev.TextDelta)
		case EventDone:
			gotEnd = true
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		case EventError:
			if mErr == nil {
				mErr = ev.Error
			}
		}
	}
	if mErr != nil {
		return "", usage, fmt.Errorf("%s stream: %w", p.Name(), mErr)
	}
	if !gotEnd {
		if err := ctx.Err(); err != nil {
			return "", usage, fmt.Errorf("%s stream: %w", p.Name(), err)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", usage, ErrEmptyResponse
	}
	return text, usage, nil
}
