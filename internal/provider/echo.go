package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// EchoProvider is an offline provider for local runs without an API key.
// It answers by echoing the last user message and reports a rough token
// count so usage accounting still moves.
type EchoProvider struct {
	delay time.Duration
}

// NewEchoProvider creates an echo provider that waits delay before replying.
func NewEchoProvider(delay time.Duration) *EchoProvider {
	return &EchoProvider{delay: delay}
}

func (e *EchoProvider) Name() string         { return "echo" }
func (e *EchoProvider) DefaultModel() string { return "echo" }

func (e *EchoProvider) Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Text
			break
		}
	}

	var reply string
	switch {
	case strings.HasPrefix(last, summarizePrefix):
		reply = summarizeLines(strings.TrimPrefix(last, summarizePrefix))
	case last == "":
		reply = "…"
	default:
		reply = fmt.Sprintf("「%s」ですね。", last)
	}

	in := approxTokens(req.SystemPrompt)
	for _, m := range req.Messages {
		in += approxTokens(m.Text)
	}

	ch := make(chan Event, 2)
	go func() {
		defer close(ch)
		if e.delay > 0 {
			select {
			case <-ctx.Done():
				ch <- Event{Type: EventError, Error: ctx.Err()}
				return
			case <-time.After(e.delay):
			}
		}
		ch <- Event{Type: EventTextDelta, TextDelta: reply}
		ch <- Event{Type: EventDone, Usage: &Usage{InputTokens: in, OutputTokens: approxTokens(reply)}}
	}()
	return ch, nil
}

// summarizePrefix marks a summarization request; the echo provider answers
// those with a shortened transcript instead of an echo.
const summarizePrefix = "次の内容を要約してください：\n"

func summarizeLines(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) <= 3 {
		return strings.Join(lines, " / ")
	}
	return fmt.Sprintf("%s ... (%d lines)", strings.Join(lines[:3], " / "), len(lines))
}

// approxTokens estimates tokens at four bytes or one rune each, whichever is larger.
func approxTokens(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if r := utf8.RuneCountInString(s); r > n {
		n = r
	}
	return n
}
