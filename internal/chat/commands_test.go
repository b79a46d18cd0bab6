package chat

import (
	"context"
	"strings"
	"testing"
)

func TestHandleCommand(t *testing.T) {
	env := newEnv(t)
	r := newInstances(t, env.options(env.store))
	ctx := context.Background()
	r.HandleMessage(ctx, "s1", "こんにちは", 0)

	tests := []struct {
		input    string
		handled  bool
		quit     bool
		contains string
	}{
		{input: "/help", handled: true, contains: "/stat"},
		{input: "/stat", handled: true, contains: "チャット回数: 1"},
		{input: "/total", handled: true, contains: "総計トークン: 15"},
		{input: "/history", handled: true, contains: "こんにちは"},
		{input: "/save", handled: true, contains: "Saved."},
		{input: "/quit", handled: true, quit: true},
		{input: "/unknown", handled: false},
		{input: "hello", handled: false},
		{input: "   ", handled: false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res, handled := r.HandleCommand(ctx, "s1", tt.input)
			if handled != tt.handled {
				t.Fatalf("handled = %v, want %v", handled, tt.handled)
			}
			if res.Quit != tt.quit {
				t.Errorf("Quit = %v, want %v", res.Quit, tt.quit)
			}
			if !strings.Contains(res.Output, tt.contains) {
				t.Errorf("output %q does not contain %q", res.Output, tt.contains)
			}
		})
	}
}

func TestHandleCommandClear(t *testing.T) {
	env := newEnv(t)
	r := newInstances(t, env.options(env.store))
	ctx := context.Background()
	r.HandleMessage(ctx, "s1", "hello", 0)

	res, _ := r.HandleCommand(ctx, "s1", "/clear")
	if res.Output != "Session cleared." {
		t.Errorf("output = %q", res.Output)
	}
	res, _ = r.HandleCommand(ctx, "s1", "/history")
	if res.Output != "No history." {
		t.Errorf("history after clear = %q", res.Output)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncate("あいうえお", 3); got != "あいう..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
