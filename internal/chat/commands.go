package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

// CommandResult is the outcome of an operator slash command.
type CommandResult struct {
	Output string
	Quit   bool
}

const helpText = `Available commands:
  /help              Show this help message
  /stat              Show this session's chat count and token usage
  /total             Show token usage of every session and the summarizer
  /history           Show this session's messages
  /clear             Erase this session's history
  /save              Flush every session and write statistics
  /quit              Save and exit`

// HandleCommand runs a slash command for session id. It reports false when
// input is not a known command so the caller can treat it as a message.
func (r *Instances) HandleCommand(ctx context.Context, id, input string) (CommandResult, bool) {
	fields := strings.Fields(input)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return CommandResult{}, false
	}

	switch fields[0] {
	case "/quit", "/exit", "/q":
		return CommandResult{Output: "Bye.", Quit: true}, true
	case "/help":
		return CommandResult{Output: helpText}, true
	case "/stat":
		return CommandResult{Output: usage.FormatStatistic(r.Statistic(id))}, true
	case "/total":
		total := r.TotalUsage()
		return CommandResult{Output: fmt.Sprintf("sessions: %d\n%s",
			len(r.ledger.Sessions()),
			usage.FormatStatistic(usage.ChatStatistic{TokenUsage: total}))}, true
	case "/history":
		msgs, err := r.History(ctx, id)
		if err != nil {
			return CommandResult{Output: "History unavailable: " + err.Error()}, true
		}
		return CommandResult{Output: formatHistory(msgs)}, true
	case "/clear":
		if err := r.Clear(ctx, id); err != nil {
			return CommandResult{Output: "Clear failed: " + err.Error()}, true
		}
		return CommandResult{Output: "Session cleared."}, true
	case "/save":
		if err := r.SaveAll(ctx); err != nil {
			return CommandResult{Output: "Save failed: " + err.Error()}, true
		}
		return CommandResult{Output: "Saved."}, true
	default:
		return CommandResult{}, false
	}
}

func formatHistory(msgs []session.Message) string {
	if len(msgs) == 0 {
		return "No history."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== History (%d messages) ===\n", len(msgs))
	for i, m := range msgs {
		fmt.Fprintf(&sb, "[%d] %s %s: %s\n", i, m.Time().Format("01-02 15:04:05"), m.Role, truncate(m.Content, 100))
	}
	sb.WriteString("===")
	return sb.String()
}

// truncate shortens s to at most maxRunes runes.
func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxRunes]) + "..."
}
