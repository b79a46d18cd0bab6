package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

// Summary is the output of one summarization call.
type Summary struct {
	Text  string
	Usage usage.TokenUsage
}

// Summarizer condenses a transcript into a short text.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (Summary, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, transcript string) (Summary, error)

func (f SummarizerFunc) Summarize(ctx context.Context, transcript string) (Summary, error) {
	return f(ctx, transcript)
}

// CompactorOptions configures a Compactor.
type CompactorOptions struct {
	// Timeout bounds one summarization call. Zero means no extra bound.
	Timeout time.Duration

	// OnUsage is called with the token usage of every successful summary.
	OnUsage func(usage.TokenUsage)

	Logger *slog.Logger
}

// Compactor turns a run of old messages into a single summary message.
type Compactor struct {
	summarizer Summarizer
	timeout    time.Duration
	onUsage    func(usage.TokenUsage)
	logger     *slog.Logger
}

func NewCompactor(s Summarizer, opts CompactorOptions) *Compactor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compactor{
		summarizer: s,
		timeout:    opts.Timeout,
		onUsage:    opts.OnUsage,
		logger:     logger,
	}
}

// Compact summarizes olds. The returned message is an agent message stamped
// with the timestamp of the last summarized message, so it sorts before
// everything that was kept. Every failure matches ErrSummarization.
func (c *Compactor) Compact(ctx context.Context, olds []Message) (Message, error) {
	if len(olds) == 0 {
		return Message{}, fmt.Errorf("%w: nothing to summarize", ErrSummarization)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	sum, err := c.summarizer.Summarize(ctx, FormatTranscript(olds))
	if err != nil {
		return Message{}, errors.Join(ErrSummarization, err)
	}
	text := strings.TrimSpace(sum.Text)
	if text == "" {
		return Message{}, fmt.Errorf("%w: empty summary", ErrSummarization)
	}
	if c.onUsage != nil {
		c.onUsage(sum.Usage)
	}
	c.logger.Debug("summarized", "messages", len(olds), "duration", time.Since(start))

	return Message{
		Role:      RoleAgent,
		Content:   text,
		Timestamp: olds[len(olds)-1].Timestamp,
	}, nil
}

// FormatTranscript renders msgs as "<role>: <content>" lines.
func FormatTranscript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
