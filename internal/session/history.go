package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

const (
	DefaultMaxRecent          = 20
	DefaultSummarizeThreshold = 100
)

// HistoryOptions configures a History.
type HistoryOptions struct {
	// MaxRecent is how many messages survive a compaction verbatim.
	MaxRecent int

	// SummarizeThreshold is how far the list may grow past MaxRecent
	// before a compaction is due.
	SummarizeThreshold int

	// Compactor produces summaries. Nil disables compaction.
	Compactor *Compactor

	// Clock supplies timestamps for messages appended without one.
	Clock func() float64

	Logger *slog.Logger
}

// History is the in-memory working set of one session, written behind to a
// Store. Messages with a timestamp above the high-watermark have not been
// persisted yet; Flush writes exactly those.
type History struct {
	id    string
	store Store
	opts  HistoryOptions

	mu        sync.Mutex
	loaded    bool
	messages  []Message
	watermark float64
	pending   *pendingSummary
}

// pendingSummary keeps a summary whose store transaction failed so the next
// attempt over the same batch does not pay the summarizer again.
type pendingSummary struct {
	lastTS float64
	count  int
	msg    Message
}

func NewHistory(id string, store Store, opts HistoryOptions) *History {
	if opts.MaxRecent <= 0 {
		opts.MaxRecent = DefaultMaxRecent
	}
	if opts.SummarizeThreshold <= 0 {
		opts.SummarizeThreshold = DefaultSummarizeThreshold
	}
	if opts.Clock == nil {
		opts.Clock = Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &History{id: id, store: store, opts: opts}
}

func (h *History) SessionID() string { return h.id }

// Load reads the stored transcript once. Concurrent callers wait for the
// same load; a failed load leaves the history unloaded so a later call retries.
func (h *History) Load(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		return nil
	}

	msgs, err := h.store.LoadAll(ctx, h.id)
	if err != nil {
		return fmt.Errorf("load history %s: %w", h.id, err)
	}
	h.messages = msgs
	h.watermark = 0
	if n := len(msgs); n > 0 {
		h.watermark = msgs[n-1].Timestamp
	}
	h.loaded = true
	h.opts.Logger.Debug("history loaded", "session", h.id, "messages", len(msgs))
	return nil
}

// Loaded reports whether Load has completed.
func (h *History) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// Append adds msgs to the end of the working set and returns them as
// stored. A zero or non-finite timestamp becomes the clock's now; a
// timestamp not above the previous message is moved to the next float64
// after it.
func (h *History) Append(msgs ...Message) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return nil, ErrNotLoaded
	}

	last := h.watermark
	if n := len(h.messages); n > 0 && h.messages[n-1].Timestamp > last {
		last = h.messages[n-1].Timestamp
	}

	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.Timestamp == 0 || math.IsNaN(m.Timestamp) || math.IsInf(m.Timestamp, 0) {
			m.Timestamp = h.opts.Clock()
		}
		if m.Timestamp <= last {
			m.Timestamp = math.Nextafter(last, math.Inf(1))
		}
		last = m.Timestamp
		out[i] = m
	}
	h.messages = append(h.messages, out...)
	return out, nil
}

// Flush persists every message above the watermark in one store transaction.
func (h *History) Flush(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return nil
	}

	unsaved := h.unsaved()
	if len(unsaved) == 0 {
		return nil
	}
	if err := h.store.Append(ctx, h.id, unsaved...); err != nil {
		return fmt.Errorf("flush history %s: %w", h.id, err)
	}
	h.watermark = unsaved[len(unsaved)-1].Timestamp
	h.opts.Logger.Debug("history flushed", "session", h.id, "messages", len(unsaved))
	return nil
}

func (h *History) unsaved() []Message {
	i := len(h.messages)
	for i > 0 && h.messages[i-1].Timestamp > h.watermark {
		i--
	}
	return h.messages[i:]
}

// Unsaved returns how many messages a Flush would write.
func (h *History) Unsaved() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.unsaved())
}

// NeedsCompaction reports whether the working set has outgrown its limits.
func (h *History) NeedsCompaction() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.needsCompaction()
}

func (h *History) needsCompaction() bool {
	return len(h.messages)-h.opts.MaxRecent > h.opts.SummarizeThreshold
}

// CompactIfNeeded replaces everything but the last MaxRecent messages with a
// summary once the list is longer than MaxRecent+SummarizeThreshold. The
// store is updated in one transaction before memory changes, so on any
// error both are left as they were.
func (h *History) CompactIfNeeded(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		return false, ErrNotLoaded
	}
	if h.opts.Compactor == nil || !h.needsCompaction() {
		return false, nil
	}

	cut := len(h.messages) - h.opts.MaxRecent
	olds := h.messages[:cut]
	lastTS := olds[len(olds)-1].Timestamp

	var summary Message
	if p := h.pending; p != nil && p.lastTS == lastTS && p.count == len(olds) {
		summary = p.msg
	} else {
		h.pending = nil
		var err error
		summary, err = h.opts.Compactor.Compact(ctx, olds)
		if err != nil {
			return false, fmt.Errorf("compact history %s: %w", h.id, err)
		}
		h.pending = &pendingSummary{lastTS: lastTS, count: len(olds), msg: summary}
	}

	// Only persisted messages need deleting from the store.
	removed := make([]float64, 0, len(olds))
	for _, m := range olds {
		if m.Timestamp <= h.watermark {
			removed = append(removed, m.Timestamp)
		}
	}
	if err := h.store.Compact(ctx, h.id, removed, summary); err != nil {
		return false, fmt.Errorf("compact history %s: %w", h.id, err)
	}

	recents := h.messages[cut:]
	next := make([]Message, 0, len(recents)+1)
	next = append(next, summary)
	next = append(next, recents...)
	h.messages = next
	if summary.Timestamp > h.watermark {
		h.watermark = summary.Timestamp
	}
	h.pending = nil

	h.opts.Logger.Info("history compacted", "session", h.id, "removed", len(olds), "messages", len(h.messages))
	return true, nil
}

// Clear empties the session both in memory and in the store.
func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.store.Clear(ctx, h.id); err != nil {
		return fmt.Errorf("clear history %s: %w", h.id, err)
	}
	h.messages = nil
	h.watermark = 0
	h.pending = nil
	h.loaded = true
	return nil
}

// Messages returns a copy of the working set in timestamp order.
func (h *History) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
