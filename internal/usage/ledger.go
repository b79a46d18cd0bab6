// Package usage keeps running per-session chat counts and token totals and
// persists them to a JSON file between runs.
package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrSessionNotFound is returned by Lookup for a session with no statistic.
var ErrSessionNotFound = errors.New("usage: session not found")

// summarizerKey holds summarizer usage in stats.json next to the session
// entries. Session ids are prefixed "session_" and never take this form.
const summarizerKey = "_summarizer"

// TokenUsage counts tokens consumed. Every field only grows.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		TotalTokens:  u.TotalTokens + o.TotalTokens,
	}
}

// ChatStatistic is the per-session record stored in stats.json.
type ChatStatistic struct {
	ChatCount  int        `json:"chat_count"`
	TokenUsage TokenUsage `json:"token_usage"`
}

// UnmarshalJSON accepts the legacy "tokusage" key written by older bots.
func (s *ChatStatistic) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChatCount  int         `json:"chat_count"`
		TokenUsage *TokenUsage `json:"token_usage"`
		Legacy     *TokenUsage `json:"tokusage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.ChatCount = raw.ChatCount
	switch {
	case raw.TokenUsage != nil:
		s.TokenUsage = *raw.TokenUsage
	case raw.Legacy != nil:
		s.TokenUsage = *raw.Legacy
	default:
		s.TokenUsage = TokenUsage{}
	}
	return nil
}

// Ledger accumulates statistics keyed by session id. It is safe for
// concurrent use. The only I/O happens in Load and Save.
type Ledger struct {
	mu         sync.Mutex
	stats      map[string]ChatStatistic
	summarizer TokenUsage
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{stats: make(map[string]ChatStatistic)}
}

// Ensure creates a zero statistic for id if none exists.
func (l *Ledger) Ensure(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.stats[id]; !ok {
		l.stats[id] = ChatStatistic{}
	}
}

// Record adds one exchange with the given usage to id. TotalTokens is
// derived from input and output when the caller leaves it zero.
func (l *Ledger) Record(id string, u TokenUsage) {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats[id]
	s.ChatCount++
	s.TokenUsage = s.TokenUsage.Add(u)
	l.stats[id] = s
}

// RecordSummarizer adds token usage spent on compaction summaries.
func (l *Ledger) RecordSummarizer(u TokenUsage) {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summarizer = l.summarizer.Add(u)
}

// Lookup returns the statistic for id or ErrSessionNotFound.
func (l *Ledger) Lookup(id string) (ChatStatistic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[id]
	if !ok {
		return ChatStatistic{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Statistic returns the statistic for id, or the zero value if unknown.
func (l *Ledger) Statistic(id string) ChatStatistic {
	s, err := l.Lookup(id)
	if err != nil {
		return ChatStatistic{}
	}
	return s
}

// Summarizer returns the usage spent on compaction summaries.
func (l *Ledger) Summarizer() TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summarizer
}

// Total sums every session plus summarizer usage.
func (l *Ledger) Total() TokenUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.summarizer
	for _, s := range l.stats {
		t = t.Add(s.TokenUsage)
	}
	return t
}

// Sessions returns the known session ids in sorted order.
func (l *Ledger) Sessions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.stats))
	for id := range l.stats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every statistic.
func (l *Ledger) Snapshot() map[string]ChatStatistic {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]ChatStatistic, len(l.stats))
	for id, s := range l.stats {
		out[id] = s
	}
	return out
}

// Load merges the statistics in path into the ledger, replacing entries for
// the same id and the summarizer usage. A missing file is not an error.
func (l *Ledger) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}
	stats := make(map[string]ChatStatistic)
	if err := json.Unmarshal(data, &stats); err != nil {
		return fmt.Errorf("parse stats %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, s := range stats {
		if id == summarizerKey {
			l.summarizer = s.TokenUsage
			continue
		}
		l.stats[id] = s
	}
	return nil
}

// Save writes the ledger to path as indented JSON, summarizer usage
// included. The file is replaced atomically through a temporary file in the
// same directory.
func (l *Ledger) Save(path string) error {
	out := l.Snapshot()
	out[summarizerKey] = ChatStatistic{TokenUsage: l.Summarizer()}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create stats dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".stats-*.json")
	if err != nil {
		return fmt.Errorf("create temp stats: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write stats: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close stats: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename stats: %w", err)
	}
	return nil
}

// FormatStatistic renders a statistic the way the /stat command shows it.
func FormatStatistic(s ChatStatistic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "チャット回数: %d\n", s.ChatCount)
	fmt.Fprintf(&b, "入力トークン: %d\n", s.TokenUsage.InputTokens)
	fmt.Fprintf(&b, "出力トークン: %d\n", s.TokenUsage.OutputTokens)
	fmt.Fprintf(&b, "総計トークン: %d", s.TokenUsage.TotalTokens)
	return b.String()
}
