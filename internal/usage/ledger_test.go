package usage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestRecordAccumulates(t *testing.T) {
	l := NewLedger()
	l.Record("s1", TokenUsage{InputTokens: 10, OutputTokens: 5})
	l.Record("s1", TokenUsage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5})

	s := l.Statistic("s1")
	if s.ChatCount != 2 {
		t.Errorf("ChatCount = %d, want 2", s.ChatCount)
	}
	want := TokenUsage{InputTokens: 13, OutputTokens: 7, TotalTokens: 20}
	if s.TokenUsage != want {
		t.Errorf("TokenUsage = %+v, want %+v", s.TokenUsage, want)
	}
}

func TestLookupUnknown(t *testing.T) {
	l := NewLedger()
	if _, err := l.Lookup("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if s := l.Statistic("nope"); s != (ChatStatistic{}) {
		t.Errorf("Statistic = %+v, want zero", s)
	}
}

func TestEnsureKeepsExisting(t *testing.T) {
	l := NewLedger()
	l.Record("s1", TokenUsage{InputTokens: 1})
	l.Ensure("s1")
	l.Ensure("s2")

	if got := l.Statistic("s1").ChatCount; got != 1 {
		t.Errorf("s1 ChatCount = %d, want 1", got)
	}
	if _, err := l.Lookup("s2"); err != nil {
		t.Errorf("Lookup(s2): %v", err)
	}
}

func TestTotalIncludesSummarizer(t *testing.T) {
	l := NewLedger()
	l.Record("a", TokenUsage{InputTokens: 10, OutputTokens: 10})
	l.Record("b", TokenUsage{InputTokens: 5, OutputTokens: 5})
	l.RecordSummarizer(TokenUsage{InputTokens: 100, OutputTokens: 1})

	got := l.Total()
	if got.TotalTokens != 131 {
		t.Errorf("TotalTokens = %d, want 131", got.TotalTokens)
	}
	if s := l.Summarizer(); s.InputTokens != 100 {
		t.Errorf("Summarizer().InputTokens = %d, want 100", s.InputTokens)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat", "stats.json")

	l := NewLedger()
	l.Record("session_u1", TokenUsage{InputTokens: 7, OutputTokens: 3})
	l.Record("session_g2", TokenUsage{InputTokens: 1, OutputTokens: 1})
	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n    \"session_g2\"") {
		t.Errorf("stats.json not indented:\n%s", data)
	}

	loaded := NewLedger()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := loaded.Statistic("session_u1"), l.Statistic("session_u1"); got != want {
		t.Errorf("session_u1 = %+v, want %+v", got, want)
	}
	if got := loaded.Sessions(); len(got) != 2 || got[0] != "session_g2" {
		t.Errorf("Sessions() = %v, want [session_g2 session_u1]", got)
	}
}

func TestSaveLoadKeepsSummarizerUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	l := NewLedger()
	l.Record("session_u1", TokenUsage{InputTokens: 1, OutputTokens: 1})
	l.RecordSummarizer(TokenUsage{InputTokens: 100, OutputTokens: 10})
	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewLedger()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := loaded.Summarizer(), (TokenUsage{InputTokens: 100, OutputTokens: 10, TotalTokens: 110}); got != want {
		t.Errorf("Summarizer() = %+v, want %+v", got, want)
	}
	if got := loaded.Total().TotalTokens; got != 112 {
		t.Errorf("Total().TotalTokens = %d, want 112", got)
	}
	if got := loaded.Sessions(); len(got) != 1 || got[0] != "session_u1" {
		t.Errorf("Sessions() = %v, want [session_u1]", got)
	}

	// A second save of the reloaded ledger does not double the usage.
	if err := loaded.Save(path); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	again := NewLedger()
	if err := again.Load(path); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if got := again.Summarizer().TotalTokens; got != 110 {
		t.Errorf("Summarizer().TotalTokens after resave = %d, want 110", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	l := NewLedger()
	if err := l.Load(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n := len(l.Sessions()); n != 0 {
		t.Errorf("sessions = %d, want 0", n)
	}
}

func TestLoadLegacyKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	legacy := `{"session_u9": {"chat_count": 4, "tokusage": {"input_tokens": 40, "output_tokens": 8, "total_tokens": 48}}}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLedger()
	if err := l.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := l.Statistic("session_u9")
	if s.ChatCount != 4 || s.TokenUsage.TotalTokens != 48 {
		t.Errorf("statistic = %+v, want chat_count 4 total 48", s)
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewLedger().Load(path); err == nil {
		t.Fatal("Load succeeded on corrupt file")
	}
}

func TestConcurrentRecord(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record("s", TokenUsage{InputTokens: 1, OutputTokens: 1})
		}()
	}
	wg.Wait()

	s := l.Statistic("s")
	if s.ChatCount != 50 || s.TokenUsage.TotalTokens != 100 {
		t.Errorf("statistic = %+v, want 50 chats / 100 tokens", s)
	}
}

func TestFormatStatistic(t *testing.T) {
	out := FormatStatistic(ChatStatistic{ChatCount: 3, TokenUsage: TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}})
	for _, want := range []string{"チャット回数: 3", "入力トークン: 1", "出力トークン: 2", "総計トークン: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
