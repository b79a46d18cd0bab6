package cmd

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/chat"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/config"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/tui"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

func echoConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Provider = "echo"
	cfg.DataDir = t.TempDir()
	return cfg
}

func TestBuildProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider = "echo"
	p, err := buildProvider(cfg)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if p.Name() != "echo" {
		t.Errorf("Name = %q, want echo", p.Name())
	}

	cfg.Provider = "gemini"
	if _, err := buildProvider(cfg); err == nil {
		t.Error("gemini without api key: expected error")
	}
	cfg.Providers["gemini"] = &config.ProviderConfig{APIKey: "k"}
	p, err = buildProvider(cfg)
	if err != nil {
		t.Fatalf("gemini: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("Name = %q, want gemini", p.Name())
	}

	cfg.Provider = "nowhere"
	cfg.Providers["nowhere"] = &config.ProviderConfig{APIKey: "k"}
	if _, err := buildProvider(cfg); err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Errorf("unknown provider err = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSessionFor(t *testing.T) {
	t.Setenv("USER", "alice")
	if got := (chatFlags{}).sessionFor(); got != session.UserSessionID("alice") {
		t.Errorf("default = %q", got)
	}
	if got := (chatFlags{user: "42"}).sessionFor(); got != "session_u42" {
		t.Errorf("user = %q", got)
	}
	if got := (chatFlags{guild: "7"}).sessionFor(); got != "session_g7" {
		t.Errorf("guild = %q", got)
	}
	t.Setenv("USER", "")
	if got := (chatFlags{}).sessionFor(); got != "session_uconsole" {
		t.Errorf("fallback = %q", got)
	}
}

func TestChatLoopPersistsAndQuits(t *testing.T) {
	cfg := echoConfig(t)
	rt, err := openRuntime(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("openRuntime: %v", err)
	}

	var out, errOut bytes.Buffer
	in := strings.NewReader("こんにちは\n\n/stat\n/quit\nnot reached\n")
	ui := tui.NewPlainIO(in, &out, &errOut, false, "")

	id := session.UserSessionID("42")
	if err := chatLoop(context.Background(), rt, ui, id); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if err := rt.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "「こんにちは」ですね。") {
		t.Errorf("output missing reply:\n%s", got)
	}
	if !strings.Contains(got, "チャット回数: 1") {
		t.Errorf("output missing /stat:\n%s", got)
	}
	if strings.Contains(got, "not reached") {
		t.Errorf("loop continued after /quit:\n%s", got)
	}

	store, err := openStore(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	msgs, err := store.LoadAll(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != session.RoleHuman || msgs[1].Role != session.RoleAgent {
		t.Fatalf("stored = %+v, want one exchange", msgs)
	}

	ledger := usage.NewLedger()
	if err := ledger.Load(cfg.StatsPath()); err != nil {
		t.Fatalf("load stats: %v", err)
	}
	if s := ledger.Statistic(id); s.ChatCount != 1 {
		t.Errorf("ChatCount = %d, want 1", s.ChatCount)
	}
}

func TestChatLoopCancelFinishesExchange(t *testing.T) {
	cfg := echoConfig(t)
	logger := slog.New(slog.DiscardHandler)
	store, err := openStore(cfg, logger)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}

	started := make(chan struct{})
	var once sync.Once
	slow := chat.PipelineFunc(func(ctx context.Context, req chat.Request) (chat.Reply, error) {
		once.Do(func() { close(started) })
		select {
		case <-ctx.Done():
			return chat.Reply{}, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		return chat.Reply{Text: "done: " + req.Input, Usage: usage.TokenUsage{InputTokens: 2, OutputTokens: 3}}, nil
	})
	instances, err := chat.New(chat.Options{
		Store:     store,
		Pipeline:  slow,
		StatsPath: cfg.StatsPath(),
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("chat.New: %v", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, store: store, instances: instances}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	var out bytes.Buffer
	ui := tui.NewPlainIO(strings.NewReader("hello\n"), &out, &out, false, "")
	id := session.UserSessionID("7")
	if err := chatLoop(ctx, rt, ui, id); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if err := rt.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if got := out.String(); !strings.Contains(got, "done: hello") {
		t.Errorf("output = %q, want the completed reply", got)
	}

	reopened, err := openStore(cfg, logger)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()
	msgs, err := reopened.LoadAll(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "done: hello" {
		t.Fatalf("stored = %+v, want the finished exchange", msgs)
	}
}

func TestChatLoopEOF(t *testing.T) {
	cfg := echoConfig(t)
	rt, err := openRuntime(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("openRuntime: %v", err)
	}
	defer rt.shutdown()

	var out bytes.Buffer
	ui := tui.NewPlainIO(strings.NewReader(""), &out, &out, false, "")
	if err := chatLoop(context.Background(), rt, ui, session.GuildSessionID("1")); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestOpenStoreWithKey(t *testing.T) {
	cfg := echoConfig(t)
	cfg.Storage.EncryptionKeyFile = filepath.Join(cfg.DataDir, "missing.key")
	if _, err := openStore(cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("openStore with missing key file: expected error")
	}
}

func TestPrintStatistics(t *testing.T) {
	var buf bytes.Buffer
	l := usage.NewLedger()
	printStatistics(&buf, l)
	if !strings.Contains(buf.String(), "No statistics") {
		t.Errorf("empty ledger output %q", buf.String())
	}

	buf.Reset()
	l.Record("session_u1", usage.TokenUsage{InputTokens: 3, OutputTokens: 4})
	printStatistics(&buf, l)
	for _, want := range []string{"[session_u1]", "[total]", "総計トークン: 7"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestPrintStatisticsFromSavedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	l := usage.NewLedger()
	l.Record("session_u1", usage.TokenUsage{InputTokens: 3, OutputTokens: 4})
	l.RecordSummarizer(usage.TokenUsage{InputTokens: 100, OutputTokens: 10})
	if err := l.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := usage.NewLedger()
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	var buf bytes.Buffer
	printStatistics(&buf, loaded)
	got := buf.String()
	for _, want := range []string{"[summarizer]", "総計トークン: 110", "総計トークン: 117"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "[_summarizer]") {
		t.Errorf("summarizer listed as a session:\n%s", got)
	}
}
