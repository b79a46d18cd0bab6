package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/config"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/provider"
)

var (
	cfgFile      string
	modelFlag    string
	providerFlag string
	dataDirFlag  string
	logLevelFlag string

	// Package-level version info, set by Execute().
	appVersion string
	appCommit  string
	appDate    string
)

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date

	rootCmd := &cobra.Command{
		Use:   "dchanbot",
		Short: "電脳ちゃん chat bot",
		Long:  "dchanbot runs the 電脳ちゃん chat bot: per-session history with automatic summarization and token usage accounting.",
		// Running dchanbot with no subcommand starts chat mode.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, chatFlags{})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default ~/.config/dchanbot/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "override model")
	rootCmd.PersistentFlags().StringVarP(&providerFlag, "provider", "p", "", "override provider (gemini, anthropic, openai, echo, ...)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "override data directory")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")

	// Subcommands
	rootCmd.AddCommand(newChatCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newVersionCmd(version, commit, date))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration, applying CLI flag overrides.
func initConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// CLI flags override config values
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger writing text records to w.
func newLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// providerBaseURLs maps OpenAI-compatible provider names to their base URLs.
var providerBaseURLs = map[string]string{
	"gemini":   "https://generativelanguage.googleapis.com/v1beta/openai/",
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com",
	"kimi":     "https://api.moonshot.cn/v1",
	"qwen":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"groq":     "https://api.groq.com/openai/v1",
}

// buildProvider creates a Provider instance based on configuration.
func buildProvider(cfg *config.Config) (provider.Provider, error) {
	name := cfg.Provider
	if name == "echo" {
		return provider.NewEchoProvider(0), nil
	}

	pc := cfg.GetProviderConfig(name)
	apiKey := pc.APIKey
	if apiKey == "" {
		return nil, fmt.Errorf(
			"API key not configured for provider %q.\n"+
				"Set it via:\n"+
				"  - config file: providers.%s.api_key\n"+
				"  - environment: LLM_API_KEY (or GOOGLE_API_KEY for gemini)\n"+
				"  - or run with --provider echo for an offline bot",
			name, name,
		)
	}

	// Determine model: CLI flag > config file > provider default
	model := cfg.Model
	if pc.Model != "" && model == "" {
		model = pc.Model
	}

	switch name {
	case "anthropic":
		return provider.NewAnthropicProvider(apiKey, model), nil
	default:
		// All other providers use OpenAI-compatible API
		baseURL := pc.BaseURL
		if baseURL == "" {
			u, ok := providerBaseURLs[name]
			if !ok {
				return nil, fmt.Errorf("unknown provider %q; set providers.%s.base_url in config", name, name)
			}
			baseURL = u
		}
		return provider.NewOpenAIProvider(apiKey, baseURL, model), nil
	}
}

// shutdownTimeout bounds the final drain and save.
const shutdownTimeout = 30 * time.Second
