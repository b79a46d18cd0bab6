// Package config は dchanbot の設定を読み込み・管理する。
// 設定の優先順位（高い順）：
// 1. コマンドラインフラグ
// 2. 環境変数（LLM_API_KEY, LLM_BASE_URL, LLM_MODEL, GOOGLE_API_KEY など）
// 3. --config で指定した設定ファイル、なければ ~/.config/dchanbot/config.yaml
// 4. DefaultConfig の既定値
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig は provider ひとつ分の設定
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// HistoryConfig は会話履歴キャッシュの設定
type HistoryConfig struct {
	// MaxRecent: 要約後もそのまま残す直近メッセージ数（既定 20）
	MaxRecent int `yaml:"max_recent"`

	// SummarizeThreshold: MaxRecent を超えてこの件数より多くなったら要約する（既定 100）
	SummarizeThreshold int `yaml:"summarize_threshold"`

	// FlushOnExchange: 応答ごとに DB へ書き込む
	FlushOnExchange bool `yaml:"flush_on_exchange"`

	// FlushIntervalSec: 定期保存の間隔（秒）。0 で無効
	FlushIntervalSec int `yaml:"flush_interval_sec"`
}

// StorageConfig は永続化の設定
type StorageConfig struct {
	// EncryptionKeyFile: 会話本文を暗号化する鍵ファイル。空なら平文で保存
	EncryptionKeyFile string `yaml:"encryption_key_file"`
}

// Character はマスコットキャラクターの設定。system prompt に埋め込まれる
type Character struct {
	CircleName     string `yaml:"circle_name"`
	UnivName       string `yaml:"univ_name"`
	CharacterName  string `yaml:"character_name"`
	Sex            string `yaml:"sex"`
	FirstPerson    string `yaml:"first_person"`
	Personality    string `yaml:"personality"`
	SpeakingStyle  string `yaml:"speaking_style"`
	Characteristic string `yaml:"characteristic"`
}

// Config は dchanbot の設定全体
type Config struct {
	// Provider: 使用する provider 名（"gemini", "anthropic", "openai", "echo" など）
	Provider string `yaml:"provider"`

	// Model: 会話に使うモデル（provider の既定を上書き）
	Model string `yaml:"model"`

	// SummarizerModel: 要約に使うモデル。空なら Model と同じ
	SummarizerModel string `yaml:"summarizer_model"`

	// Providers: provider ごとの設定
	Providers map[string]*ProviderConfig `yaml:"providers"`

	// DataDir: 履歴 DB と stats.json の置き場所
	DataDir string `yaml:"data_dir"`

	// LogLevel: debug | info | warn | error
	LogLevel string `yaml:"log_level"`

	// ContextWindow: モデルのコンテキスト長。0 なら履歴を切り詰めない
	ContextWindow int `yaml:"context_window"`

	// MaxTokens: 応答の最大トークン数
	MaxTokens int `yaml:"max_tokens"`

	CompletionTimeoutSec int `yaml:"completion_timeout_sec"`
	SummarizeTimeoutSec  int `yaml:"summarize_timeout_sec"`

	History   HistoryConfig `yaml:"history"`
	Storage   StorageConfig `yaml:"storage"`
	Character Character     `yaml:"character"`

	// SystemPromptFile: persona テンプレートの差し替えファイル（空なら組み込み）
	SystemPromptFile string `yaml:"system_prompt_file"`
}

// DefaultCharacter は電脳サークルのマスコット「電脳ちゃん」
func DefaultCharacter() Character {
	return Character{
		CircleName:     "電脳サークル",
		UnivName:       "東京農工",
		CharacterName:  "電脳ちゃん",
		Sex:            "女性",
		FirstPerson:    "私",
		Personality:    "明るく元気で前向き、ちょっとノリが軽め",
		SpeakingStyle:  "親しみやすく、ややフレンドリー。タメ口と敬語を使い分ける。",
		Characteristic: "頭に2本のコンデンサと文字を表示できるモニターを装備。普段着はプリント基板を基にした服を着ている。",
	}
}

// DefaultConfig は既定の設定を返す
func DefaultConfig() *Config {
	return &Config{
		Provider:             "gemini",
		Model:                "gemini-2.0-flash",
		SummarizerModel:      "gemini-1.5-pro",
		Providers:            make(map[string]*ProviderConfig),
		DataDir:              defaultDataDir(),
		LogLevel:             "info",
		MaxTokens:            2048,
		CompletionTimeoutSec: 60,
		SummarizeTimeoutSec:  120,
		History: HistoryConfig{
			MaxRecent:          20,
			SummarizeThreshold: 100,
		},
		Character: DefaultCharacter(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "dchanbot")
}

// DefaultPath は既定の設定ファイルパス
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "dchanbot", "config.yaml")
}

// Load は設定ファイルを読み込み、環境変数で上書きする
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = DefaultPath()
	}

	// ファイルがなければ既定値のまま
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]*ProviderConfig)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Validate は値の範囲を確認する
func (c *Config) Validate() error {
	var errs []error
	if c.History.MaxRecent <= 0 {
		errs = append(errs, fmt.Errorf("history.max_recent must be positive, got %d", c.History.MaxRecent))
	}
	if c.History.SummarizeThreshold <= 0 {
		errs = append(errs, fmt.Errorf("history.summarize_threshold must be positive, got %d", c.History.SummarizeThreshold))
	}
	if c.History.FlushIntervalSec < 0 {
		errs = append(errs, fmt.Errorf("history.flush_interval_sec must not be negative, got %d", c.History.FlushIntervalSec))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// GetProviderConfig は指定 provider の設定を返す。なければ空の設定
func (c *Config) GetProviderConfig(name string) *ProviderConfig {
	if pc, ok := c.Providers[name]; ok {
		return pc
	}
	return &ProviderConfig{}
}

// ChatDir は履歴 DB と統計ファイルを置くディレクトリ
func (c *Config) ChatDir() string { return filepath.Join(c.DataDir, "chat") }

// StatsPath は stats.json のパス
func (c *Config) StatsPath() string { return filepath.Join(c.ChatDir(), "stats.json") }

// HistoryDBPath は履歴 DB のパス
func (c *Config) HistoryDBPath() string { return filepath.Join(c.ChatDir(), "history.db") }

func (c *Config) CompletionTimeout() time.Duration {
	return time.Duration(c.CompletionTimeoutSec) * time.Second
}

func (c *Config) SummarizeTimeout() time.Duration {
	return time.Duration(c.SummarizeTimeoutSec) * time.Second
}

func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.History.FlushIntervalSec) * time.Second
}

// applyEnvOverrides は環境変数を設定に反映する
func applyEnvOverrides(cfg *Config) {
	// provider の選択を先に決める（LLM_API_KEY の適用先になるため）
	if v := os.Getenv("DBOT_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("DBOT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("DBOT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DBOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// 汎用の上書き
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.provider(cfg.Provider).APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.provider(cfg.Provider).BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Model = v
	}

	// provider 専用のキー
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		cfg.provider("gemini").APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.provider("anthropic").APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.provider("openai").APIKey = v
	}
}

func (c *Config) provider(name string) *ProviderConfig {
	if c.Providers[name] == nil {
		c.Providers[name] = &ProviderConfig{}
	}
	return c.Providers[name]
}
