package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/chat"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/config"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/lifecycle"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/sealed"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

// runtime is everything a serving command needs, wired from config.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *session.SQLiteStore
	instances *chat.Instances
}

// openStore opens the transcript database, with sealing when a key file
// is configured.
func openStore(cfg *config.Config, logger *slog.Logger) (*session.SQLiteStore, error) {
	opts := session.StoreOptions{Logger: logger}
	if path := cfg.Storage.EncryptionKeyFile; path != "" {
		key, err := sealed.LoadKey(path)
		if err != nil {
			return nil, err
		}
		c, err := sealed.New(key)
		if err != nil {
			return nil, err
		}
		opts.Sealer = c
	}
	store, err := session.NewSQLiteStore(cfg.HistoryDBPath(), opts)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return store, nil
}

func openRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	p, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = p.DefaultModel()
	}
	summarizerModel := cfg.SummarizerModel
	if summarizerModel == "" {
		summarizerModel = cfg.Model
	}

	persona, err := chat.LoadPersona(cfg.SystemPromptFile, cfg.Character)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	ledger := usage.NewLedger()
	compactor := session.NewCompactor(&session.LLMSummarizer{
		Provider:  p,
		Model:     summarizerModel,
		MaxTokens: cfg.MaxTokens,
	}, session.CompactorOptions{
		Timeout: cfg.SummarizeTimeout(),
		OnUsage: ledger.RecordSummarizer,
		Logger:  logger,
	})

	instances, err := chat.New(chat.Options{
		Store: store,
		Pipeline: &chat.LLMPipeline{
			Provider:      p,
			Model:         cfg.Model,
			MaxTokens:     cfg.MaxTokens,
			ContextWindow: cfg.ContextWindow,
		},
		Persona:            persona,
		Compactor:          compactor,
		Ledger:             ledger,
		StatsPath:          cfg.StatsPath(),
		MaxRecent:          cfg.History.MaxRecent,
		SummarizeThreshold: cfg.History.SummarizeThreshold,
		FlushOnExchange:    cfg.History.FlushOnExchange,
		CompletionTimeout:  cfg.CompletionTimeout(),
		Logger:             logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("bot ready", "provider", p.Name(), "model", cfg.Model, "data_dir", cfg.DataDir)
	return &runtime{cfg: cfg, logger: logger, store: store, instances: instances}, nil
}

// shutdown drains and saves the chat instances, then closes the store.
func (rt *runtime) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	results := lifecycle.ShutdownAll(ctx, rt.logger,
		rt.instances,
		lifecycle.Func("history store", func(ctx context.Context) error { return rt.store.Close() }),
	)
	return lifecycle.Err(results)
}
