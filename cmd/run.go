package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
)

func newRunCmd() *cobra.Command {
	var (
		prompt string
		flags  chatFlags
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send a single message non-interactively",
		Example: `  dchanbot run -P "今日の天気は？"
  dchanbot run --guild 987654321 --prompt "自己紹介して"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt / -P is required")
			}
			return runOnce(cmd, flags, prompt)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "P", "", "the message to send")
	cmd.Flags().StringVar(&flags.user, "user", "", "send as this user id (default $USER)")
	cmd.Flags().StringVar(&flags.guild, "guild", "", "send in the session of this guild id")
	cmd.MarkFlagRequired("prompt")
	cmd.MarkFlagsMutuallyExclusive("user", "guild")

	return cmd
}

// runOnce sends one message, prints the reply and saves.
func runOnce(cmd *cobra.Command, flags chatFlags, prompt string) error {
	cfg, err := initConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cmd.ErrOrStderr())

	rt, err := openRuntime(cfg, logger)
	if err != nil {
		return err
	}

	// A signal does not abort the exchange; it is finished and saved first.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("signal received, finishing the current exchange")
	}()

	reply := rt.instances.HandleMessage(context.Background(), flags.sessionFor(), prompt, session.Now())
	fmt.Fprintln(cmd.OutOrStdout(), reply)

	if err := rt.shutdown(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}
