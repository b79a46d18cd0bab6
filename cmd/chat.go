package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/tui"
)

type chatFlags struct {
	user  string
	guild string
}

func newChatCmd() *cobra.Command {
	var flags chatFlags

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the bot from the console",
		Long: "Talk to the bot from the console. Each line is one message of the chosen session;\n" +
			"lines starting with / are commands (see /help).",
		Example: `  dchanbot chat --user 123456789
  dchanbot chat --guild 987654321
  echo "こんにちは" | dchanbot chat --provider echo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.user, "user", "", "talk in the direct-message session of this user id (default $USER)")
	cmd.Flags().StringVar(&flags.guild, "guild", "", "talk in the session of this guild id")
	cmd.MarkFlagsMutuallyExclusive("user", "guild")

	return cmd
}

// sessionFor resolves the session id the console talks in.
func (f chatFlags) sessionFor() string {
	if f.guild != "" {
		return session.GuildSessionID(f.guild)
	}
	user := f.user
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "console"
	}
	return session.UserSessionID(user)
}

// runChat starts the interactive chat (REPL) mode.
func runChat(cmd *cobra.Command, flags chatFlags) error {
	cfg, err := initConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cmd.ErrOrStderr())

	rt, err := openRuntime(cfg, logger)
	if err != nil {
		return err
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	ui := tui.NewPlainIO(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), interactive, cfg.Character.CharacterName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if interval := cfg.FlushInterval(); interval > 0 {
		go rt.instances.RunFlusher(ctx, interval)
	}

	id := flags.sessionFor()
	if interactive {
		ui.SystemMessage("session " + id + " (/help for commands, /quit to exit)")
	}

	loopErr := chatLoop(ctx, rt, ui, id)
	cancel()

	if err := rt.shutdown(); err != nil {
		ui.Error(err.Error())
		return errors.Join(loopErr, err)
	}
	return loopErr
}

type inputLine struct {
	text string
	err  error
}

// chatLoop feeds console lines to the session until input ends, /quit is
// entered, or ctx is cancelled. Cancelling ctx stops reading only: an
// exchange already running completes and is recorded before the loop returns.
func chatLoop(ctx context.Context, rt *runtime, ui tui.IO, id string) error {
	serve := context.WithoutCancel(ctx)

	// The reader goroutine reads one line per value on next, so the prompt
	// is not printed again before the reply.
	lines := make(chan inputLine)
	next := make(chan struct{}, 1)
	go func() {
		for range next {
			text, err := ui.ReadInput()
			select {
			case lines <- inputLine{text: text, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	defer close(next)

	for {
		next <- struct{}{}

		var in inputLine
		select {
		case <-ctx.Done():
			return nil
		case in = <-lines:
		}
		if in.err != nil {
			if errors.Is(in.err, io.EOF) {
				return nil
			}
			return in.err
		}

		if res, ok := rt.instances.HandleCommand(serve, id, in.text); ok {
			if res.Output != "" {
				ui.SystemMessage(res.Output)
			}
			if res.Quit {
				return nil
			}
			continue
		}

		ui.Reply(rt.instances.HandleMessage(serve, id, in.text, session.Now()))
	}
}
