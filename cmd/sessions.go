package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/session"
)

func newSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, newLogger(cfg.LogLevel, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.Sessions(context.Background())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tKIND\tMESSAGES\tLAST")
			for _, info := range infos {
				kind, _, err := session.ParseSessionID(info.ID)
				if err != nil {
					kind = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.ID, kind, info.Messages, info.Last.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session>",
		Short: "Print the stored transcript of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, newLogger(cfg.LogLevel, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer store.Close()

			msgs, err := store.LoadAll(context.Background(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No history for %s.\n", args[0])
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "%s %s: %s\n", m.Time().Format("2006-01-02 15:04:05"), m.Role, m.Content)
			}
			return nil
		},
	}
}
