package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TUAT-Denno/DennouChan-Discord-Bot/internal/usage"
)

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat [session]",
		Short: "Show chat counts and token usage",
		Long:  "Show chat counts and token usage from the saved statistics.\nWith a session id, only that session is shown.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := initConfig()
			if err != nil {
				return err
			}
			ledger := usage.NewLedger()
			if err := ledger.Load(cfg.StatsPath()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				s, err := ledger.Lookup(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, usage.FormatStatistic(s))
				return nil
			}
			printStatistics(out, ledger)
			return nil
		},
	}
}

func printStatistics(w io.Writer, ledger *usage.Ledger) {
	ids := ledger.Sessions()
	if len(ids) == 0 {
		fmt.Fprintln(w, "No statistics yet.")
		return
	}
	for _, id := range ids {
		fmt.Fprintf(w, "[%s]\n%s\n\n", id, usage.FormatStatistic(ledger.Statistic(id)))
	}
	fmt.Fprintf(w, "[summarizer]\n%s\n\n", usage.FormatStatistic(usage.ChatStatistic{TokenUsage: ledger.Summarizer()}))
	fmt.Fprintf(w, "[total]\n%s\n", usage.FormatStatistic(usage.ChatStatistic{TokenUsage: ledger.Total()}))
}
