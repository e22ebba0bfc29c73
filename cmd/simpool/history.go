package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"simpool/internal/config"
	"simpool/internal/journal"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List journaled runs, or the rounds of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return errors.New("no journal configured (journal.path or SIMPOOL_JOURNAL)")
			}
			store, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()
			if len(args) == 0 {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "RUN\tSTARTED\tWORKERS\tROUNDS\tSTATUS\tREWARD")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%.3f\n",
						r.ID, r.StartedAt.Format(time.RFC3339), r.Workers, r.Rounds, r.Status, r.TotalReward)
				}
				return nil
			}
			rounds, err := store.ListRounds(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(tw, "ROUND\tWORKER\tREWARD\tDONE\tSTATE\tFAULT")
			for _, r := range rounds {
				fmt.Fprintf(tw, "%d\t%d\t%.3f\t%t\t%s\t%s\n", r.Round, r.Worker, r.Reward, r.Done, r.State, r.Fault)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	return cmd
}
