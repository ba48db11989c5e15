package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/surveyledger/internal/api"
	"github.com/soaringjerry/surveyledger/internal/config"
	"github.com/soaringjerry/surveyledger/internal/services"
)

func leaderboardCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Print the reputation leaderboard from the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			logger := commonRun(cfg)
			store, _, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := services.NewLeaderboardService(api.NewLeaderboardStore(store)).GetLeaderboard(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tRESPONDENT\tREPUTATION\tACCEPTED\tREJECTED\tRATE\tTIER")
			for _, e := range entries {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%.2f\t%s\n",
					e.Rank, e.RespondentID, e.TotalReputation, e.ResponsesAccepted, e.ResponsesRejected, e.AcceptanceRate, e.Tier)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries, 0 for all")
	return cmd
}
