package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <session>",
	Short: "Show the most recent queries of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.History.History(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(records)
		}
		for _, r := range records {
			status := "ok"
			if r.Failed {
				status = "failed"
			}
			fmt.Printf("%s  %-6s %5d ms  %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"), status, r.ResponseTimeMs, r.Query)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show platform statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.History.Stats(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(stats)
		}
		fmt.Printf("documents: %d\nchunks:    %d\nqueries:   %d\navg ms:    %.1f\n",
			stats.TotalDocuments, stats.TotalChunks, stats.TotalQueries, stats.AvgResponseTimeMs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd, statsCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "maximum records (default 50)")
}
