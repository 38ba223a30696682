package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stancelab/hansard-cli/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show work-item progress, batch jobs, spend, and dead letters",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		snap := env.Collector.Collect()

		printStatistics(snap.Items)

		fmt.Printf("\nBatch jobs:    %d\n", snap.BatchesTotal)
		statuses := make([]string, 0, len(snap.BatchesByStatus))
		for status := range snap.BatchesByStatus {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Printf("  %-12s %d\n", status, snap.BatchesByStatus[status])
		}
		if snap.BatchesTotal > 0 {
			fmt.Printf("  fail rate    %.1f%%\n", snap.BatchFailRate*100)
		}

		fmt.Printf("\nDead letters:  %d\n", snap.DeadLetterDepth)
		fmt.Printf("Total spend:   $%.2f\n", snap.TotalCostUSD)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatistics(stats model.Statistics) {
	fmt.Printf("Work items:    %d\n", stats.Total)
	if stats.Total == 0 {
		return
	}
	pct := func(n int) float64 { return float64(n) / float64(stats.Total) * 100 }
	fmt.Printf("  %-12s %d (%.1f%%)\n", "pending", stats.Pending, pct(stats.Pending))
	fmt.Printf("  %-12s %d (%.1f%%)\n", "filtered", stats.FilterComplete, pct(stats.FilterComplete))
	fmt.Printf("  %-12s %d (%.1f%%)\n", "scored", stats.ScoreComplete, pct(stats.ScoreComplete))
}
