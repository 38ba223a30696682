package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/model"
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Run the relevance-screening phase for pending pairs",
	Long: `Screens every speech of each listed member against the listed topics
and writes per-pair intermediate CSVs of relevant speeches.

Members and topics are read from members.txt and topics.txt in the input
directory. Pairs already past the filter phase are skipped.`,
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)
}

func runFilter(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	items, err := loadWorkItems(ctx, env.Speeches)
	if err != nil {
		return err
	}

	pending := env.Track.Pending(model.PhaseFilter, items)
	if len(pending) == 0 {
		fmt.Println("All pairs are already filter-complete.")
		return nil
	}
	zap.L().Info("filter phase starting",
		zap.Int("pairs", len(items)), zap.Int("pending", len(pending)))

	if err := env.Pipeline.RunFilter(ctx, pending); err != nil {
		return err
	}

	printStatistics(env.Track.Statistics())
	return nil
}
