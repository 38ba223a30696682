package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Run the stance-scoring phase for filter-complete pairs",
	Long: `Scores the stance of every speech in each pair's intermediate artifact
on a 1-10 scale, writes the final per-pair CSV, and refreshes the aggregate
documents. Only pairs that finished the filter phase are eligible.`,
	RunE: runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
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

	pending := env.Track.Pending(model.PhaseScore, items)
	if len(pending) == 0 {
		fmt.Println("No filter-complete pairs are awaiting scoring.")
		return nil
	}
	zap.L().Info("score phase starting",
		zap.Int("pairs", len(items)), zap.Int("pending", len(pending)))

	if err := env.Pipeline.RunScore(ctx, pending); err != nil {
		return err
	}

	printStatistics(env.Track.Statistics())
	return nil
}
