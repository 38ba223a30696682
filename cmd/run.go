package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run both phases back to back",
	Long: `Runs the filter phase for pending pairs, then the score phase for every
pair that is filter-complete, in one invocation.`,
	RunE: runBoth,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runBoth(cmd *cobra.Command, _ []string) error {
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

	if pending := env.Track.Pending(model.PhaseFilter, items); len(pending) > 0 {
		zap.L().Info("filter phase starting", zap.Int("pending", len(pending)))
		if err := env.Pipeline.RunFilter(ctx, pending); err != nil {
			return err
		}
	}

	if pending := env.Track.Pending(model.PhaseScore, items); len(pending) > 0 {
		zap.L().Info("score phase starting", zap.Int("pending", len(pending)))
		if err := env.Pipeline.RunScore(ctx, pending); err != nil {
			return err
		}
	}

	printStatistics(env.Track.Statistics())
	return nil
}
