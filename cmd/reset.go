package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/stancelab/hansard-cli/internal/model"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Step work items backward for reprocessing",
	Long: `Resets the tracked state of the listed pairs. With --phase filter every
pair returns to pending; with --phase score only score-complete pairs step
back to filter-complete, others are left untouched.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().String("phase", "filter", "phase to reset: filter or score")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, _ []string) error {
	phaseFlag, _ := cmd.Flags().GetString("phase")
	var phase model.Phase
	switch phaseFlag {
	case "filter":
		phase = model.PhaseFilter
	case "score":
		phase = model.PhaseScore
	default:
		return eris.Errorf("--phase must be filter or score (got %q)", phaseFlag)
	}

	env, err := initEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	items, err := loadWorkItems(cmd.Context(), env.Speeches)
	if err != nil {
		return err
	}

	if err := env.Track.Reset(items, phase); err != nil {
		return err
	}

	fmt.Printf("Reset %s phase for %d pair(s).\n", phaseFlag, len(items))
	printStatistics(env.Track.Statistics())
	return nil
}
