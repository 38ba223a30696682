package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stancelab/hansard-cli/internal/model"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete intermediate artifacts for fully scored pairs",
	Long: `Removes the intermediate filtered CSV of every pair that has finished
the score phase. The final per-pair artifacts and aggregates are untouched.
Requires --yes to actually delete.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().Bool("yes", false, "confirm deletion")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	confirmed, _ := cmd.Flags().GetBool("yes")

	env, err := initEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	items, err := loadWorkItems(cmd.Context(), env.Speeches)
	if err != nil {
		return err
	}

	var eligible []model.WorkItem
	for _, item := range items {
		state, ok := env.Track.State(item)
		if ok && state.Status == model.StatusScoreComplete {
			eligible = append(eligible, item)
		}
	}

	if len(eligible) == 0 {
		fmt.Println("No fully scored pairs; nothing to clean up.")
		return nil
	}
	if !confirmed {
		fmt.Printf("Would delete %d intermediate artifact(s). Re-run with --yes to confirm.\n", len(eligible))
		return nil
	}

	removed := 0
	for _, item := range eligible {
		if err := env.Artifacts.RemoveFiltered(item.MemberID, item.Topic); err != nil {
			zap.L().Warn("failed to remove intermediate artifact",
				zap.Int("member_id", item.MemberID),
				zap.String("topic", item.Topic),
				zap.Error(err))
			continue
		}
		removed++
	}

	fmt.Printf("Removed %d intermediate artifact(s).\n", removed)
	return nil
}
