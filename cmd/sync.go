package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/till/internal/coordinator"
	"github.com/marcus/till/internal/output"
	"github.com/spf13/cobra"
)

var syncJSON bool

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Run one sync cycle now",
	Long:    `Pulls reference data changes from the POS server, then delivers queued local mutations.`,
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		coord, err := buildCoordinator(st, nil, nil)
		if err != nil {
			return err
		}

		result, err := coord.RunCycle(context.Background())
		if errors.Is(err, coordinator.ErrSyncInProgress) {
			output.Warning("another sync is already running")
			return nil
		}
		if err != nil {
			if result != nil && syncJSON {
				output.JSON(result)
			}
			output.Error("sync failed: %v", err)
			return err
		}

		if syncJSON {
			return output.JSON(result)
		}

		output.Success("Synced in %s", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
		fmt.Printf("  pulled %d, applied %d, conflict-skipped %d\n", result.Pulled, result.Applied, result.Skipped)
		fmt.Printf("  delivered %d of %d queued mutations", result.Completed, result.Dispatched)
		if result.Requeued > 0 {
			fmt.Printf(", %d retrying", result.Requeued)
		}
		if result.Failed > 0 {
			fmt.Printf(", %d failed", result.Failed)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "output result as JSON")
	rootCmd.AddCommand(syncCmd)
}
