package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/tillconfig"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Inspect and manage the mutation queue",
	GroupID: "sync",
	Aliases: []string{"q"},
}

var (
	queueListStatus string
	queueListJSON   bool
)

var queueListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List queued mutations",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		filter := queue.Status(queueListStatus)
		switch filter {
		case "", queue.StatusPending, queue.StatusSyncing, queue.StatusCompleted, queue.StatusFailed:
		default:
			return fmt.Errorf("unknown status %q", queueListStatus)
		}

		items, err := queue.New(st).List(filter)
		if err != nil {
			return err
		}

		if queueListJSON {
			return output.JSON(items)
		}
		if len(items) == 0 {
			output.Info("queue is empty")
			return nil
		}
		for i := range items {
			fmt.Println(output.QueueItemLine(&items[i]))
		}
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Reset a failed mutation to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := queue.New(st).Retry(args[0]); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				return fmt.Errorf("no failed item with id %s", args[0])
			}
			return err
		}
		output.Success("Requeued %s", output.ShortID(args[0]))
		return nil
	},
}

var queueRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Short:   "Remove a mutation from the queue",
	Long:    `Removes a queue item regardless of status. A removed pending mutation will never reach the server; the local replica may diverge until the next pull.`,
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := queue.New(st).Remove(args[0]); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				return fmt.Errorf("no queue item with id %s", args[0])
			}
			return err
		}
		output.Success("Removed %s", output.ShortID(args[0]))
		return nil
	},
}

var purgeDays int

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete old completed mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		days := purgeDays
		if days <= 0 {
			days = tillconfig.GetRetentionDays()
		}
		n, err := queue.New(st).ClearCompleted(days)
		if err != nil {
			return err
		}
		output.Success("Purged %d completed item(s) older than %dd", n, days)
		return nil
	},
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "", "filter by status (pending|syncing|completed|failed)")
	queueListCmd.Flags().BoolVar(&queueListJSON, "json", false, "output as JSON")
	queuePurgeCmd.Flags().IntVar(&purgeDays, "days", 0, "retention window in days (default from config)")

	queueCmd.AddCommand(queueListCmd, queueRetryCmd, queueRemoveCmd, queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}
