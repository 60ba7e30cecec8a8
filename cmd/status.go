package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/tillconfig"
	"github.com/spf13/cobra"
)

var (
	statusJSON  bool
	statusProbe bool
)

// statusReport is the JSON shape of `till status --json`.
type statusReport struct {
	TerminalID   string            `json:"terminal_id"`
	ServerURL    string            `json:"server_url"`
	Connectivity string            `json:"connectivity"`
	Degraded     bool              `json:"degraded,omitempty"`
	LastSync     string            `json:"last_sync,omitempty"`
	Pending      int64             `json:"pending"`
	Failed       int64             `json:"failed"`
	Dirty        map[string]int64  `json:"dirty,omitempty"`
	Collections  map[string]string `json:"collections,omitempty"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show sync state, queue depth, and connectivity",
	GroupID: "sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		terminalID, err := tillconfig.GetTerminalID()
		if err != nil {
			return err
		}

		q := queue.New(st)
		pending, err := q.PendingCount()
		if err != nil {
			return err
		}
		failed, err := q.FailedCount()
		if err != nil {
			return err
		}
		meta, err := st.GetSyncMetadata()
		if err != nil {
			return err
		}

		var connStatus connectivity.Status
		if statusProbe {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			mon := connectivity.New(client)
			connStatus = mon.ProbeNow(context.Background())
		}

		if statusJSON {
			report := statusReport{
				TerminalID:   terminalID,
				ServerURL:    tillconfig.GetServerURL(),
				Connectivity: string(connStatus.State),
				Degraded:     connStatus.Degraded,
				Pending:      pending,
				Failed:       failed,
			}
			if meta.LastSync != nil {
				report.LastSync = meta.LastSync.Format(time.RFC3339)
			}
			report.Dirty = make(map[string]int64)
			report.Collections = make(map[string]string)
			for _, c := range models.Collections {
				if n, err := st.CountDirty(c); err == nil && n > 0 {
					report.Dirty[string(c)] = n
				}
				if ts := meta.LastCollectionSync(c); ts != nil {
					report.Collections[string(c)] = ts.Format(time.RFC3339)
				}
			}
			return output.JSON(report)
		}

		fmt.Printf("Terminal %s -> %s\n", output.ShortID(terminalID), tillconfig.GetServerURL())
		if statusProbe {
			fmt.Printf("Connectivity: %s", output.ConnectivityBadge(connStatus))
			if connStatus.Online {
				fmt.Printf("  (%s)", connStatus.Latency.Round(time.Millisecond))
			}
			fmt.Println()
		}
		if meta.LastSync != nil {
			fmt.Printf("Last sync: %s\n", output.FormatTimeAgo(*meta.LastSync))
		} else {
			fmt.Println("Last sync: never")
		}
		if meta.SyncInProgress {
			fmt.Println("Sync in progress")
		}

		fmt.Printf("Queue: %d pending", pending)
		if failed > 0 {
			fmt.Printf(", %d failed (run 'till queue list --status failed')", failed)
		}
		fmt.Println()

		for _, c := range models.Collections {
			n, err := st.CountDirty(c)
			if err == nil && n > 0 {
				output.Warning("%d %s record(s) carry unsynced local edits", n, c)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "probe the server before reporting")
	rootCmd.AddCommand(statusCmd)
}
