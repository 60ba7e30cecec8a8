package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/till/internal/connectivity"
	"github.com/marcus/till/internal/coordinator"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/status"
	"github.com/marcus/till/internal/store"
	"github.com/marcus/till/internal/tillconfig"
	"github.com/marcus/till/internal/webhook"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	Short:   "Run the sync engine in the foreground",
	GroupID: "sync",
	Long: `Runs the connectivity monitor and periodic sync cycles until interrupted.

A cycle runs on the configured interval, immediately when connectivity
returns after an outage, and shortly after startup. Requests that arrive
while a cycle is running are coalesced into it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		monitor := connectivity.New(client,
			connectivity.WithInterval(tillconfig.GetProbeInterval()))
		bus := status.NewBus()
		coord, err := buildCoordinator(st, monitor, bus)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		go monitor.Run(ctx)
		go logNotifications(ctx, bus)

		output.Info("till daemon started (terminal %s, server %s)",
			output.ShortID(client.TerminalID), client.BaseURL)

		runCycle := func(reason string) {
			slog.Debug("sync cycle triggered", "reason", reason)
			result, err := coord.RunCycle(ctx)
			if errors.Is(err, coordinator.ErrSyncInProgress) {
				return
			}
			emitWebhook(st, client.TerminalID, result, err)
		}

		// Startup cycle once the first probe has had a chance to land
		startup := time.AfterFunc(2*time.Second, func() { runCycle("startup") })
		defer startup.Stop()

		interval := tillconfig.GetSyncInterval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		purgeTicker := time.NewTicker(24 * time.Hour)
		defer purgeTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				output.Info("till daemon stopping")
				return nil
			case <-ticker.C:
				runCycle("interval")
			case <-monitor.OnlineEdge():
				runCycle("connectivity regained")
			case <-purgeTicker.C:
				if n, err := queue.New(st).ClearCompleted(tillconfig.GetRetentionDays()); err != nil {
					slog.Warn("queue purge failed", "err", err)
				} else if n > 0 {
					slog.Debug("purged completed queue items", "count", n)
				}
			}
		}
	},
}

// logNotifications mirrors bus traffic into the log so a headless daemon
// still leaves a trace of what the indicator would have shown.
func logNotifications(ctx context.Context, bus *status.Bus) {
	ch := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			switch n.Type {
			case status.TypeError:
				slog.Warn("status", "type", n.Type, "msg", n.Message, "details", n.Details)
			case status.TypeNone:
			default:
				slog.Debug("status", "type", n.Type, "msg", n.Message)
			}
		}
	}
}

// emitWebhook posts a cycle summary to the configured webhook, if any.
// Fire and forget; a webhook failure is only logged.
func emitWebhook(st *store.Store, terminalID string, result *coordinator.CycleResult, cycleErr error) {
	if !tillconfig.GetWebhookEnabled() {
		return
	}
	url := tillconfig.GetWebhookURL()
	if url == "" {
		return
	}

	payload := webhook.Payload{
		TerminalID: terminalID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Success:    cycleErr == nil,
	}
	if cycleErr != nil {
		payload.Error = cycleErr.Error()
	}
	if result != nil {
		payload.StartedAt = result.StartedAt.UTC().Format(time.RFC3339)
		payload.FinishedAt = result.FinishedAt.UTC().Format(time.RFC3339)
		payload.Pulled = result.Pulled
		payload.Applied = result.Applied
		payload.Skipped = result.Skipped
		payload.Dispatched = result.Dispatched
		payload.Completed = result.Completed
		payload.Requeued = result.Requeued
		payload.Failed = result.Failed
	}
	q := queue.New(st)
	payload.PendingCount, _ = q.PendingCount()
	payload.FailedCount, _ = q.FailedCount()

	go func() {
		if err := webhook.Dispatch(url, tillconfig.GetWebhookSecret(), payload); err != nil {
			slog.Warn("webhook dispatch failed", "err", err)
		}
	}()
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
