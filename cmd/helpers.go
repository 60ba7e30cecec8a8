package cmd

import (
	"fmt"

	"github.com/marcus/till/internal/apiclient"
	"github.com/marcus/till/internal/coordinator"
	"github.com/marcus/till/internal/queue"
	"github.com/marcus/till/internal/status"
	"github.com/marcus/till/internal/store"
	"github.com/marcus/till/internal/tillconfig"
)

// openStore opens the local database, with a friendlier hint when the
// terminal has never been initialized.
func openStore() (*store.Store, error) {
	dataDir, err := tillconfig.GetDataDir()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'till init' first?)", err)
	}
	return st, nil
}

// newAPIClient builds a sync client from the terminal's configuration.
func newAPIClient() (*apiclient.Client, error) {
	terminalID, err := tillconfig.GetTerminalID()
	if err != nil {
		return nil, fmt.Errorf("resolve terminal id: %w", err)
	}
	return apiclient.New(tillconfig.GetServerURL(), tillconfig.GetAPIKey(), terminalID), nil
}

// buildCoordinator wires a coordinator over an open store. monitor and bus
// may be nil for one-shot commands.
func buildCoordinator(st *store.Store, monitor coordinator.OnlineChecker, bus *status.Bus) (*coordinator.Coordinator, error) {
	client, err := newAPIClient()
	if err != nil {
		return nil, err
	}
	cfg := coordinator.Config{
		TerminalID:   client.TerminalID,
		PullPageSize: tillconfig.GetPullPageSize(),
		FanOut:       tillconfig.GetFanOut(),
		MaxAttempts:  tillconfig.GetMaxAttempts(),
	}
	return coordinator.New(st, queue.New(st), client, monitor, bus, cfg), nil
}
