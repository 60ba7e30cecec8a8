package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/store"
	"github.com/marcus/till/internal/tillconfig"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local terminal database",
	Long:    `Creates the local data directory and SQLite database, and assigns this terminal a stable id.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := tillconfig.GetDataDir()
		if err != nil {
			return err
		}

		if _, err := os.Stat(filepath.Join(dataDir, ".till")); err == nil {
			output.Warning("already initialized at %s", dataDir)
			return nil
		}

		st, err := store.Initialize(dataDir)
		if err != nil {
			output.Error("failed to initialize database: %v", err)
			return err
		}
		defer st.Close()

		terminalID, err := tillconfig.GetTerminalID()
		if err != nil {
			output.Error("failed to assign terminal id: %v", err)
			return err
		}

		output.Success("Initialized %s", filepath.Join(dataDir, ".till"))
		fmt.Printf("Terminal: %s\n", terminalID)

		if !tillconfig.IsAuthenticated() {
			fmt.Println()
			fmt.Println("No API key configured. Set TILL_API_KEY or write it to auth.json before syncing.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
