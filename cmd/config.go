package cmd

import (
	"fmt"

	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/tillconfig"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Inspect and change terminal configuration",
	GroupID: "system",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  `Shows the values the engine will actually use, after env overrides and defaults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := tillconfig.GetDataDir()
		if err != nil {
			return err
		}
		terminalID, err := tillconfig.GetTerminalID()
		if err != nil {
			return err
		}

		effective := map[string]interface{}{
			"data_dir":    dataDir,
			"terminal_id": terminalID,
			"server_url":  tillconfig.GetServerURL(),
			"sync": map[string]interface{}{
				"interval":       tillconfig.GetSyncInterval().String(),
				"probe_interval": tillconfig.GetProbeInterval().String(),
				"max_attempts":   tillconfig.GetMaxAttempts(),
				"retention_days": tillconfig.GetRetentionDays(),
				"fan_out":        tillconfig.GetFanOut(),
				"pull_page_size": tillconfig.GetPullPageSize(),
			},
			"webhook": map[string]interface{}{
				"url":     tillconfig.GetWebhookURL(),
				"enabled": tillconfig.GetWebhookEnabled(),
			},
			"authenticated": tillconfig.IsAuthenticated(),
		}
		return output.JSON(effective)
	},
}

var configSetServerCmd = &cobra.Command{
	Use:   "set-server <url>",
	Short: "Set the POS server URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tillconfig.LoadConfig()
		if err != nil {
			return err
		}
		cfg.Server.URL = args[0]
		if err := tillconfig.SaveConfig(cfg); err != nil {
			return err
		}
		output.Success("Server URL set to %s", args[0])
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <api-key>",
	Short: "Store the API key for this terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := tillconfig.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil {
			creds = &tillconfig.AuthCredentials{}
		}
		creds.APIKey = args[0]
		if err := tillconfig.SaveAuth(creds); err != nil {
			return err
		}
		output.Success("API key stored")
		return nil
	},
}

var configClearAuthCmd = &cobra.Command{
	Use:   "clear-auth",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := tillconfig.ClearAuth(); err != nil {
			return err
		}
		fmt.Println("Credentials cleared. The terminal id will be regenerated on next use.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetServerCmd, configSetKeyCmd, configClearAuthCmd)
	rootCmd.AddCommand(configCmd)
}
