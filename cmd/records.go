package cmd

import (
	"fmt"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/spf13/cobra"
)

var recordsCmd = &cobra.Command{
	Use:     "records",
	Short:   "Read the local replica",
	GroupID: "data",
	Aliases: []string{"rec"},
}

var recordsListCmd = &cobra.Command{
	Use:     "list <collection>",
	Short:   "List all local records in a collection",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection := models.Collection(args[0])
		if !models.ValidCollection(collection) {
			return fmt.Errorf("unknown collection %q", args[0])
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := st.GetAll(collection)
		if err != nil {
			return err
		}
		return output.JSON(records)
	},
}

var recordsGetCmd = &cobra.Command{
	Use:   "get <collection> <id>",
	Short: "Show one local record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		collection := models.Collection(args[0])
		if !models.ValidCollection(collection) {
			return fmt.Errorf("unknown collection %q", args[0])
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.Get(collection, args[1])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no local record %s/%s", collection, args[1])
		}
		if rec.Dirty() {
			output.Warning("record carries an unsynced local edit")
		}
		return output.JSON(rec)
	},
}

func init() {
	recordsCmd.AddCommand(recordsListCmd, recordsGetCmd)
	rootCmd.AddCommand(recordsCmd)
}
