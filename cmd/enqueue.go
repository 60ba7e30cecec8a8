package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/marcus/till/internal/models"
	"github.com/marcus/till/internal/output"
	"github.com/marcus/till/internal/queue"
	"github.com/spf13/cobra"
)

var enqueuePayload string

var enqueueCmd = &cobra.Command{
	Use:     "enqueue <operation> <collection> <entity-id>",
	Short:   "Record a local mutation for delivery to the server",
	GroupID: "data",
	Long: `Applies a mutation to the local replica and queues it for delivery.

The local write and the queue insert commit together: once this command
reports success the action is durable, even if the terminal is offline or
crashes immediately after.`,
	Example: `  till enqueue update products sku-42 --payload '{"price_cents":1299}'
  till enqueue adjust products sku-42 --payload '{"stock_delta":-2}'
  till enqueue delete customers cust-9`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := models.Operation(args[0])
		collection := models.Collection(args[1])
		entityID := args[2]

		var payload json.RawMessage
		if enqueuePayload != "" {
			if !json.Valid([]byte(enqueuePayload)) {
				return fmt.Errorf("payload is not valid JSON")
			}
			payload = json.RawMessage(enqueuePayload)
		} else if op != models.OperationDelete {
			return fmt.Errorf("--payload is required for %s", op)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		item, err := queue.New(st).EnqueueWithLocalWrite(op, collection, entityID, payload)
		if err != nil {
			return err
		}

		output.Success("Queued %s %s/%s as %s", op, collection, entityID, output.ShortID(item.ID))
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueuePayload, "payload", "p", "", "mutation payload as JSON")
	rootCmd.AddCommand(enqueueCmd)
}
