package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

// eventCmd represents the event command
var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish events",
}

var publishCmd = &cobra.Command{
	Use:   "publish [event-type] [payload-json]",
	Short: "Publish an event (admin only)",
	Long: `Publish an event as if ingestion had observed it. Every matching active
webhook gets one delivery job.

Example:
  solhookctl event publish token_transfer '{"mint":"X","amount":"5"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parseJSONObject(args[1])
		if err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}

		var resp struct {
			Event    string `json:"event"`
			Enqueued int    `json:"enqueued"`
			Partial  bool   `json:"partial"`
		}
		body := map[string]any{"event": args[0], "data": payload}
		if err := newClient().do(cmd.Context(), http.MethodPost, "/v1/events", body, &resp); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published event: %s\n", resp.Event)
		fmt.Fprintf(cmd.OutOrStdout(), "  Jobs enqueued: %d\n", resp.Enqueued)
		if resp.Partial {
			fmt.Fprintln(cmd.OutOrStdout(), "  Warning: some jobs failed to enqueue")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventCmd)
	eventCmd.AddCommand(publishCmd)
}
