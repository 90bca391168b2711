package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type deliveryRecord struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	EventType  string    `json:"event_type"`
	Status     string    `json:"status"`
	Error      *string   `json:"error"`
	Attempt    int       `json:"attempt"`
	HTTPStatus int       `json:"http_status"`
	LatencyMs  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect delivery history",
}

var listDeliveriesCmd = &cobra.Command{
	Use:   "list [webhook-id]",
	Short: "List recent delivery attempts for a webhook, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		path := fmt.Sprintf("%s/deliveries?limit=%d", webhookPath(args[0]), limit)

		var resp struct {
			Deliveries []deliveryRecord `json:"deliveries"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, resp)
		}
		if len(resp.Deliveries) == 0 {
			fmt.Fprintln(out, "No deliveries")
			return nil
		}
		for _, d := range resp.Deliveries {
			errText := ""
			if d.Error != nil {
				errText = *d.Error
			}
			fmt.Fprintf(out, "%s  %-9s  attempt=%d  http=%d  %dms  job=%s  %s\n",
				d.CreatedAt.Format("2006-01-02 15:04:05"), d.Status, d.Attempt, d.HTTPStatus, d.LatencyMs, d.JobID, errText)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(listDeliveriesCmd)
	listDeliveriesCmd.ValidArgsFunction = completeWebhookIDs
	listDeliveriesCmd.Flags().Int("limit", 20, "number of records (max 100)")
}
