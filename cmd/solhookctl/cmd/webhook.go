package cmd

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type webhook struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Event     string            `json:"event"`
	Filters   map[string]string `json:"filters"`
	Active    bool              `json:"active"`
	HasSecret bool              `json:"has_secret"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func printWebhook(w io.Writer, h webhook) {
	fmt.Fprintf(w, "Webhook: %s\n", h.ID)
	fmt.Fprintf(w, "  Name: %s\n", h.Name)
	fmt.Fprintf(w, "  URL: %s\n", h.URL)
	fmt.Fprintf(w, "  Event: %s\n", h.Event)
	if len(h.Filters) > 0 {
		keys := make([]string, 0, len(h.Filters))
		for k := range h.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+h.Filters[k])
		}
		fmt.Fprintf(w, "  Filters: %s\n", strings.Join(parts, ", "))
	}
	fmt.Fprintf(w, "  Active: %t\n", h.Active)
	fmt.Fprintf(w, "  Signed: %t\n", h.HasSecret)
	fmt.Fprintf(w, "  Created: %s\n", h.CreatedAt.Format("2006-01-02 15:04:05"))
}

func webhookPath(id string) string {
	return "/v1/webhooks/" + url.PathEscape(id)
}

// webhookCmd represents the webhook command
var webhookCmd = &cobra.Command{
	Use:     "webhook",
	Aliases: []string{"webhooks", "subscription"},
	Short:   "Manage webhook subscriptions",
	Long:    `Create and manage webhook subscriptions owned by the authenticated identity.`,
}

var listWebhooksCmd = &cobra.Command{
	Use:   "list",
	Short: "List your webhooks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Webhooks []webhook `json:"webhooks"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/v1/webhooks", nil, &resp); err != nil {
			return fmt.Errorf("failed to list webhooks: %w", err)
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, resp)
		}
		if len(resp.Webhooks) == 0 {
			fmt.Fprintln(out, "No webhooks")
			return nil
		}
		for _, h := range resp.Webhooks {
			state := "active"
			if !h.Active {
				state = "disabled"
			}
			fmt.Fprintf(out, "%s  %-20s  %-16s  %-8s  %s\n", h.ID, h.Name, h.Event, state, h.URL)
		}
		return nil
	},
}

var getWebhookCmd = &cobra.Command{
	Use:   "get [webhook-id]",
	Short: "Show one webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var h webhook
		if err := newClient().do(cmd.Context(), http.MethodGet, webhookPath(args[0]), nil, &h); err != nil {
			return fmt.Errorf("failed to get webhook: %w", err)
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), h)
		}
		printWebhook(cmd.OutOrStdout(), h)
		return nil
	},
}

var createWebhookCmd = &cobra.Command{
	Use:   "create [name] [url] [event]",
	Short: "Create a new webhook",
	Long: `Create a new webhook for an event type, optionally filtered on exact payload values.

Example:
  solhookctl webhook create "usdc transfers" https://example.com/hook token_transfer \
    --filter mint=EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v --secret s3cr3t`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("filter")
		filters, err := parseFilters(pairs)
		if err != nil {
			return err
		}
		secret, _ := cmd.Flags().GetString("secret")

		body := map[string]any{"name": args[0], "url": args[1], "event": args[2], "filters": filters}
		if secret != "" {
			body["secret"] = secret
		}

		var h webhook
		if err := newClient().do(cmd.Context(), http.MethodPost, "/v1/webhooks", body, &h); err != nil {
			return fmt.Errorf("failed to create webhook: %w", err)
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), h)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Created webhook")
		printWebhook(cmd.OutOrStdout(), h)
		return nil
	},
}

var updateWebhookCmd = &cobra.Command{
	Use:   "update [webhook-id]",
	Short: "Update fields of a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch := map[string]any{}
		for _, f := range []string{"name", "url", "event", "secret"} {
			if cmd.Flags().Changed(f) {
				v, _ := cmd.Flags().GetString(f)
				patch[f] = v
			}
		}
		if cmd.Flags().Changed("filter") {
			pairs, _ := cmd.Flags().GetStringArray("filter")
			filters, err := parseFilters(pairs)
			if err != nil {
				return err
			}
			patch["filters"] = filters
		}
		if len(patch) == 0 {
			return fmt.Errorf("nothing to update")
		}

		var h webhook
		if err := newClient().do(cmd.Context(), http.MethodPatch, webhookPath(args[0]), patch, &h); err != nil {
			return fmt.Errorf("failed to update webhook: %w", err)
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), h)
		}
		printWebhook(cmd.OutOrStdout(), h)
		return nil
	},
}

func toggleCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:               use + " [webhook-id]",
		Short:             short,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeWebhookIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var h webhook
			if err := newClient().do(cmd.Context(), http.MethodPost, webhookPath(args[0])+"/"+action, nil, &h); err != nil {
				return fmt.Errorf("failed to %s webhook: %w", action, err)
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), h)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Webhook %s active=%t\n", h.ID, h.Active)
			return nil
		},
	}
}

var deleteWebhookCmd = &cobra.Command{
	Use:   "delete [webhook-id]",
	Short: "Delete a webhook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(cmd.Context(), http.MethodDelete, webhookPath(args[0]), nil, nil); err != nil {
			return fmt.Errorf("failed to delete webhook: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted webhook %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(webhookCmd)
	webhookCmd.AddCommand(listWebhooksCmd, getWebhookCmd, createWebhookCmd, updateWebhookCmd, deleteWebhookCmd,
		toggleCmd("enable", "Resume deliveries for a webhook", "enable"),
		toggleCmd("disable", "Pause deliveries for a webhook", "disable"),
	)

	createWebhookCmd.Flags().StringArray("filter", nil, "exact-match payload filter key=value (repeatable)")
	createWebhookCmd.Flags().String("secret", "", "signing secret; deliveries carry X-Signature when set")

	updateWebhookCmd.Flags().String("name", "", "new name")
	updateWebhookCmd.Flags().String("url", "", "new target URL")
	updateWebhookCmd.Flags().String("event", "", "new event type")
	updateWebhookCmd.Flags().String("secret", "", "new signing secret (empty string removes it)")
	updateWebhookCmd.Flags().StringArray("filter", nil, "replace filters with key=value pairs (repeatable)")

	for _, c := range []*cobra.Command{getWebhookCmd, updateWebhookCmd, deleteWebhookCmd} {
		c.ValidArgsFunction = completeWebhookIDs
	}
	createWebhookCmd.ValidArgsFunction = completeCreateArgs
	_ = updateWebhookCmd.RegisterFlagCompletionFunc("event", completeEventFlag)
}
