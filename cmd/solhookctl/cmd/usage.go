package cmd

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

// usageCmd represents the usage command
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show API usage for the authenticated identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Identity string `json:"identity"`
			Usage    struct {
				LastUsed time.Time        `json:"last_used"`
				Daily    map[string]int64 `json:"daily"`
			} `json:"usage"`
		}
		if err := newClient().do(cmd.Context(), http.MethodGet, "/v1/usage", nil, &resp); err != nil {
			return fmt.Errorf("failed to get usage: %w", err)
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, resp)
		}

		fmt.Fprintf(out, "Identity: %s\n", resp.Identity)
		if !resp.Usage.LastUsed.IsZero() {
			fmt.Fprintf(out, "  Last used: %s\n", resp.Usage.LastUsed.Format("2006-01-02 15:04:05"))
		}
		days := make([]string, 0, len(resp.Usage.Daily))
		for d := range resp.Usage.Daily {
			days = append(days, d)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(days)))
		for _, d := range days {
			fmt.Fprintf(out, "  %s  %d requests\n", d, resp.Usage.Daily[d])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
}
