package cmd

import (
	"context"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// eventTypes are the event names the default ingest channels produce
var eventTypes = []string{
	"token_transfer\tSPL token transfers",
	"account_update\taccount data changes",
	"transaction\ttransactions touching an account",
}

// completionCmd represents the completion command
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script",
	Long: `Generate a shell completion script for solhookctl.

Webhook IDs complete from the API using the current --server and token, so
"solhookctl delivery list <TAB>" offers your own webhooks.

  $ source <(solhookctl completion bash)
  $ solhookctl completion zsh > "${fpath[1]}/_solhookctl"
  $ solhookctl completion fish > ~/.config/fish/completions/solhookctl.fish
  PS> solhookctl completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(out, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		default:
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
	},
}

// completeWebhookIDs offers the caller's webhooks as "id<TAB>name (event)".
// API failures yield no suggestions rather than an error in the shell.
func completeWebhookIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var resp struct {
		Webhooks []webhook `json:"webhooks"`
	}
	if err := newClient().do(ctx, http.MethodGet, "/v1/webhooks", nil, &resp); err != nil {
		cobra.CompDebugln("webhook completion: "+err.Error(), false)
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(resp.Webhooks))
	for _, h := range resp.Webhooks {
		if strings.HasPrefix(h.ID, toComplete) {
			out = append(out, h.ID+"\t"+h.Name+" ("+h.Event+")")
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

// completeCreateArgs completes the event type, the third positional of
// "webhook create". Name and URL are free text.
func completeCreateArgs(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 2 {
		return eventTypes, cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func completeEventFlag(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return eventTypes, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
