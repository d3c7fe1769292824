package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// replayCmd represents the replay command
var replayCmd = &cobra.Command{
	Use:   "replay [hash]",
	Short: "Re-enqueue a previously admitted request by its dedup hash",
	Long: `Looks up the most recent admission of the given request hash in
the audit log and re-submits it through the admin surface's
/v1/control/replay endpoint. Requires the target daemon to have been
started with AUDIT_ENABLED=true; otherwise the endpoint reports 503.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash := trimmedArg(args[0])
		if hash == "" {
			return fmt.Errorf("hash is required")
		}

		resp, err := adminRequest("POST", "/v1/control/replay?hash="+hash, nil)
		if err != nil {
			return fmt.Errorf("replay request failed: %w", err)
		}
		if resp.StatusCode >= 300 {
			var errBody struct {
				Error string `json:"error"`
			}
			_ = decodeJSONBody(resp, &errBody)
			return fmt.Errorf("admin server rejected replay request (status %d): %s", resp.StatusCode, errBody.Error)
		}

		var result struct {
			Hash     string `json:"hash"`
			SpiderID string `json:"spider_id"`
			Admitted int    `json:"admitted"`
		}
		if err := decodeJSONBody(resp, &result); err != nil {
			return fmt.Errorf("failed to decode replay response: %w", err)
		}

		if outputJSON {
			printOutput(result)
			return nil
		}
		fmt.Printf("replayed %s for spider %s (%d admitted)\n", result.Hash, result.SpiderID, result.Admitted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
