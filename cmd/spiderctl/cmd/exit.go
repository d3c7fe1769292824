package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// exitCmd represents the exit command
var exitCmd = &cobra.Command{
	Use:   "exit [spider-id]",
	Short: "Request a spider's shutdown",
	Long: `Publishes an exit envelope onto the named spider's own control
topic through the admin surface's /v1/control/exit endpoint. The spider
honors it the same way it honors an exit message arriving over the
message bus.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spiderID := trimmedArg(args[0])
		if spiderID == "" {
			return fmt.Errorf("spider-id is required")
		}

		resp, err := adminRequest("POST", "/v1/control/exit", map[string]string{"spider_id": spiderID})
		if err != nil {
			return fmt.Errorf("exit request failed: %w", err)
		}
		if resp.StatusCode >= 300 {
			var errBody struct {
				Error string `json:"error"`
			}
			_ = decodeJSONBody(resp, &errBody)
			return fmt.Errorf("admin server rejected exit request (status %d): %s", resp.StatusCode, errBody.Error)
		}

		var result map[string]string
		if err := decodeJSONBody(resp, &result); err != nil {
			return fmt.Errorf("failed to decode exit response: %w", err)
		}
		printOutput(result)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exitCmd)
}
