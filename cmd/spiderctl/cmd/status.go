package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusSpiderID string

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the health of a spidercore daemon",
	Long: `Hits the admin surface's /healthz endpoint and reports the
reachability of every collaborator it pings (scheduler store, message
bus). When --spider is given, also reports that spider's pending queue
depth via /v1/status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adminRequest("GET", "/healthz", nil)
		if err != nil {
			return fmt.Errorf("status check failed: %w", err)
		}

		var healthStatus struct {
			OK         bool            `json:"ok"`
			Message    string          `json:"message,omitempty"`
			Components map[string]bool `json:"components,omitempty"`
		}
		if err := decodeJSONBody(resp, &healthStatus); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		var queueTotal *int
		if statusSpiderID != "" {
			qResp, err := adminRequest("GET", "/v1/status?spider_id="+statusSpiderID, nil)
			if err != nil {
				return fmt.Errorf("queue status check failed: %w", err)
			}
			var q struct {
				QueueTotal int `json:"queue_total"`
			}
			if err := decodeJSONBody(qResp, &q); err == nil {
				queueTotal = &q.QueueTotal
			}
		}

		if outputJSON {
			out := map[string]interface{}{"health": healthStatus}
			if queueTotal != nil {
				out["queue_total"] = *queueTotal
			}
			printOutput(out)
			return nil
		}

		if healthStatus.OK {
			fmt.Println("✓ daemon is healthy")
		} else {
			fmt.Printf("✗ daemon is unhealthy: %s\n", healthStatus.Message)
		}
		for name, healthy := range healthStatus.Components {
			mark := "✓"
			if !healthy {
				mark = "✗"
			}
			fmt.Printf("  %s %s\n", mark, name)
		}
		if queueTotal != nil {
			fmt.Printf("  queue depth (%s): %d\n", statusSpiderID, *queueTotal)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusSpiderID, "spider", "", "also report this spider's pending queue depth")
	rootCmd.AddCommand(statusCmd)
}
