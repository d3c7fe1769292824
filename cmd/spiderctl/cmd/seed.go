package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// seedCmd represents the seed command
var seedCmd = &cobra.Command{
	Use:   "seed [spider-id] [url ...]",
	Short: "Admit one or more URLs into a spider's scheduler queue",
	Long: `Submits URLs to the admin surface's /v1/control/seed endpoint,
which enqueues them through the same SchedulerStore the spider dequeues
from. URLs whose fingerprint is already queued are silently skipped by
the store's own de-dup policy; a fingerprint that has already been
dequeued can be admitted again.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spiderID := trimmedArg(args[0])
		if spiderID == "" {
			return fmt.Errorf("spider-id is required")
		}

		urls := make([]string, 0, len(args)-1)
		for _, a := range args[1:] {
			if u := trimmedArg(a); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) == 0 {
			return fmt.Errorf("at least one url is required")
		}

		// request_id correlates this submission across the operator's own
		// logs and the spider's admin-surface logs; it plays no part in
		// the store's URL-fingerprint de-dup.
		resp, err := adminRequest("POST", "/v1/control/seed", map[string]interface{}{
			"spider_id":  spiderID,
			"urls":       urls,
			"request_id": uuid.NewString(),
		})
		if err != nil {
			return fmt.Errorf("seed request failed: %w", err)
		}
		if resp.StatusCode >= 300 {
			var errBody struct {
				Error string `json:"error"`
			}
			_ = decodeJSONBody(resp, &errBody)
			return fmt.Errorf("admin server rejected seed request (status %d): %s", resp.StatusCode, errBody.Error)
		}

		var result struct {
			Submitted int `json:"submitted"`
			Admitted  int `json:"admitted"`
		}
		if err := decodeJSONBody(resp, &result); err != nil {
			return fmt.Errorf("failed to decode seed response: %w", err)
		}

		if outputJSON {
			printOutput(result)
			return nil
		}
		fmt.Printf("submitted %d url(s), %d newly admitted (%d already queued)\n",
			result.Submitted, result.Admitted, result.Submitted-result.Admitted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
