package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ebbsync/internal/model"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/status"))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var result struct {
			Roots []model.RootSnapshot `json:"roots"`
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		if len(result.Roots) == 0 {
			fmt.Println("no active sync roots")
			return nil
		}

		fmt.Printf("%-6s %-8s %-30s %-30s %-18s %-8s %-8s %s\n",
			"ROOT", "STATUS", "LOCAL", "REMOTE", "STEP", "SYNCED", "FAILED", "LAST PASS")

		for _, snap := range result.Roots {
			lastPass := "-"
			if snap.LastPass != nil {
				lastPass = snap.LastPass.Format(time.DateTime)
			}
			fmt.Printf("%-6d %-8s %-30s %-30s %-18s %-8d %-8d %s\n",
				snap.RootID, snap.Status, snap.LocalPath, snap.Remote,
				snap.Step, snap.Synced, snap.Failed, lastPass)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
