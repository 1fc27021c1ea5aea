package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var syncRootCmd = &cobra.Command{
	Use:   "root",
	Short: "Manage sync roots",
}

var rootProvider string

var rootListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sync roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/roots"))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var result struct {
			Roots []struct {
				ID         uint   `json:"ID"`
				LocalPath  string `json:"LocalPath"`
				RemotePath string `json:"RemotePath"`
				Provider   string `json:"Provider"`
				Status     string `json:"Status"`
			} `json:"roots"`
			Running map[string]struct {
				Step   string `json:"step"`
				Synced int    `json:"synced"`
				Failed int    `json:"failed"`
			} `json:"running"`
		}

		_ = json.NewDecoder(resp.Body).Decode(&result)

		if len(result.Roots) == 0 {
			fmt.Println("no sync roots configured")
			return nil
		}

		fmt.Printf("%-4s %-8s %-10s %-30s %-30s %-18s %s\n",
			"ID", "STATUS", "PROVIDER", "LOCAL", "REMOTE", "STEP", "SYNCED/FAILED")
		for _, r := range result.Roots {
			step := "-"
			synced, failed := 0, 0
			if run, ok := result.Running[fmt.Sprint(r.ID)]; ok {
				step = run.Step
				synced = run.Synced
				failed = run.Failed
			}
			fmt.Printf("%-4d %-8s %-10s %-30s %-30s %-18s %d/%d\n",
				r.ID, r.Status, r.Provider, r.LocalPath, r.RemotePath, step, synced, failed)
		}

		return nil
	},
}

var rootAddCmd = &cobra.Command{
	Use:   "add [local] [remote]",
	Short: "Add a new sync root",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := fmt.Sprintf(`{"local_path":"%s", "remote_path":"%s", "provider":"%s"}`,
			args[0], args[1], strings.ToUpper(rootProvider))
		resp, err := http.Post(
			daemonURL("/roots"),
			"application/json",
			strings.NewReader(body))

		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		if resp.StatusCode != http.StatusCreated {
			var result map[string]string
			_ = json.NewDecoder(resp.Body).Decode(&result)
			return fmt.Errorf("failed to add sync root: %s", result["error"])
		}

		var result map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&result)
		fmt.Printf("sync root added: id=%v local=%s remote=%s\n", result["ID"], args[0], args[1])
		return nil
	},
}

var rootRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a sync root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, _ := http.NewRequest(http.MethodDelete, daemonURL("/roots/"+args[0]), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		fmt.Printf("sync root %s removed\n", args[0])
		return nil
	},
}

var rootPauseCmd = &cobra.Command{
	Use:   "pause [id]",
	Short: "Pause a sync root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(daemonURL("/roots/"+args[0]+"/pause"), "application/json", nil)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		fmt.Printf("sync root %s paused\n", args[0])
		return nil
	},
}

var rootResumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a sync root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Post(daemonURL("/roots/"+args[0]+"/resume"), "application/json", nil)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		fmt.Printf("sync root %s resumed\n", args[0])
		return nil
	},
}

func init() {
	rootAddCmd.Flags().StringVar(&rootProvider, "provider", "gdrive", "Remote provider (gdrive, dropbox, memory)")
	syncRootCmd.AddCommand(rootListCmd, rootAddCmd, rootRemoveCmd, rootPauseCmd, rootResumeCmd)
	rootCmd.AddCommand(syncRootCmd)
}
