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

var historyN int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently executed operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(fmt.Sprintf("%s?n=%d", daemonURL("/history"), historyN))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var histories []model.History
		if err := json.NewDecoder(resp.Body).Decode(&histories); err != nil {
			return fmt.Errorf("failed to decode history response: %w", err)
		}

		if len(histories) == 0 {
			fmt.Println("no history")
			return nil
		}

		fmt.Printf("%-20s %-8s %-8s %-8s %-40s %s\n",
			"TIME", "OP", "TARGET", "RESULT", "PATH", "ERROR")
		for _, h := range histories {
			fmt.Printf("%-20s %-8s %-8s %-8s %-40s %s\n",
				h.SyncedAt.Format(time.DateTime), h.OpKind, h.TargetSide, h.Outcome, h.Path, h.ErrMsg)
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyN, "number", "n", 20, "Number of entries to show")
	rootCmd.AddCommand(historyCmd)
}
