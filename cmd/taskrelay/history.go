package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mkirch/taskrelay/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "sync",
	Short:   "Show past synchronization passes",
	Long: `List completed synchronization passes, newest first.

The --since filter accepts RFC 3339 timestamps or natural language:
  taskrelay history --since "2 hours ago"
  taskrelay history --since yesterday
  taskrelay history --since 2026-08-20T00:00:00Z`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		limit, _ := cmd.Flags().GetInt("limit")

		var since *time.Time
		if raw, _ := cmd.Flags().GetString("since"); raw != "" {
			at, err := parseSince(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			since = &at
		}

		passes, err := st.ListSyncPasses(since, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing history: %v\n", err)
			os.Exit(1)
		}

		if len(passes) == 0 {
			fmt.Println("No sync passes recorded")
			return
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("🕘"), ui.RenderTitle("Sync History"))
		for _, p := range passes {
			marker := ui.RenderPass("✓")
			if !p.Success {
				marker = ui.RenderErr("✗")
			}
			duration := p.FinishedAt.Sub(p.StartedAt).Round(time.Millisecond)
			fmt.Printf("%s %s  %v  synced %d, failed %d",
				marker,
				p.FinishedAt.Local().Format("2006-01-02 15:04:05"),
				duration,
				p.SyncedItems,
				p.FailedItems,
			)
			if p.ErrorCount > 0 {
				fmt.Printf("  %s", ui.RenderWarn(fmt.Sprintf("%d event(s)", p.ErrorCount)))
			}
			fmt.Println()
		}
		fmt.Println()
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of passes to show")
	historyCmd.Flags().String("since", "", "Only passes finished after this time")

	rootCmd.AddCommand(historyCmd)
}

// parseSince accepts an RFC 3339 timestamp or a natural language phrase
// like "2 hours ago" or "yesterday".
func parseSince(raw string) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(raw, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", raw, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", raw)
	}
	return r.Time, nil
}
