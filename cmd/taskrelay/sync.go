package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkirch/taskrelay/internal/sched"
	tasksync "github.com/mkirch/taskrelay/internal/sync"
	"github.com/mkirch/taskrelay/internal/task"
	"github.com/mkirch/taskrelay/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run a synchronization pass",
	Long: `Drain the pending intent queue against the authority.

The pass probes connectivity first; if the authority is unreachable
nothing is touched and the queue survives intact for the next attempt.
Queued intents are submitted oldest first in batches, conflicts are
resolved last-write-wins, and failures are retried on later passes up to
the retry ceiling.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		eng := tasksync.New(st, newAuthority(cfg, st), cfg.EngineConfig(), nil)

		fmt.Printf("%s Syncing...\n", ui.RenderAccent("🔄"))
		start := time.Now()

		result, err := eng.Sync(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		elapsed := time.Since(start)
		printSyncResult(result, elapsed)

		if !result.Success {
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status",
	Long: `Display the current synchronization state.

Shows:
  - Queue depth and authority reachability
  - Task counts by sync status
  - Last successful pass and the next scheduled one`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		eng := tasksync.New(st, newAuthority(cfg, st), cfg.EngineConfig(), nil)

		status, err := eng.Status(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
			os.Exit(1)
		}

		counts, err := st.TaskStatusCounts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting tasks: %v\n", err)
			os.Exit(1)
		}
		total := 0
		for _, n := range counts {
			total += n
		}

		authority := "loopback"
		if cfg.Sync.Endpoint != "" {
			authority = cfg.Sync.Endpoint
		}
		online := ui.RenderPass("yes")
		if !status.IsOnline {
			online = ui.RenderErr("no")
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📊"), ui.RenderTitle("Sync Status"))
		fmt.Printf("Database: %s\n", st.Path())
		fmt.Printf("Authority: %s\n", authority)
		fmt.Printf("Online: %s\n", online)
		fmt.Printf("Pending intents: %d\n", status.PendingCount)
		fmt.Printf("Tasks: %d total (%d synced, %d pending, %d error)\n",
			total,
			counts[task.StatusSynced],
			counts[task.StatusPending],
			counts[task.StatusError],
		)
		if status.LastSyncAt != nil {
			fmt.Printf("Last success: %s (%s ago)\n",
				status.LastSyncAt.Local().Format("2006-01-02 15:04:05"),
				time.Since(*status.LastSyncAt).Round(time.Second),
			)
		} else {
			fmt.Printf("Last success: %s\n", ui.RenderMuted("never"))
		}
		if cfg.Sync.AutoSchedule != "" {
			next, err := sched.NextRunTime(cfg.Sync.AutoSchedule, time.Now())
			if err == nil {
				fmt.Printf("Next scheduled: %s (cron: %s)\n",
					next.Local().Format("2006-01-02 15:04:05"), cfg.Sync.AutoSchedule)
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

// printSyncResult renders a pass result for the terminal.
func printSyncResult(result *tasksync.Result, elapsed time.Duration) {
	if result.Success {
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
	} else {
		fmt.Printf("%s Sync finished with failures in %v\n", ui.RenderWarn("⚠"), elapsed.Round(time.Millisecond))
	}
	fmt.Printf("   Synced: %d\n", result.SyncedItems)
	fmt.Printf("   Failed: %d\n", result.FailedItems)

	for _, e := range result.Errors {
		switch e.Kind {
		case tasksync.KindConflict:
			fmt.Printf("   %s %s %s: %s\n", ui.RenderWarn("⚠"), e.Operation, shortID(e.TaskID), e.Error)
		case tasksync.KindConnectivity:
			fmt.Printf("   %s %s\n", ui.RenderErr("✗"), e.Error)
		default:
			fmt.Printf("   %s %s %s: %s\n", ui.RenderErr("✗"), e.Operation, shortID(e.TaskID), e.Error)
		}
	}
}
