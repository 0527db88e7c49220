package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/mkirch/taskrelay/internal/ui"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	GroupID: "sync",
	Short:   "Inspect and manage the pending intent queue",
	Long: `Work with the queue of mutations awaiting reconciliation.

Every local change (create, update, delete) adds one intent to the queue.
Intents leave the queue only when the authority confirms them; failures
keep their place and are retried on later passes.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued intents oldest first",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		intents, err := st.ListPendingIntents()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing queue: %v\n", err)
			os.Exit(1)
		}

		if len(intents) == 0 {
			fmt.Println("Queue is empty")
			return
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📮"), ui.RenderTitle("Pending Intents"))
		for _, in := range intents {
			age := time.Since(in.CreatedAt).Round(time.Second)
			fmt.Printf("%-6s task %s  queued %s ago", in.Operation, ui.RenderMuted(shortID(in.TaskID)), age)
			if in.RetryCount > 0 {
				fmt.Printf("  %s", ui.RenderWarn(fmt.Sprintf("retries: %d", in.RetryCount)))
			}
			fmt.Println()
			if in.ErrorMessage != "" {
				fmt.Printf("       %s\n", ui.RenderErr(in.ErrorMessage))
			}
		}
		fmt.Println()
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Reset retry counters so failed intents are attempted again",
	Long: `Reset the retry counter and error message on queued intents and flip
their tasks out of the error state. With a task id only that task's
intents are reset; without one, every intent in the queue is.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		taskID := ""
		if len(args) == 1 {
			taskID = resolveTaskID(st, args[0])
		}

		n, err := st.ResetIntentFailures(taskID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resetting intents: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Reset %d intent(s)\n", ui.RenderPass("✓"), n)
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every queued intent",
	Long: `Remove every intent from the queue without submitting them.

Cleared changes never reach the authority; the tasks themselves stay in
the local store as they are. This cannot be undone.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		count, err := st.PendingIntentCount()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error counting queue: %v\n", err)
			os.Exit(1)
		}
		if count == 0 {
			fmt.Println("Queue is already empty")
			return
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			confirmed := false
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewConfirm().
						Title(fmt.Sprintf("Remove all %d queued intent(s)?", count)).
						Description("These changes will never reach the authority.").
						Value(&confirmed),
				),
			)
			if err := form.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if !confirmed {
				fmt.Println("Aborted")
				return
			}
		}

		n, err := st.ClearQueue()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error clearing queue: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Removed %d intent(s)\n", ui.RenderPass("✓"), n)
	},
}

func init() {
	queueClearCmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRetryCmd)
	queueCmd.AddCommand(queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}
