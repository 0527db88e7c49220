package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkirch/taskrelay/internal/store"
	"github.com/mkirch/taskrelay/internal/task"
	"github.com/mkirch/taskrelay/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <title>",
	GroupID: "tasks",
	Short:   "Add a task",
	Long: `Add a task to the local store.

The task starts in pending sync state and a create intent is queued, so
the next sync pass pushes it to the authority.

Example usage:
  taskrelay add "Write the quarterly report"
  taskrelay add "Call the vendor" -d "ask about the renewal terms"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		desc, _ := cmd.Flags().GetString("description")
		title := strings.Join(args, " ")

		t, err := st.CreateTask(title, desc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error adding task: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Added task %s\n", ui.RenderPass("✓"), ui.RenderMuted(t.ID))
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "tasks",
	Short:   "List tasks",
	Long: `List tasks in the local store. Deleted tasks are never shown.

Each line shows completion, sync state, title, and id:
  [ ] ↻ pending sync
  [x] ✓ synced
  [ ] ✗ sync failed past the retry ceiling

Example usage:
  taskrelay list
  taskrelay list --completed
  taskrelay list --status error`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		filter := store.ListTasksFilter{}
		if completed, _ := cmd.Flags().GetBool("completed"); completed {
			filter.Completed = &completed
		}
		if pending, _ := cmd.Flags().GetBool("pending"); pending {
			f := false
			filter.Completed = &f
		}
		if status, _ := cmd.Flags().GetString("status"); status != "" {
			filter.SyncStatus = task.SyncStatus(status)
		}
		if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
			filter.Limit = limit
		}

		tasks, err := st.ListActiveTasks(filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing tasks: %v\n", err)
			os.Exit(1)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("📋"), ui.RenderTitle("Tasks"))
		for _, t := range tasks {
			box := "[ ]"
			if t.Completed {
				box = "[x]"
			}
			fmt.Printf("%s %s %s %s\n", box, statusMarker(t.SyncStatus), t.Title, ui.RenderMuted(shortID(t.ID)))
			if t.Description != "" {
				fmt.Printf("      %s\n", ui.RenderMuted(t.Description))
			}
		}
		fmt.Println()
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	GroupID: "tasks",
	Short:   "Mark a task completed",
	Long: `Mark a task completed. The change queues an update intent for the next
sync pass. Ids may be abbreviated to any unique prefix.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		id := resolveTaskID(st, args[0])
		completed := true
		t, err := st.UpdateTask(id, store.UpdateTaskFields{Completed: &completed})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error completing task: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Completed %q\n", ui.RenderPass("✓"), t.Title)
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "tasks",
	Short:   "Edit a task's title or description",
	Long: `Edit a task. Only the provided flags change; the rest of the task is
left as it was. The change queues an update intent for the next sync pass.

Example usage:
  taskrelay edit 3f2a --title "Write the Q3 report"
  taskrelay edit 3f2a -d "due before the offsite"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		fields := store.UpdateTaskFields{}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			fields.Title = &title
		}
		if cmd.Flags().Changed("description") {
			desc, _ := cmd.Flags().GetString("description")
			fields.Description = &desc
		}
		if fields.Title == nil && fields.Description == nil {
			fmt.Fprintf(os.Stderr, "Error: nothing to change, pass --title or --description\n")
			os.Exit(1)
		}

		id := resolveTaskID(st, args[0])
		t, err := st.UpdateTask(id, fields)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error editing task: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Updated %q\n", ui.RenderPass("✓"), t.Title)
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	GroupID: "tasks",
	Short:   "Delete a task",
	Long: `Delete a task. The record is kept internally until the deletion has been
reconciled with the authority, but it disappears from every listing
immediately. Ids may be abbreviated to any unique prefix.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		id := resolveTaskID(st, args[0])
		if err := st.DeleteTask(id); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting task: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Deleted task %s\n", ui.RenderPass("✓"), ui.RenderMuted(shortID(id)))
	},
}

func init() {
	addCmd.Flags().StringP("description", "d", "", "Task description")

	listCmd.Flags().Bool("completed", false, "Only completed tasks")
	listCmd.Flags().Bool("pending", false, "Only open tasks")
	listCmd.Flags().String("status", "", "Filter by sync status (pending, synced, error)")
	listCmd.Flags().Int("limit", 0, "Maximum number of tasks to show")

	editCmd.Flags().String("title", "", "New title")
	editCmd.Flags().StringP("description", "d", "", "New description")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(rmCmd)
}

// statusMarker renders a one-glyph sync state indicator.
func statusMarker(s task.SyncStatus) string {
	switch s {
	case task.StatusSynced:
		return ui.RenderPass("✓")
	case task.StatusError:
		return ui.RenderErr("✗")
	default:
		return ui.RenderAccent("↻")
	}
}

// shortID abbreviates a task id for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// resolveTaskID expands an abbreviated id to the full one. Exact matches
// win; otherwise the prefix must identify exactly one task.
func resolveTaskID(st *store.Store, arg string) string {
	if _, err := st.GetTask(arg); err == nil {
		return arg
	} else if !errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(os.Stderr, "Error looking up task: %v\n", err)
		os.Exit(1)
	}

	tasks, err := st.ListActiveTasks(store.ListTasksFilter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing tasks: %v\n", err)
		os.Exit(1)
	}

	var matches []string
	for _, t := range tasks {
		if strings.HasPrefix(t.ID, arg) {
			matches = append(matches, t.ID)
		}
	}

	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fmt.Fprintf(os.Stderr, "Error: no task matches %q\n", arg)
	default:
		fmt.Fprintf(os.Stderr, "Error: %q is ambiguous, matches %d tasks\n", arg, len(matches))
	}
	os.Exit(1)
	return ""
}
