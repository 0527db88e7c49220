package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkirch/taskrelay/internal/export"
	"github.com/mkirch/taskrelay/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export <file>",
	GroupID: "advanced",
	Short:   "Export tasks to a JSON or YAML file",
	Long: `Write every visible task to a portable dump file. The format follows
the file extension: .yaml/.yml for YAML, anything else for JSON.

Example usage:
  taskrelay export tasks.json
  taskrelay export backup.yaml`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		path := args[0]
		result, err := export.Export(context.Background(), st, path, export.DetectFormat(path))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Exported %d task(s) to %s\n", ui.RenderPass("✓"), result.Exported, path)
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "advanced",
	Short:   "Import tasks from a JSON or YAML dump",
	Long: `Load tasks from a dump file into the local store. Tasks whose id is
already present are skipped. Imported tasks are marked pending, so the
next sync pass pushes them to the authority.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		st := openStore(cfg)
		defer st.Close()

		path := args[0]
		result, err := export.Import(context.Background(), st, path, export.DetectFormat(path))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Imported %d task(s)", ui.RenderPass("✓"), result.Imported)
		if result.Skipped > 0 {
			fmt.Printf(", skipped %d duplicate(s)", result.Skipped)
		}
		fmt.Println()

		for _, msg := range result.Errors {
			fmt.Printf("   %s %s\n", ui.RenderErr("✗"), msg)
		}
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
