// Command taskrelay is an offline-first task tracker. Mutations land in a
// local SQLite store and queue up for reconciliation with a remote
// authority; the sync commands drain that queue when connectivity allows.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkirch/taskrelay/internal/config"
	"github.com/mkirch/taskrelay/internal/remote"
	"github.com/mkirch/taskrelay/internal/store"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "taskrelay",
	Short: "Offline-first task tracking with queued sync",
	Long: `taskrelay keeps your tasks in a local SQLite database and records every
mutation as a queued intent. The sync engine drains that queue against a
remote authority in batches, resolving conflicts last-write-wins, so the
tracker stays fully usable with no connectivity at all.

Quick start:
  taskrelay add "Write the quarterly report"
  taskrelay list
  taskrelay sync
  taskrelay status`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("db", "", "Path to the task database (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves configuration honoring the persistent flags.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg
}

// openStore opens the task database and ensures its schema.
func openStore(cfg *config.Config) *store.Store {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
		os.Exit(1)
	}
	return st
}

// newAuthority selects the apply surface: the HTTP client when an
// endpoint is configured, the in-process loopback otherwise.
func newAuthority(cfg *config.Config, st *store.Store) remote.Remote {
	if cfg.Sync.Endpoint != "" {
		return remote.NewClient(cfg.Sync.Endpoint, nil)
	}
	return remote.NewLoopback(st, nil)
}
