package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mkirch/taskrelay/internal/api"
	"github.com/mkirch/taskrelay/internal/config"
	"github.com/mkirch/taskrelay/internal/remote"
	"github.com/mkirch/taskrelay/internal/sched"
	tasksync "github.com/mkirch/taskrelay/internal/sync"
	"github.com/mkirch/taskrelay/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the HTTP API server (foreground)",
	Long: `Run the taskrelay server in foreground mode.

The server exposes:
  - Task CRUD under /api/tasks
  - Sync controls under /api/sync
  - A batch apply endpoint at /api/sync/batch, so other taskrelay
    instances can use this one as their authority via sync.endpoint
  - A WebSocket event feed at /ws

With sync.auto_schedule set, a background scheduler runs passes on that
cron cadence. Edits to the config file are picked up live: the schedule
is swapped without a restart, other changes take effect on the next one.

Example usage:
  taskrelay serve                # Port from config (default 8787)
  taskrelay serve --port 9000    # Override the port`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig(cmd)
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}

		logOut := io.Writer(os.Stderr)
		if cfg.Log.Path != "" {
			logOut = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   cfg.Log.Path,
				MaxSize:    cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
			})
		}

		st := openStore(cfg)
		defer st.Close()

		// The batch endpoint always applies against this instance's
		// authority state, even when this instance pushes its own queue
		// to an upstream endpoint.
		batchAuthority := remote.NewLoopback(st, log.New(logOut, "[remote] ", log.LstdFlags))
		engine := tasksync.New(st, newAuthority(cfg, st), cfg.EngineConfig(),
			log.New(logOut, "[sync] ", log.LstdFlags))

		server := api.NewServer(st, engine, batchAuthority, &api.Config{
			Port:   cfg.Server.Port,
			Logger: log.New(logOut, "[api] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Background passes on the configured cadence.
		scheduler, err := sched.New(sched.Config{
			Expr:   cfg.Sync.AutoSchedule,
			Logger: log.New(logOut, "[sched] ", log.LstdFlags),
			Trigger: func(ctx context.Context) error {
				result, err := engine.Sync(ctx)
				if errors.Is(err, tasksync.ErrSyncInProgress) {
					return nil
				}
				if err != nil {
					return err
				}
				server.BroadcastSyncResult(result)
				return nil
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		scheduler.Start(ctx)

		// Live config reload: only the sync schedule is hot-swappable.
		var watcher *config.Watcher
		var reloadWG stdsync.WaitGroup
		if cfg.File() != "" {
			watcher, err = config.NewWatcher(cfg.File(), log.New(logOut, "[config] ", log.LstdFlags))
			if err == nil {
				err = watcher.Start()
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: config watching disabled: %v\n", err)
				watcher = nil
			} else {
				reloadWG.Add(1)
				go func() {
					defer reloadWG.Done()
					for evt := range watcher.Events() {
						if evt.Err != nil {
							continue
						}
						if uerr := scheduler.Update(evt.Config.Sync.AutoSchedule); uerr != nil {
							fmt.Fprintf(os.Stderr, "Warning: %v\n", uerr)
						}
					}
				}()
			}
		}

		fmt.Printf("%s taskrelay server started\n", ui.RenderAccent("🚀"))
		fmt.Printf("   API: http://localhost:%d/api\n", cfg.Server.Port)
		fmt.Printf("   Events: ws://localhost:%d/ws\n", cfg.Server.Port)
		fmt.Printf("   Database: %s\n", st.Path())
		if cfg.Sync.AutoSchedule != "" {
			fmt.Printf("   Auto-sync: %s\n", cfg.Sync.AutoSchedule)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		scheduler.Stop()
		if watcher != nil {
			if err := watcher.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Error stopping watcher: %v\n", err)
			}
			reloadWG.Wait()
		}
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Server stopped")
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8787, "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
